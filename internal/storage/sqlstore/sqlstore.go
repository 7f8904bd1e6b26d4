// Package sqlstore implements the storage contracts on database/sql for
// PostgreSQL (pgx) and SQLite (modernc). Queries are written with $N
// placeholders and rebound for SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"mock-auth-api/internal/db"
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

// New wraps an open handle. The caller keeps ownership of database unless it
// closes the Store.
func New(database *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: database, dialect: dialect}
}

// OpenPostgres connects through pgx and optionally applies migrations.
func OpenPostgres(ctx context.Context, databaseURL string, pool db.PoolOptions, migrate bool) (*Store, error) {
	database, err := db.Open(ctx, "pgx", databaseURL, pool)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.RunMigrations(ctx, database, db.Postgres); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return New(database, db.Postgres), nil
}

// OpenSQLite opens the database file at path and always applies migrations.
// A single connection serializes writers, which SQLite requires anyway.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	database, err := db.Open(ctx, "sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", db.PoolOptions{})
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, database, db.SQLite); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	database.SetMaxOpenConns(1)
	return New(database, db.SQLite), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	if s.dialect == db.SQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
