package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

func RunMigrations(ctx context.Context, database *sql.DB, dialect Dialect) error {
	dir, err := migrationDir(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set migration dialect %s: %w", dialect, err)
	}
	if err := goose.UpContext(ctx, database, dir); err != nil {
		return fmt.Errorf("apply %s migrations: %w", dialect, err)
	}

	return nil
}

func migrationDir(dialect Dialect) (string, error) {
	switch dialect {
	case Postgres:
		return "migrations/postgres", nil
	case SQLite:
		return "migrations/sqlite", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect: %s", dialect)
	}
}

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open opens and pings a database/sql handle for driverName.
func Open(ctx context.Context, driverName, dsn string, pool PoolOptions) (*sql.DB, error) {
	database, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		database.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		database.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		database.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		database.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return database, nil
}
