package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mock-auth-api/internal/storage"
)

func (s *Store) ListUsers(ctx context.Context) ([]storage.User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, email, password
		FROM users
		ORDER BY id ASC
	`))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]storage.User, 0)
	for rows.Next() {
		var user storage.User
		if err := rows.Scan(&user.ID, &user.Email, &user.Password); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (s *Store) FindUserByCredentials(ctx context.Context, email, password string) (storage.User, error) {
	return s.findUser(ctx, s.q(`
		SELECT id, email, password
		FROM users
		WHERE email = $1 AND password = $2
		ORDER BY id ASC
		LIMIT 1
	`), email, password)
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (storage.User, error) {
	return s.findUser(ctx, s.q(`
		SELECT id, email, password
		FROM users
		WHERE id = $1
	`), id)
}

func (s *Store) findUser(ctx context.Context, query string, args ...any) (storage.User, error) {
	var user storage.User
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.Email, &user.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, email, password string, policy storage.ConflictPolicy) (storage.User, error) {
	var user storage.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		conflictQuery := `SELECT COUNT(*) FROM users WHERE email = $1 AND password = $2`
		conflictArgs := []any{email, password}
		if policy == storage.ConflictOnEmail {
			conflictQuery = `SELECT COUNT(*) FROM users WHERE email = $1`
			conflictArgs = conflictArgs[:1]
		}

		var conflicts int
		if err := tx.QueryRowContext(ctx, s.q(conflictQuery), conflictArgs...).Scan(&conflicts); err != nil {
			return fmt.Errorf("check user conflict: %w", err)
		}
		if conflicts > 0 {
			return storage.ErrConflict
		}

		var lastID int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM users ORDER BY id DESC LIMIT 1`)).Scan(&lastID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrEmptyUserList
			}
			return fmt.Errorf("select last user: %w", err)
		}

		user = storage.User{ID: lastID + 1, Email: email, Password: password}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO users (id, email, password)
			VALUES ($1, $2, $3)
		`), user.ID, user.Email, user.Password); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.User{}, err
	}

	return user, nil
}

func (s *Store) SeedUser(ctx context.Context, email, password string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM users`)).Scan(&count); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if count > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO users (id, email, password)
			VALUES (1, $1, $2)
		`), email, password); err != nil {
			return fmt.Errorf("insert seed user: %w", err)
		}
		return nil
	})
}
