package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mock-auth-api/internal/storage"
)

func (s *Store) Rotate(ctx context.Context, oldToken, newToken string, record storage.RefreshTokenRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if oldToken != "" {
			res, err := tx.ExecContext(ctx, s.q(`
				DELETE FROM refresh_tokens
				WHERE token = $1
			`), oldToken)
			if err != nil {
				return fmt.Errorf("delete rotated refresh token: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rotated refresh token rows affected: %w", err)
			}
			if affected == 0 {
				return storage.ErrNotFound
			}
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO refresh_tokens (token, email, expires_at)
			VALUES ($1, $2, $3)
		`), newToken, record.Email, unixOrNull(record.ExpiresAt)); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}
		return nil
	})
}

func (s *Store) Lookup(ctx context.Context, token string) (storage.RefreshTokenRecord, error) {
	var record storage.RefreshTokenRecord
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT email, expires_at
		FROM refresh_tokens
		WHERE token = $1
	`), token).Scan(&record.Email, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RefreshTokenRecord{}, storage.ErrNotFound
		}
		return storage.RefreshTokenRecord{}, fmt.Errorf("query refresh token: %w", err)
	}
	if expiresAt.Valid {
		record.ExpiresAt = time.Unix(expiresAt.Int64, 0).UTC()
	}

	return record, nil
}

func (s *Store) Revoke(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM refresh_tokens
		WHERE token = $1
	`), token); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM refresh_tokens
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func unixOrNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
