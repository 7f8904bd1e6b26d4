// Package redisstore keeps refresh tokens in Redis. Keys expire with the
// token, so expired records never need purging.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mock-auth-api/internal/storage"
)

const rotateScript = `
if ARGV[1] ~= "" then
  if redis.call("DEL", KEYS[1]) == 0 then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`

var rotateLua = redis.NewScript(rotateScript)

type Store struct {
	client *redis.Client
	prefix string
}

// New returns a store that namespaces its keys under prefix.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Rotate(ctx context.Context, oldToken, newToken string, record storage.RefreshTokenRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode refresh token: %w", err)
	}

	rotated, err := rotateLua.Run(ctx, s.client,
		[]string{s.key(oldToken), s.key(newToken)},
		oldToken, string(payload), ttlMillis(record.ExpiresAt),
	).Int()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if rotated == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, token string) (storage.RefreshTokenRecord, error) {
	raw, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.RefreshTokenRecord{}, storage.ErrNotFound
		}
		return storage.RefreshTokenRecord{}, fmt.Errorf("get refresh token: %w", err)
	}

	var record storage.RefreshTokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return storage.RefreshTokenRecord{}, fmt.Errorf("decode refresh token: %w", err)
	}
	return record, nil
}

func (s *Store) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires the keys itself.
func (s *Store) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) key(token string) string {
	return s.prefix + "refresh:" + token
}

func ttlMillis(expiresAt time.Time) int64 {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt).Milliseconds()
	if ttl < 1 {
		return 1
	}
	return ttl
}
