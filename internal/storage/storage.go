// Package storage defines the persistence contracts shared by every backend:
// users, rotating refresh tokens and the schemaless documents behind the
// generic data router.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("already exists")
	ErrEmptyUserList = errors.New("user list is empty")
)

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Public returns the user without its password.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email}
}

type PublicUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type RefreshTokenRecord struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the record carries an expiry that is not after now.
func (r RefreshTokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ConflictPolicy decides which existing user blocks a registration.
type ConflictPolicy int

const (
	// ConflictOnCredentials rejects only an exact email and password match.
	ConflictOnCredentials ConflictPolicy = iota
	// ConflictOnEmail rejects any user that already owns the email.
	ConflictOnEmail
)

// Conflicts reports whether existing blocks registering email/password.
func (p ConflictPolicy) Conflicts(existing User, email, password string) bool {
	if p == ConflictOnEmail {
		return existing.Email == email
	}
	return existing.Email == email && existing.Password == password
}

type Users interface {
	ListUsers(ctx context.Context) ([]User, error)
	FindUserByCredentials(ctx context.Context, email, password string) (User, error)
	FindUserByID(ctx context.Context, id int64) (User, error)
	// CreateUser appends a user with id = last id + 1. It fails with
	// ErrConflict per policy and with ErrEmptyUserList when no user exists.
	CreateUser(ctx context.Context, email, password string, policy ConflictPolicy) (User, error)
	// SeedUser inserts a user with id 1 when the user list is empty.
	SeedUser(ctx context.Context, email, password string) error
}

type RefreshTokens interface {
	// Rotate removes oldToken and inserts newToken in one critical section.
	// An empty oldToken is a plain insert. A non-empty oldToken that is no
	// longer stored fails with ErrNotFound and inserts nothing.
	Rotate(ctx context.Context, oldToken, newToken string, record RefreshTokenRecord) error
	Lookup(ctx context.Context, token string) (RefreshTokenRecord, error)
	Revoke(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Document is one JSON object of a data collection. The "id" key holds its
// numeric identifier.
type Document map[string]any

type Documents interface {
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	GetDocument(ctx context.Context, collection string, id int64) (Document, error)
	CreateDocument(ctx context.Context, collection string, doc Document) (Document, error)
	ReplaceDocument(ctx context.Context, collection string, id int64, doc Document) (Document, error)
	PatchDocument(ctx context.Context, collection string, id int64, patch Document) (Document, error)
	DeleteDocument(ctx context.Context, collection string, id int64) error
}

// Store bundles the three contracts of one backend.
type Store interface {
	Users
	RefreshTokens
	Documents
	Ping(ctx context.Context) error
	Close() error
}
