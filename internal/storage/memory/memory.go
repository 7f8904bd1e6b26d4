// Package memory is an in-process storage backend guarded by a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mock-auth-api/internal/storage"
)

type Store struct {
	mu            sync.Mutex
	users         []storage.User
	refreshTokens map[string]storage.RefreshTokenRecord
	collections   map[string][]storage.Document
}

func New(users ...storage.User) *Store {
	return &Store{
		users:         append([]storage.User(nil), users...),
		refreshTokens: make(map[string]storage.RefreshTokenRecord),
		collections:   make(map[string][]storage.Document),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) ListUsers(_ context.Context) ([]storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]storage.User(nil), s.users...), nil
}

func (s *Store) FindUserByCredentials(_ context.Context, email, password string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email && user.Password == password {
			return user, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) FindUserByID(_ context.Context, id int64) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, email, password string, policy storage.ConflictPolicy) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if policy.Conflicts(user, email, password) {
			return storage.User{}, storage.ErrConflict
		}
	}
	if len(s.users) == 0 {
		return storage.User{}, storage.ErrEmptyUserList
	}

	user := storage.User{ID: s.users[len(s.users)-1].ID + 1, Email: email, Password: password}
	s.users = append(s.users, user)
	return user, nil
}

func (s *Store) SeedUser(_ context.Context, email, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.users) > 0 {
		return nil
	}
	s.users = append(s.users, storage.User{ID: 1, Email: email, Password: password})
	return nil
}

func (s *Store) Rotate(_ context.Context, oldToken, newToken string, record storage.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldToken != "" {
		if _, ok := s.refreshTokens[oldToken]; !ok {
			return storage.ErrNotFound
		}
		delete(s.refreshTokens, oldToken)
	}
	s.refreshTokens[newToken] = record
	return nil
}

func (s *Store) Lookup(_ context.Context, token string) (storage.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.refreshTokens[token]
	if !ok {
		return storage.RefreshTokenRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *Store) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	return nil
}

func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for token, record := range s.refreshTokens {
		if record.Expired(now) {
			delete(s.refreshTokens, token)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) ListDocuments(_ context.Context, collection string) ([]storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	out := make([]storage.Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (s *Store) GetDocument(_ context.Context, collection string, id int64) (storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(collection, id)
	if idx < 0 {
		return nil, storage.ErrNotFound
	}
	return s.collections[collection][idx].Clone(), nil
}

func (s *Store) CreateDocument(_ context.Context, collection string, doc storage.Document) (storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := doc.WithID(storage.NextDocumentID(s.collections[collection]))
	s.collections[collection] = append(s.collections[collection], stored)
	return stored.Clone(), nil
}

func (s *Store) ReplaceDocument(_ context.Context, collection string, id int64, doc storage.Document) (storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(collection, id)
	if idx < 0 {
		return nil, storage.ErrNotFound
	}
	stored := doc.WithID(id)
	s.collections[collection][idx] = stored
	return stored.Clone(), nil
}

func (s *Store) PatchDocument(_ context.Context, collection string, id int64, patch storage.Document) (storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(collection, id)
	if idx < 0 {
		return nil, storage.ErrNotFound
	}
	stored := s.collections[collection][idx].Merge(patch)
	s.collections[collection][idx] = stored
	return stored.Clone(), nil
}

func (s *Store) DeleteDocument(_ context.Context, collection string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(collection, id)
	if idx < 0 {
		return storage.ErrNotFound
	}
	docs := s.collections[collection]
	s.collections[collection] = append(docs[:idx:idx], docs[idx+1:]...)
	return nil
}

// Tokens returns the stored refresh tokens in sorted order.
func (s *Store) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.refreshTokens))
	for token := range s.refreshTokens {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

func (s *Store) indexOf(collection string, id int64) int {
	for i, doc := range s.collections[collection] {
		if docID, ok := doc.ID(); ok && docID == id {
			return i
		}
	}
	return -1
}
