// Package filestore keeps users, documents and refresh tokens in two JSON
// documents on disk. Every operation reads the whole document and every
// mutation rewrites it; a mutex serializes the read-modify-write cycles and
// writes go through a temp file and rename.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mock-auth-api/internal/storage"
)

const usersKey = "users"

type Store struct {
	mu                sync.Mutex
	databasePath      string
	refreshTokensPath string
}

type refreshTokensFile struct {
	RefreshTokens map[string]storage.RefreshTokenRecord `json:"refreshTokens"`
}

func New(databasePath, refreshTokensPath string) (*Store, error) {
	if databasePath == "" || refreshTokensPath == "" {
		return nil, errors.New("database and refresh token file paths are required")
	}
	for _, path := range []string{databasePath, refreshTokensPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return &Store{databasePath: databasePath, refreshTokensPath: refreshTokensPath}, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readDatabase(); err != nil {
		return err
	}
	_, err := s.readRefreshTokens()
	return err
}

func (s *Store) Close() error { return nil }

func (s *Store) ListUsers(_ context.Context) ([]storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.readDatabase()
	if err != nil {
		return nil, err
	}
	return db.users()
}

func (s *Store) FindUserByCredentials(_ context.Context, email, password string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return storage.User{}, err
	}
	for _, user := range users {
		if user.Email == email && user.Password == password {
			return user, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) FindUserByID(_ context.Context, id int64) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return storage.User{}, err
	}
	for _, user := range users {
		if user.ID == id {
			return user, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, email, password string, policy storage.ConflictPolicy) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.readDatabase()
	if err != nil {
		return storage.User{}, err
	}
	users, err := db.users()
	if err != nil {
		return storage.User{}, err
	}
	for _, user := range users {
		if policy.Conflicts(user, email, password) {
			return storage.User{}, storage.ErrConflict
		}
	}
	if len(users) == 0 {
		return storage.User{}, storage.ErrEmptyUserList
	}

	user := storage.User{ID: users[len(users)-1].ID + 1, Email: email, Password: password}
	if err := db.setUsers(append(users, user)); err != nil {
		return storage.User{}, err
	}
	if err := s.writeDatabase(db); err != nil {
		return storage.User{}, err
	}
	return user, nil
}

func (s *Store) SeedUser(_ context.Context, email, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	users, err := db.users()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if err := db.setUsers([]storage.User{{ID: 1, Email: email, Password: password}}); err != nil {
		return err
	}
	return s.writeDatabase(db)
}

func (s *Store) Rotate(_ context.Context, oldToken, newToken string, record storage.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readRefreshTokens()
	if err != nil {
		return err
	}
	if oldToken != "" {
		if _, ok := tokens[oldToken]; !ok {
			return storage.ErrNotFound
		}
		delete(tokens, oldToken)
	}
	tokens[newToken] = record
	return s.writeRefreshTokens(tokens)
}

func (s *Store) Lookup(_ context.Context, token string) (storage.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readRefreshTokens()
	if err != nil {
		return storage.RefreshTokenRecord{}, err
	}
	record, ok := tokens[token]
	if !ok {
		return storage.RefreshTokenRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *Store) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readRefreshTokens()
	if err != nil {
		return err
	}
	if _, ok := tokens[token]; !ok {
		return nil
	}
	delete(tokens, token)
	return s.writeRefreshTokens(tokens)
}

func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readRefreshTokens()
	if err != nil {
		return 0, err
	}
	var purged int64
	for token, record := range tokens {
		if record.Expired(now) {
			delete(tokens, token)
			purged++
		}
	}
	if purged == 0 {
		return 0, nil
	}
	if err := s.writeRefreshTokens(tokens); err != nil {
		return 0, err
	}
	return purged, nil
}

func (s *Store) ListDocuments(_ context.Context, collection string) ([]storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.readDatabase()
	if err != nil {
		return nil, err
	}
	return db.documents(collection)
}

func (s *Store) GetDocument(_ context.Context, collection string, id int64) (storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.readDatabase()
	if err != nil {
		return nil, err
	}
	docs, err := db.documents(collection)
	if err != nil {
		return nil, err
	}
	idx := indexOf(docs, id)
	if idx < 0 {
		return nil, storage.ErrNotFound
	}
	return docs[idx], nil
}

func (s *Store) CreateDocument(_ context.Context, collection string, doc storage.Document) (storage.Document, error) {
	var created storage.Document
	err := s.mutateCollection(collection, func(docs []storage.Document) ([]storage.Document, error) {
		created = doc.WithID(storage.NextDocumentID(docs))
		return append(docs, created), nil
	})
	return created, err
}

func (s *Store) ReplaceDocument(_ context.Context, collection string, id int64, doc storage.Document) (storage.Document, error) {
	var replaced storage.Document
	err := s.mutateCollection(collection, func(docs []storage.Document) ([]storage.Document, error) {
		idx := indexOf(docs, id)
		if idx < 0 {
			return nil, storage.ErrNotFound
		}
		replaced = doc.WithID(id)
		docs[idx] = replaced
		return docs, nil
	})
	return replaced, err
}

func (s *Store) PatchDocument(_ context.Context, collection string, id int64, patch storage.Document) (storage.Document, error) {
	var patched storage.Document
	err := s.mutateCollection(collection, func(docs []storage.Document) ([]storage.Document, error) {
		idx := indexOf(docs, id)
		if idx < 0 {
			return nil, storage.ErrNotFound
		}
		patched = docs[idx].Merge(patch)
		docs[idx] = patched
		return docs, nil
	})
	return patched, err
}

func (s *Store) DeleteDocument(_ context.Context, collection string, id int64) error {
	return s.mutateCollection(collection, func(docs []storage.Document) ([]storage.Document, error) {
		idx := indexOf(docs, id)
		if idx < 0 {
			return nil, storage.ErrNotFound
		}
		return append(docs[:idx:idx], docs[idx+1:]...), nil
	})
}

func (s *Store) mutateCollection(collection string, fn func([]storage.Document) ([]storage.Document, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.readDatabase()
	if err != nil {
		return err
	}
	docs, err := db.documents(collection)
	if err != nil {
		return err
	}
	docs, err = fn(docs)
	if err != nil {
		return err
	}
	if err := db.setDocuments(collection, docs); err != nil {
		return err
	}
	return s.writeDatabase(db)
}

func (s *Store) loadUsers() ([]storage.User, error) {
	db, err := s.readDatabase()
	if err != nil {
		return nil, err
	}
	return db.users()
}

// database is the raw top-level object of the database file. Collections are
// decoded lazily so unknown shapes written by hand survive a rewrite.
type database map[string]json.RawMessage

func (db database) users() ([]storage.User, error) {
	raw, ok := db[usersKey]
	if !ok {
		return []storage.User{}, nil
	}
	var users []storage.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (db database) setUsers(users []storage.User) error {
	raw, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	db[usersKey] = raw
	return nil
}

func (db database) documents(collection string) ([]storage.Document, error) {
	raw, ok := db[collection]
	if !ok {
		return []storage.Document{}, nil
	}
	var docs []storage.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode collection %s: %w", collection, err)
	}
	return docs, nil
}

func (db database) setDocuments(collection string, docs []storage.Document) error {
	raw, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", collection, err)
	}
	db[collection] = raw
	return nil
}

func (s *Store) readDatabase() (database, error) {
	db := database{}
	found, err := readJSON(s.databasePath, &db)
	if err != nil {
		return nil, fmt.Errorf("read database file: %w", err)
	}
	if !found || db == nil {
		db = database{usersKey: json.RawMessage("[]")}
	}
	return db, nil
}

func (s *Store) writeDatabase(db database) error {
	if err := writeJSON(s.databasePath, db); err != nil {
		return fmt.Errorf("write database file: %w", err)
	}
	return nil
}

func (s *Store) readRefreshTokens() (map[string]storage.RefreshTokenRecord, error) {
	var file refreshTokensFile
	if _, err := readJSON(s.refreshTokensPath, &file); err != nil {
		return nil, fmt.Errorf("read refresh tokens file: %w", err)
	}
	if file.RefreshTokens == nil {
		file.RefreshTokens = make(map[string]storage.RefreshTokenRecord)
	}
	return file.RefreshTokens, nil
}

func (s *Store) writeRefreshTokens(tokens map[string]storage.RefreshTokenRecord) error {
	if err := writeJSON(s.refreshTokensPath, refreshTokensFile{RefreshTokens: tokens}); err != nil {
		return fmt.Errorf("write refresh tokens file: %w", err)
	}
	return nil
}

func readJSON(path string, dst any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func indexOf(docs []storage.Document, id int64) int {
	for i, doc := range docs {
		if docID, ok := doc.ID(); ok && docID == id {
			return i
		}
	}
	return -1
}
