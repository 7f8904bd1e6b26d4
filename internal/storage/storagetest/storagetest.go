// Package storagetest holds the behavioural suite every storage backend must
// pass. Backends call the Run* functions from their own tests.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mock-auth-api/internal/storage"
)

// RunUsers exercises storage.Users against a fresh, empty store per subtest.
func RunUsers(t *testing.T, newStore func(t *testing.T) storage.Users) {
	t.Helper()
	ctx := context.Background()

	t.Run("create fails on empty user list", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateUser(ctx, "x@y.com", "p1", storage.ConflictOnCredentials)
		require.ErrorIs(t, err, storage.ErrEmptyUserList)
	})

	t.Run("seed then create assigns last id plus one", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SeedUser(ctx, "admin@example.com", "admin"))
		require.NoError(t, s.SeedUser(ctx, "other@example.com", "other"))

		created, err := s.CreateUser(ctx, "x@y.com", "p1", storage.ConflictOnCredentials)
		require.NoError(t, err)
		assert.Equal(t, int64(2), created.ID)
		assert.Equal(t, "x@y.com", created.Email)

		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "admin@example.com", users[0].Email)
	})

	t.Run("credential conflict policy", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SeedUser(ctx, "admin@example.com", "admin"))

		_, err := s.CreateUser(ctx, "x@y.com", "p1", storage.ConflictOnCredentials)
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, "x@y.com", "p1", storage.ConflictOnCredentials)
		require.ErrorIs(t, err, storage.ErrConflict)

		other, err := s.CreateUser(ctx, "x@y.com", "p2", storage.ConflictOnCredentials)
		require.NoError(t, err)
		assert.Equal(t, int64(3), other.ID)
	})

	t.Run("email conflict policy", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SeedUser(ctx, "admin@example.com", "admin"))

		_, err := s.CreateUser(ctx, "admin@example.com", "different", storage.ConflictOnEmail)
		require.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("find by credentials and id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SeedUser(ctx, "admin@example.com", "admin"))

		user, err := s.FindUserByCredentials(ctx, "admin@example.com", "admin")
		require.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)

		_, err = s.FindUserByCredentials(ctx, "admin@example.com", "wrong")
		require.ErrorIs(t, err, storage.ErrNotFound)

		byID, err := s.FindUserByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "admin@example.com", byID.Email)

		_, err = s.FindUserByID(ctx, 42)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

// RunRefreshTokens exercises storage.RefreshTokens against a fresh store per
// subtest.
func RunRefreshTokens(t *testing.T, newStore func(t *testing.T) storage.RefreshTokens) {
	t.Helper()
	ctx := context.Background()
	future := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	t.Run("insert and lookup", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Rotate(ctx, "", "tok-1", storage.RefreshTokenRecord{Email: "a@b.com", ExpiresAt: future}))

		record, err := s.Lookup(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", record.Email)
		assert.True(t, record.ExpiresAt.Equal(future))

		_, err = s.Lookup(ctx, "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("rotation invalidates the old token", func(t *testing.T) {
		s := newStore(t)
		record := storage.RefreshTokenRecord{Email: "a@b.com", ExpiresAt: future}
		require.NoError(t, s.Rotate(ctx, "", "tok-1", record))
		require.NoError(t, s.Rotate(ctx, "tok-1", "tok-2", record))

		_, err := s.Lookup(ctx, "tok-1")
		require.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.Lookup(ctx, "tok-2")
		require.NoError(t, err)

		err = s.Rotate(ctx, "tok-1", "tok-3", record)
		require.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.Lookup(ctx, "tok-3")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("concurrent rotations of one token have a single winner", func(t *testing.T) {
		s := newStore(t)
		record := storage.RefreshTokenRecord{Email: "a@b.com", ExpiresAt: future}
		require.NoError(t, s.Rotate(ctx, "", "root", record))

		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.Rotate(ctx, "root", "next-"+string(rune('a'+i)), record)
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, storage.ErrNotFound)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Rotate(ctx, "", "tok-1", storage.RefreshTokenRecord{Email: "a@b.com", ExpiresAt: future}))
		require.NoError(t, s.Revoke(ctx, "tok-1"))
		require.NoError(t, s.Revoke(ctx, "tok-1"))

		_, err := s.Lookup(ctx, "tok-1")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

// RunPurge checks that only expired refresh tokens are purged. Backends that
// expire records on their own skip it.
func RunPurge(t *testing.T, newStore func(t *testing.T) storage.RefreshTokens) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	s := newStore(t)
	require.NoError(t, s.Rotate(ctx, "", "expired", storage.RefreshTokenRecord{Email: "a@b.com", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Rotate(ctx, "", "live", storage.RefreshTokenRecord{Email: "a@b.com", ExpiresAt: now.Add(time.Hour)}))

	purged, err := s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = s.Lookup(ctx, "expired")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Lookup(ctx, "live")
	require.NoError(t, err)
}

// RunDocuments exercises storage.Documents against a fresh store per subtest.
func RunDocuments(t *testing.T, newStore func(t *testing.T) storage.Documents) {
	t.Helper()
	ctx := context.Background()

	t.Run("crud round trip", func(t *testing.T) {
		s := newStore(t)

		docs, err := s.ListDocuments(ctx, "posts")
		require.NoError(t, err)
		assert.Empty(t, docs)

		first, err := s.CreateDocument(ctx, "posts", storage.Document{"title": "hello", "id": 99})
		require.NoError(t, err)
		firstID, ok := first.ID()
		require.True(t, ok)
		assert.Equal(t, int64(1), firstID)

		second, err := s.CreateDocument(ctx, "posts", storage.Document{"title": "world"})
		require.NoError(t, err)
		secondID, _ := second.ID()
		assert.Equal(t, int64(2), secondID)

		got, err := s.GetDocument(ctx, "posts", 1)
		require.NoError(t, err)
		assert.Equal(t, "hello", got["title"])

		patched, err := s.PatchDocument(ctx, "posts", 1, storage.Document{"views": 3, "id": 7})
		require.NoError(t, err)
		patchedID, _ := patched.ID()
		assert.Equal(t, int64(1), patchedID)
		assert.Equal(t, "hello", patched["title"])
		assert.EqualValues(t, 3, patched["views"])

		replaced, err := s.ReplaceDocument(ctx, "posts", 1, storage.Document{"body": "new"})
		require.NoError(t, err)
		assert.NotContains(t, replaced, "title")
		assert.Equal(t, "new", replaced["body"])

		require.NoError(t, s.DeleteDocument(ctx, "posts", 1))
		_, err = s.GetDocument(ctx, "posts", 1)
		require.ErrorIs(t, err, storage.ErrNotFound)

		docs, err = s.ListDocuments(ctx, "posts")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		remainingID, _ := docs[0].ID()
		assert.Equal(t, int64(2), remainingID)
	})

	t.Run("missing documents", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetDocument(ctx, "posts", 1)
		require.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.ReplaceDocument(ctx, "posts", 1, storage.Document{})
		require.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.PatchDocument(ctx, "posts", 1, storage.Document{})
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.ErrorIs(t, s.DeleteDocument(ctx, "posts", 1), storage.ErrNotFound)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CreateDocument(ctx, "posts", storage.Document{"title": "a"})
		require.NoError(t, err)
		comment, err := s.CreateDocument(ctx, "comments", storage.Document{"body": "b"})
		require.NoError(t, err)
		commentID, _ := comment.ID()
		assert.Equal(t, int64(1), commentID)
	})
}
