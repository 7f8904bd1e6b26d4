package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"mock-auth-api/internal/storage"
)

func (s *Store) ListDocuments(ctx context.Context, collection string) ([]storage.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT body
		FROM documents
		WHERE collection = $1
		ORDER BY id ASC
	`), collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]storage.Document, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, nil
}

func (s *Store) GetDocument(ctx context.Context, collection string, id int64) (storage.Document, error) {
	return s.getDocument(ctx, s.db, collection, id)
}

func (s *Store) CreateDocument(ctx context.Context, collection string, doc storage.Document) (storage.Document, error) {
	var created storage.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var nextID int64
		if err := tx.QueryRowContext(ctx, s.q(`
			SELECT COALESCE(MAX(id), 0) + 1
			FROM documents
			WHERE collection = $1
		`), collection).Scan(&nextID); err != nil {
			return fmt.Errorf("select next document id: %w", err)
		}

		created = doc.WithID(nextID)
		raw, err := json.Marshal(created)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO documents (collection, id, body)
			VALUES ($1, $2, $3)
		`), collection, nextID, string(raw)); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (s *Store) ReplaceDocument(ctx context.Context, collection string, id int64, doc storage.Document) (storage.Document, error) {
	replaced := doc.WithID(id)
	if err := s.updateDocument(ctx, s.db, collection, id, replaced); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *Store) PatchDocument(ctx context.Context, collection string, id int64, patch storage.Document) (storage.Document, error) {
	var patched storage.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getDocument(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		patched = current.Merge(patch)
		return s.updateDocument(ctx, tx, collection, id, patched)
	})
	if err != nil {
		return nil, err
	}

	return patched, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection string, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
	`), collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getDocument(ctx context.Context, q queryer, collection string, id int64) (storage.Document, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, s.q(`
		SELECT body
		FROM documents
		WHERE collection = $1 AND id = $2
	`), collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query document: %w", err)
	}

	return decodeDocument(raw)
}

func (s *Store) updateDocument(ctx context.Context, q queryer, collection string, id int64, doc storage.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	res, err := q.ExecContext(ctx, s.q(`
		UPDATE documents
		SET body = $3
		WHERE collection = $1 AND id = $2
	`), collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func decodeDocument(raw []byte) (storage.Document, error) {
	var doc storage.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
