package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	dbpkg "github.com/BrandonDHaskell/Argus/server/internal/db"
)

// BlobStore keeps sealed blobs in the blobs table.  Writes go through the
// single-writer worker; reads use the pool directly.
type BlobStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewBlobStore(db *sql.DB, writer *dbpkg.Worker) *BlobStore {
	return &BlobStore{db: db, writer: writer}
}

func (s *BlobStore) PutBlob(ctx context.Context, name string, data []byte) error {
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(context.WithoutCancel(ctx), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO blobs(name, data, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  data = excluded.data,
  updated_at_ms = excluded.updated_at_ms;
`, name, data, nowMs); err != nil {
			return fmt.Errorf("PutBlob %s: %w", name, err)
		}
		return nil
	})
}

func (s *BlobStore) GetBlob(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?;`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetBlob %s: %w", name, err)
	}
	return data, nil
}

func (s *BlobStore) DeleteBlob(ctx context.Context, name string) error {
	return s.writer.Do(context.WithoutCancel(ctx), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE name = ?;`, name); err != nil {
			return fmt.Errorf("DeleteBlob %s: %w", name, err)
		}
		return nil
	})
}
