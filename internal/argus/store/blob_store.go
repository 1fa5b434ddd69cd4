package store

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned by BlobStore.GetBlob when no blob exists under
// the requested name.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists opaque, already-sealed byte blobs by name.  It never
// sees plaintext; the vault package is the only caller in production.
type BlobStore interface {
	PutBlob(ctx context.Context, name string, data []byte) error
	GetBlob(ctx context.Context, name string) ([]byte, error)
	DeleteBlob(ctx context.Context, name string) error
}
