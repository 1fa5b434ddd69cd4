package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
)

// BlobStore is an in-memory BlobStore.  It is intended for use in tests and
// dev environments.
type BlobStore struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	writeErr error
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (s *BlobStore) PutBlob(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (s *BlobStore) GetBlob(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[name]
	if !ok {
		return nil, store.ErrBlobNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *BlobStore) DeleteBlob(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	delete(s.blobs, name)
	return nil
}

// FailWrites makes every subsequent Put/Delete return err (nil restores
// normal behaviour).  Test-only helper.
func (s *BlobStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Corrupt flips one byte of the named blob in place.  Test-only helper.
func (s *BlobStore) Corrupt(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[name]
	if !ok || len(b) == 0 {
		return false
	}
	b[len(b)-1] ^= 0xff
	return true
}
