package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
)

const (
	envelopeVersion byte = 1
	nonceSize            = 12
	hkdfInfo             = "argus/vault/v1 blob key"
)

var (
	// ErrNotFound is returned by Get when no blob exists under the name.
	ErrNotFound = errors.New("vault: blob not found")
	// ErrDecryption covers a wrong key, a corrupted envelope or tampering.
	ErrDecryption = errors.New("vault: decryption failed")
)

// StorageError wraps a failure of the underlying blob store.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vault: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Vault seals and opens named blobs with a process-wide key.  It is safe for
// concurrent use; the key is read-only after construction.
type Vault struct {
	aead  cipher.AEAD
	blobs store.BlobStore
}

// Open loads (or creates) the master key at keyPath and returns a Vault that
// persists through blobs.
func Open(keyPath string, blobs store.BlobStore, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	master, err := loadOrCreateKey(keyPath, logger)
	if err != nil {
		return nil, err
	}
	defer zero(master)
	return newVault(master, blobs)
}

func newVault(master []byte, blobs store.BlobStore) (*Vault, error) {
	dataKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfo)), dataKey); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}
	defer zero(dataKey)

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Vault{aead: aead, blobs: blobs}, nil
}

// Put seals plaintext and stores it under name, replacing any prior blob.
func (v *Vault) Put(ctx context.Context, name string, plaintext []byte) error {
	env, err := v.seal(name, plaintext)
	if err != nil {
		return err
	}
	if err := v.blobs.PutBlob(ctx, name, env); err != nil {
		return &StorageError{Op: "put", Name: name, Err: err}
	}
	return nil
}

// Get returns the plaintext stored under name.  A missing blob yields
// ErrNotFound; a blob that fails authentication yields ErrDecryption.
func (v *Vault) Get(ctx context.Context, name string) ([]byte, error) {
	env, err := v.blobs.GetBlob(ctx, name)
	if errors.Is(err, store.ErrBlobNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Name: name, Err: err}
	}
	return v.open(name, env)
}

// Delete removes the blob stored under name.  Deleting a missing blob is not
// an error.
func (v *Vault) Delete(ctx context.Context, name string) error {
	if err := v.blobs.DeleteBlob(ctx, name); err != nil {
		return &StorageError{Op: "delete", Name: name, Err: err}
	}
	return nil
}

func (v *Vault) seal(name string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+nonceSize+len(plaintext)+v.aead.Overhead())
	out = append(out, envelopeVersion)
	out = append(out, nonce...)
	return v.aead.Seal(out, nonce, plaintext, []byte(name)), nil
}

func (v *Vault) open(name string, env []byte) ([]byte, error) {
	if len(env) < 1+nonceSize+v.aead.Overhead() {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecryption)
	}
	if env[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope version %d", ErrDecryption, env[0])
	}
	nonce := env[1 : 1+nonceSize]
	plaintext, err := v.aead.Open(nil, nonce, env[1+nonceSize:], []byte(name))
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
