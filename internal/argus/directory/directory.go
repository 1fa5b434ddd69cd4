package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/vault"
)

const (
	// BlobName is the vault blob holding the directory document.
	BlobName = "principal_directory"

	directorySchema  = "argus.directory"
	directoryVersion = 1
)

var (
	ErrNotFound = errors.New("principal not found")
	ErrConflict = errors.New("principal already exists")
)

type directoryBlob struct {
	Schema     string      `json:"schema"`
	Version    int         `json:"version"`
	Principals []Principal `json:"principals"`
}

// Directory is the set of enrolled principals, iterated in enrollment order.
// Every mutation is persisted before it becomes visible; a failed save leaves
// the in-memory state untouched.
//
// Directory serializes its own reads and writes but not read-modify-write
// sequences spanning several calls; callers that need those hold their own
// lock.
type Directory struct {
	mu         sync.RWMutex
	vault      *vault.Vault
	principals []Principal
}

// Open loads the directory from v.  A missing blob is an empty directory.
// A blob that cannot be decrypted or decoded is an error and is never
// treated as empty.
func Open(ctx context.Context, v *vault.Vault) (*Directory, error) {
	d := &Directory{vault: v}

	raw, err := v.Get(ctx, BlobName)
	if errors.Is(err, vault.ErrNotFound) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}

	var blob directoryBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	if blob.Schema != directorySchema || blob.Version != directoryVersion {
		return nil, fmt.Errorf("decode directory: unsupported schema %q v%d", blob.Schema, blob.Version)
	}
	seen := make(map[string]struct{}, len(blob.Principals))
	for _, p := range blob.Principals {
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("decode directory: duplicate principal %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	d.principals = blob.Principals
	return d, nil
}

// Add enrolls p.  It fails with ErrConflict if the id is taken.
func (d *Directory) Add(ctx context.Context, p Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.indexOf(p.ID) >= 0 {
		return ErrConflict
	}
	next := make([]Principal, 0, len(d.principals)+1)
	next = append(next, d.principals...)
	next = append(next, p.Clone())
	return d.commit(ctx, next)
}

// Get returns a copy of the principal with the given id.
func (d *Directory) Get(id string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i := d.indexOf(id)
	if i < 0 {
		return Principal{}, ErrNotFound
	}
	return d.principals[i].Clone(), nil
}

// List returns copies of every principal in enrollment order.
func (d *Directory) List() []Principal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneAll(d.principals)
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.principals)
}

// Put replaces an existing principal, keeping its position.
func (d *Directory) Put(ctx context.Context, p Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexOf(p.ID)
	if i < 0 {
		return ErrNotFound
	}
	next := cloneAll(d.principals)
	next[i] = p.Clone()
	return d.commit(ctx, next)
}

// Delete removes the principal with the given id.
func (d *Directory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	next := make([]Principal, 0, len(d.principals)-1)
	next = append(next, d.principals[:i]...)
	next = append(next, d.principals[i+1:]...)
	return d.commit(ctx, next)
}

// Snapshot returns a copy of the whole directory for Restore.
func (d *Directory) Snapshot() []Principal {
	return d.List()
}

// Restore persists snap and makes it current.
func (d *Directory) Restore(ctx context.Context, snap []Principal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commit(ctx, cloneAll(snap))
}

// commit must be called with mu held.
func (d *Directory) commit(ctx context.Context, next []Principal) error {
	if next == nil {
		next = []Principal{}
	}
	raw, err := json.Marshal(directoryBlob{
		Schema:     directorySchema,
		Version:    directoryVersion,
		Principals: next,
	})
	if err != nil {
		return fmt.Errorf("encode directory: %w", err)
	}
	if err := d.vault.Put(ctx, BlobName, raw); err != nil {
		return fmt.Errorf("save directory: %w", err)
	}
	d.principals = next
	return nil
}

func (d *Directory) indexOf(id string) int {
	for i := range d.principals {
		if d.principals[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(ps []Principal) []Principal {
	out := make([]Principal, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
