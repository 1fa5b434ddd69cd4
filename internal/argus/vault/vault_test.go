package vault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestVault(t *testing.T) (*Vault, *memory.BlobStore, string) {
	t.Helper()
	blobs := memory.NewBlobStore()
	keyPath := filepath.Join(t.TempDir(), "keys", "argus.key")
	v, err := Open(keyPath, blobs, discardLogger())
	require.NoError(t, err)
	return v, blobs, keyPath
}

func TestVault_PutGet_RoundTrip(t *testing.T) {
	v, blobs, _ := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "principal_directory", []byte(`{"principals":[]}`)))

	got, err := v.Get(ctx, "principal_directory")
	require.NoError(t, err)
	assert.Equal(t, `{"principals":[]}`, string(got))

	raw, err := blobs.GetBlob(ctx, "principal_directory")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "principals", "blob must not hold plaintext")
	assert.Equal(t, envelopeVersion, raw[0])
}

func TestVault_Get_Missing(t *testing.T) {
	v, _, _ := openTestVault(t)
	_, err := v.Get(context.Background(), "nothing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVault_Get_CorruptedIsDecryptionError(t *testing.T) {
	v, blobs, _ := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "secrets", []byte("s3cr3t")))
	require.True(t, blobs.Corrupt("secrets"))

	_, err := v.Get(ctx, "secrets")
	require.ErrorIs(t, err, ErrDecryption)
}

func TestVault_Get_WrongKeyIsDecryptionError(t *testing.T) {
	v, blobs, _ := openTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Put(ctx, "secrets", []byte("s3cr3t")))

	other, err := Open(filepath.Join(t.TempDir(), "other.key"), blobs, discardLogger())
	require.NoError(t, err)

	_, err = other.Get(ctx, "secrets")
	require.ErrorIs(t, err, ErrDecryption)
}

func TestVault_Get_BlobMovedToOtherNameFails(t *testing.T) {
	v, blobs, _ := openTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Put(ctx, "a", []byte("payload")))

	raw, err := blobs.GetBlob(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, blobs.PutBlob(ctx, "b", raw))

	_, err = v.Get(ctx, "b")
	require.ErrorIs(t, err, ErrDecryption)
}

func TestVault_Put_StorageFailure(t *testing.T) {
	v, blobs, _ := openTestVault(t)
	blobs.FailWrites(errors.New("disk full"))

	err := v.Put(context.Background(), "a", []byte("x"))
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "put", se.Op)
	assert.Contains(t, err.Error(), "disk full")
}

func TestVault_KeyFile_CreatedOnceWithRestrictivePerms(t *testing.T) {
	_, blobs, keyPath := openTestVault(t)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	first, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(string(first)), 2*KeySize)

	// Reopening reuses the same key and can read earlier blobs.
	ctx := context.Background()
	v1, err := Open(keyPath, blobs, discardLogger())
	require.NoError(t, err)
	require.NoError(t, v1.Put(ctx, "k", []byte("v")))

	v2, err := Open(keyPath, blobs, discardLogger())
	require.NoError(t, err)
	got, err := v2.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	second, _ := os.ReadFile(keyPath)
	assert.Equal(t, first, second)
}

func TestVault_KeyFile_Malformed(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("not-a-key"), 0o600))

	_, err := Open(keyPath, memory.NewBlobStore(), discardLogger())
	require.ErrorIs(t, err, errBadKeyFile)
}
