package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// KeySize is the length of the raw master key in bytes.
const KeySize = 32

var errBadKeyFile = errors.New("key file must hold 64 hex characters")

// loadOrCreateKey reads the hex-encoded master key at path, generating and
// persisting a fresh one if the file does not exist.
func loadOrCreateKey(path string, logger *slog.Logger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		warnIfExposed(path, logger)
		return decodeKey(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	// O_EXCL: two processes racing on first start must not both win.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return loadOrCreateKey(path, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close key file: %w", err)
	}

	logger.Info("generated new encryption key", "path", path)
	return key, nil
}

func decodeKey(data []byte) ([]byte, error) {
	s := strings.TrimSpace(string(data))
	if len(s) != 2*KeySize {
		return nil, errBadKeyFile
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, errBadKeyFile
	}
	return key, nil
}

func warnIfExposed(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		logger.Warn("encryption key file is readable by other users",
			"path", path, "mode", info.Mode().Perm().String())
	}
}
