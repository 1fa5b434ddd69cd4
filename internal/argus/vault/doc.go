// Package vault seals every persisted blob with AES-256-GCM before it reaches
// a store.BlobStore.
//
// The master key lives in its own file (0600, created on first use) and never
// leaves this package.  The data key is derived from it with HKDF-SHA-256 and
// each envelope is bound to its blob name as additional data, so a sealed
// blob copied under another name fails to open.
//
// Envelope format: version (1 byte) || nonce (12 bytes) || ciphertext+tag.
package vault
