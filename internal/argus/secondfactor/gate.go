// Package secondfactor issues and verifies time-based one-time codes
// (RFC 6238) for principals whose tier requires a second factor.  Secrets
// are persisted only through the vault.
package secondfactor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/vault"
)

const (
	// BlobName is the vault blob holding every principal's secret.
	BlobName = "second_factor_secrets"

	blobSchema  = "argus.second_factor"
	blobVersion = 1

	period     = 30
	skewSteps  = 1
	secretSize = 20
	qrSize     = 256

	DefaultIssuer = "Argus Access Control"
)

var validateOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      skewSteps,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Provisioning is handed to the principal once, when a secret is issued.
type Provisioning struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode string `json:"qr_code,omitempty"` // data:image/png;base64,...
}

type secretsBlob struct {
	Schema  string            `json:"schema"`
	Version int               `json:"version"`
	Secrets map[string]string `json:"secrets"`
}

// Gate owns the per-principal shared secrets.  At most one secret exists per
// principal; Issue replaces any previous one.
type Gate struct {
	mu      sync.Mutex
	vault   *vault.Vault
	issuer  string
	now     func() time.Time
	rand    io.Reader
	secrets map[string]string
}

type Option func(*Gate)

func WithIssuer(issuer string) Option {
	return func(g *Gate) {
		if strings.TrimSpace(issuer) != "" {
			g.issuer = issuer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithRand overrides the entropy source for secret generation.
func WithRand(r io.Reader) Option {
	return func(g *Gate) { g.rand = r }
}

// NewGate loads the secrets blob from v.  A missing blob means no secrets
// have been issued yet; a blob that fails to decrypt or decode is an error.
func NewGate(ctx context.Context, v *vault.Vault, opts ...Option) (*Gate, error) {
	g := &Gate{
		vault:   v,
		issuer:  DefaultIssuer,
		now:     time.Now,
		secrets: make(map[string]string),
	}
	for _, opt := range opts {
		opt(g)
	}

	raw, err := v.Get(ctx, BlobName)
	if errors.Is(err, vault.ErrNotFound) {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load second-factor secrets: %w", err)
	}

	var blob secretsBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("decode second-factor secrets: %w", err)
	}
	if blob.Schema != blobSchema || blob.Version != blobVersion {
		return nil, fmt.Errorf("decode second-factor secrets: unsupported schema %q v%d", blob.Schema, blob.Version)
	}
	if blob.Secrets != nil {
		g.secrets = blob.Secrets
	}
	return g, nil
}

// Issue generates a fresh secret for principalID, persists it and returns the
// provisioning material.
func (g *Gate) Issue(ctx context.Context, principalID string) (Provisioning, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: principalID,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        g.rand,
	})
	if err != nil {
		return Provisioning{}, fmt.Errorf("generate second-factor secret: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next := maps.Clone(g.secrets)
	next[principalID] = key.Secret()
	if err := g.persist(ctx, next); err != nil {
		return Provisioning{}, err
	}
	g.secrets = next

	prov := Provisioning{Secret: key.Secret(), URI: key.URL()}
	if qr, err := qrDataURI(key); err == nil {
		prov.QRCode = qr
	}
	return prov, nil
}

// Verify reports whether code is valid for principalID at the current time,
// tolerating one period of skew either way.  Malformed codes and unknown
// principals yield false without error.
func (g *Gate) Verify(principalID, code string) bool {
	code, ok := NormalizeCode(code)
	if !ok {
		return false
	}

	g.mu.Lock()
	secret, found := g.secrets[principalID]
	g.mu.Unlock()
	if !found {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, g.now().UTC(), validateOpts)
	return err == nil && valid
}

// Revoke deletes the secret of principalID.  Revoking an absent secret is a
// no-op.
func (g *Gate) Revoke(ctx context.Context, principalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.secrets[principalID]; !ok {
		return nil
	}
	next := maps.Clone(g.secrets)
	delete(next, principalID)
	if err := g.persist(ctx, next); err != nil {
		return err
	}
	g.secrets = next
	return nil
}

// HasSecret reports whether a secret is currently issued for principalID.
func (g *Gate) HasSecret(principalID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.secrets[principalID]
	return ok
}

// Snapshot captures the current secrets so a caller can roll back a change
// whose audit record could not be written.
func (g *Gate) Snapshot() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return maps.Clone(g.secrets)
}

// Restore persists snap and makes it current.
func (g *Gate) Restore(ctx context.Context, snap map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if snap == nil {
		snap = make(map[string]string)
	}
	if err := g.persist(ctx, snap); err != nil {
		return err
	}
	g.secrets = maps.Clone(snap)
	return nil
}

func (g *Gate) persist(ctx context.Context, secrets map[string]string) error {
	raw, err := json.Marshal(secretsBlob{Schema: blobSchema, Version: blobVersion, Secrets: secrets})
	if err != nil {
		return fmt.Errorf("encode second-factor secrets: %w", err)
	}
	if err := g.vault.Put(ctx, BlobName, raw); err != nil {
		return fmt.Errorf("save second-factor secrets: %w", err)
	}
	return nil
}

// NormalizeCode strips surrounding and embedded spaces and reports whether
// what remains is exactly six ASCII digits.
func NormalizeCode(code string) (string, bool) {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(code) != 6 {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", false
		}
	}
	return code, true
}

func qrDataURI(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
