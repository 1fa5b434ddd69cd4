package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/vault"
)

const (
	// ThresholdsBlobName is the vault blob holding the acceptance thresholds.
	ThresholdsBlobName = "acceptance_thresholds"

	thresholdsSchema  = "argus.thresholds"
	thresholdsVersion = 1
)

var ErrInvalidThresholds = errors.New("invalid thresholds")

// Thresholds maps each tier to the minimum cosine similarity accepted for it.
type Thresholds struct {
	Tier1 float64 `json:"tier_1" yaml:"tier_1"`
	Tier2 float64 `json:"tier_2" yaml:"tier_2"`
	Tier3 float64 `json:"tier_3" yaml:"tier_3"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Tier1: 0.70, Tier2: 0.80, Tier3: 0.85}
}

// Validate checks that every cutoff lies in [0, 1] and that they never
// decrease with the tier.  Equal cutoffs are allowed.
func (t Thresholds) Validate() error {
	for i, v := range []float64{t.Tier1, t.Tier2, t.Tier3} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: tier %d threshold %v outside [0, 1]", ErrInvalidThresholds, i+1, v)
		}
	}
	if t.Tier1 > t.Tier2 || t.Tier2 > t.Tier3 {
		return fmt.Errorf("%w: thresholds must satisfy tier 1 <= tier 2 <= tier 3", ErrInvalidThresholds)
	}
	return nil
}

// For returns the cutoff for tier.  Unknown tiers get the strictest cutoff.
func (t Thresholds) For(tier Tier) float64 {
	switch tier {
	case Tier1:
		return t.Tier1
	case Tier2:
		return t.Tier2
	default:
		return t.Tier3
	}
}

type thresholdsBlob struct {
	Schema    string    `json:"schema"`
	Version   int       `json:"version"`
	Tier1     float64   `json:"tier_1"`
	Tier2     float64   `json:"tier_2"`
	Tier3     float64   `json:"tier_3"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThresholdStore holds the current thresholds.  Until the first Replace the
// defaults are in force and nothing is persisted.
type ThresholdStore struct {
	mu        sync.RWMutex
	vault     *vault.Vault
	current   Thresholds
	updatedAt time.Time
}

// OpenThresholds loads the thresholds blob from v, falling back to
// DefaultThresholds when none has been saved yet.  A stored document that
// fails validation is an error.
func OpenThresholds(ctx context.Context, v *vault.Vault) (*ThresholdStore, error) {
	s := &ThresholdStore{vault: v, current: DefaultThresholds()}

	raw, err := v.Get(ctx, ThresholdsBlobName)
	if errors.Is(err, vault.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}

	var blob thresholdsBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("decode thresholds: %w", err)
	}
	if blob.Schema != thresholdsSchema || blob.Version != thresholdsVersion {
		return nil, fmt.Errorf("decode thresholds: unsupported schema %q v%d", blob.Schema, blob.Version)
	}
	t := Thresholds{Tier1: blob.Tier1, Tier2: blob.Tier2, Tier3: blob.Tier3}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	s.current = t
	s.updatedAt = blob.UpdatedAt
	return s, nil
}

func (s *ThresholdStore) Current() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// UpdatedAt is the time of the last Replace, zero while defaults apply.
func (s *ThresholdStore) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Replace validates t, persists it and makes it current.  All three values
// are replaced together.
func (s *ThresholdStore) Replace(ctx context.Context, t Thresholds, at time.Time) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(thresholdsBlob{
		Schema:    thresholdsSchema,
		Version:   thresholdsVersion,
		Tier1:     t.Tier1,
		Tier2:     t.Tier2,
		Tier3:     t.Tier3,
		UpdatedAt: at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	if err := s.vault.Put(ctx, ThresholdsBlobName, raw); err != nil {
		return fmt.Errorf("save thresholds: %w", err)
	}
	s.current = t
	s.updatedAt = at.UTC()
	return nil
}
