package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/audit"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/extractor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/secondfactor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/vault"
)

// Stores are the persistence backends an Engine runs on.
type Stores struct {
	Blobs store.BlobStore
	Audit store.AuditRecordStore
}

type BootstrapConfig struct {
	KeyPath   string
	Issuer    string
	Policy    Policy
	Extractor extractor.Extractor
	Recorder  Recorder
	Logger    *slog.Logger
	Now       func() time.Time
}

// Bootstrap opens the vault and loads every persisted component, then builds
// the Engine that owns them.  It is called once at process start.
func Bootstrap(ctx context.Context, st Stores, cfg BootstrapConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	v, err := vault.Open(cfg.KeyPath, st.Blobs, logger)
	if err != nil {
		return nil, err
	}
	dir, err := directory.Open(ctx, v)
	if err != nil {
		return nil, err
	}
	thresholds, err := directory.OpenThresholds(ctx, v)
	if err != nil {
		return nil, err
	}
	gate, err := secondfactor.NewGate(ctx, v, secondfactor.WithIssuer(cfg.Issuer), secondfactor.WithClock(now))
	if err != nil {
		return nil, err
	}
	chain, err := audit.NewChain(ctx, st.Audit, audit.WithClock(now))
	if err != nil {
		return nil, err
	}

	logger.Info("decision engine loaded",
		"principals", dir.Len(),
		"thresholds", thresholds.Current(),
	)

	return NewEngine(Dependencies{
		Directory:  dir,
		Thresholds: thresholds,
		Gate:       gate,
		Chain:      chain,
		Extractor:  cfg.Extractor,
		Recorder:   cfg.Recorder,
		Logger:     logger,
		Now:        now,
	}, cfg.Policy)
}
