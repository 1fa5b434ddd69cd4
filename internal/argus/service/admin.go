package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/audit"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 100
)

func (e *Engine) Thresholds() types.ThresholdsView {
	return thresholdsView(e.thresholds.Current(), e.thresholds.UpdatedAt())
}

// UpdateThresholds replaces all three cutoffs.  A missing value, a value
// outside [0, 1] or a decreasing triple is a ValidationError.
func (e *Engine) UpdateThresholds(ctx context.Context, req types.UpdateThresholdsRequest) (types.ThresholdsView, error) {
	if req.Tier1 == nil || req.Tier2 == nil || req.Tier3 == nil {
		return types.ThresholdsView{}, invalid("thresholds", "tier_1, tier_2 and tier_3 are all required")
	}
	next := directory.Thresholds{Tier1: *req.Tier1, Tier2: *req.Tier2, Tier3: *req.Tier3}
	if err := next.Validate(); err != nil {
		return types.ThresholdsView{}, invalid("thresholds", "%s", strings.TrimPrefix(err.Error(), directory.ErrInvalidThresholds.Error()+": "))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.thresholds.Current()
	prevAt := e.thresholds.UpdatedAt()
	now := e.now().UTC()
	if err := e.thresholds.Replace(ctx, next, now); err != nil {
		return types.ThresholdsView{}, err
	}

	ev := audit.Event{
		Type:     audit.EventConfigUpdate,
		Decision: audit.DecisionGranted,
		Reason: fmt.Sprintf("thresholds %.4g/%.4g/%.4g -> %.4g/%.4g/%.4g",
			prev.Tier1, prev.Tier2, prev.Tier3, next.Tier1, next.Tier2, next.Tier3),
		Origin: normalizeOrigin(req.Origin),
	}
	if err := e.recordAdmin(ctx, ev); err != nil {
		if rerr := e.thresholds.Replace(context.WithoutCancel(ctx), prev, prevAt); rerr != nil {
			e.logger.Error("thresholds rollback failed", "err", rerr)
		}
		return types.ThresholdsView{}, err
	}
	return thresholdsView(next, now), nil
}

// AuditRecords returns a most-recent-first page of the chain together with
// the integrity status of the whole chain.
func (e *Engine) AuditRecords(ctx context.Context, q types.AuditQuery) (types.AuditPage, error) {
	return e.auditLog().Records(ctx, q)
}

// Integrity verifies the full chain.
func (e *Engine) Integrity(ctx context.Context) (types.IntegrityReport, error) {
	return e.auditLog().Integrity(ctx)
}

func (e *Engine) auditLog() *AuditLog {
	return &AuditLog{chain: e.chain, now: e.now}
}
