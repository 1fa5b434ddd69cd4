package service

import (
	"context"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/audit"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// AuditLog answers read-only audit queries.  The chain is plaintext, so an
// AuditLog needs no key material and can be opened without the vault.
type AuditLog struct {
	chain *audit.Chain
	now   func() time.Time
}

// OpenAuditLog loads the chain stored in st for inspection.
func OpenAuditLog(ctx context.Context, st store.AuditRecordStore) (*AuditLog, error) {
	chain, err := audit.NewChain(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("load audit chain: %w", err)
	}
	return &AuditLog{chain: chain, now: time.Now}, nil
}

// Records returns a most-recent-first page and the integrity status of the
// whole chain.  A zero limit means DefaultAuditLimit; larger limits are
// clamped to MaxAuditLimit.
func (l *AuditLog) Records(ctx context.Context, q types.AuditQuery) (types.AuditPage, error) {
	if q.Offset < 0 {
		return types.AuditPage{}, invalid("offset", "must not be negative")
	}
	if q.Limit < 0 {
		return types.AuditPage{}, invalid("limit", "must not be negative")
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultAuditLimit
	}
	limit = min(limit, MaxAuditLimit)

	var principalID string
	if q.PrincipalID != "" {
		id, err := normalizePrincipalID(q.PrincipalID)
		if err != nil {
			return types.AuditPage{}, err
		}
		principalID = id
	}

	recs, err := l.chain.Query(ctx, store.AuditQuery{PrincipalID: principalID, Limit: limit, Offset: q.Offset})
	if err != nil {
		return types.AuditPage{}, err
	}
	total, err := l.chain.Count(ctx, principalID)
	if err != nil {
		return types.AuditPage{}, fmt.Errorf("count audit records: %w", err)
	}
	integrity, err := l.Integrity(ctx)
	if err != nil {
		return types.AuditPage{}, err
	}

	page := types.AuditPage{
		Records:   make([]types.AuditRecordView, 0, len(recs)),
		Total:     total,
		Limit:     limit,
		Offset:    q.Offset,
		Integrity: integrity,
	}
	for _, r := range recs {
		page.Records = append(page.Records, auditRecordView(r))
	}
	return page, nil
}

// Integrity verifies the full chain.
func (l *AuditLog) Integrity(ctx context.Context) (types.IntegrityReport, error) {
	res, err := l.chain.Verify(ctx)
	if err != nil {
		return types.IntegrityReport{}, err
	}
	return types.IntegrityReport{
		Valid:          res.Valid,
		FirstViolation: res.FirstViolation,
		Violation:      res.Kind,
		RecordsChecked: res.Checked,
		CheckedAt:      l.now().UTC().Format(time.RFC3339Nano),
	}, nil
}
