package service

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

func principalView(p directory.Principal, now time.Time) types.PrincipalView {
	v := types.PrincipalView{
		ID:                   p.ID,
		Tier:                 int(p.Tier),
		TemplateCount:        len(p.Templates),
		SecondFactorEnrolled: p.SecondFactorEnrolled,
		EnrolledAt:           p.EnrolledAt.UTC().Format(time.RFC3339Nano),
		FailedAttempts:       p.FailedAttempts,
		Locked:               p.IsLocked(now),
	}
	v.LastAccess = formatOptional(p.LastAccess)
	v.LockedUntil = formatOptional(p.LockedUntil)
	return v
}

func thresholdsView(t directory.Thresholds, updatedAt time.Time) types.ThresholdsView {
	v := types.ThresholdsView{Tier1: t.Tier1, Tier2: t.Tier2, Tier3: t.Tier3}
	if !updatedAt.IsZero() {
		v.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func auditRecordView(r store.AuditRecord) types.AuditRecordView {
	return types.AuditRecordView{
		Seq:              r.Seq,
		Timestamp:        r.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:        r.EventType,
		PrincipalID:      r.PrincipalID,
		Decision:         r.Decision,
		Confidence:       r.Confidence,
		Reason:           r.Reason,
		SecondFactorUsed: r.SecondFactorUsed,
		Origin:           r.Origin,
		PrevHash:         r.PrevHash,
		Hash:             r.Hash,
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

// decodeImage accepts plain base64 or a data URI.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			s = rest
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
