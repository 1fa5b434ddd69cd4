package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
)

// GenesisHash is the prev_hash of the first record.
var GenesisHash = strings.Repeat("0", 64)

// canonicalTime is the only timestamp encoding that enters a hash.
func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// canonicalBytes encodes every chained field of rec.  encoding/json sorts map
// keys, which makes the encoding independent of field order.
func canonicalBytes(rec store.AuditRecord) ([]byte, error) {
	var principal any
	if rec.PrincipalID != nil {
		principal = *rec.PrincipalID
	}
	return json.Marshal(map[string]any{
		"seq":                rec.Seq,
		"timestamp":          canonicalTime(rec.Timestamp),
		"event_type":         rec.EventType,
		"principal_id":       principal,
		"decision":           rec.Decision,
		"confidence":         rec.Confidence,
		"reason":             rec.Reason,
		"second_factor_used": rec.SecondFactorUsed,
		"origin":             rec.Origin,
	})
}

// ComputeHash returns the hex digest rec must carry given rec.PrevHash.
func ComputeHash(rec store.AuditRecord) (string, error) {
	b, err := canonicalBytes(rec)
	if err != nil {
		return "", fmt.Errorf("canonical encoding of seq %d: %w", rec.Seq, err)
	}
	h := sha256.New()
	h.Write(b)
	h.Write([]byte(rec.PrevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
