package audit

import "github.com/BrandonDHaskell/Argus/server/internal/argus/store"

// Violation kinds reported by VerifyRecords.
const (
	ViolationHashMismatch = "hash_mismatch"
	ViolationChainBreak   = "chain_break"
)

// VerifyResult is the outcome of a chain verification.  FirstViolation is the
// oldest-first index of the first bad record and is nil when Valid.
type VerifyResult struct {
	Valid          bool
	FirstViolation *int
	Kind           string
	Checked        int
}

// VerifyRecords walks recs oldest-first and stops at the first record whose
// stored hash does not match its contents or whose prev_hash does not match
// its predecessor.  An empty slice is valid.
func VerifyRecords(recs []store.AuditRecord) VerifyResult {
	prev := GenesisHash
	for i, rec := range recs {
		want, err := ComputeHash(rec)
		if err != nil || rec.Hash != want {
			return violation(i, ViolationHashMismatch)
		}
		if rec.PrevHash != prev {
			return violation(i, ViolationChainBreak)
		}
		prev = rec.Hash
	}
	return VerifyResult{Valid: true, Checked: len(recs)}
}

func violation(i int, kind string) VerifyResult {
	idx := i
	return VerifyResult{Valid: false, FirstViolation: &idx, Kind: kind, Checked: i + 1}
}
