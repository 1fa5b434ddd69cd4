// Package audit implements the append-only, hash-chained record of every
// access decision.
//
// Each record's hash is SHA-256 over the canonical JSON encoding of its
// fields (sorted keys, no prev_hash/hash) followed by the previous record's
// hash.  The first record chains to GenesisHash.
package audit

// Event types.
const (
	EventAuthentication      = "authentication"
	EventBiometricMatch      = "biometric_match"
	EventSecondFactor        = "second_factor_verification"
	EventEnrollment          = "enrollment"
	EventTemplateAdded       = "template_added"
	EventPrincipalDeletion   = "principal_deletion"
	EventPrincipalUnlock     = "principal_unlock"
	EventSecondFactorReissue = "second_factor_reissue"
	EventConfigUpdate        = "config_update"
)

// Decisions.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// Event is what a caller hands to Chain.Append.  An empty PrincipalID is
// recorded as null.
type Event struct {
	Type             string
	PrincipalID      string
	Decision         string
	Confidence       float64
	Reason           string
	SecondFactorUsed bool
	Origin           string
}
