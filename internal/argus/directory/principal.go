// Package directory holds the enrolled principals and the per-tier acceptance
// thresholds.  Both are persisted as versioned JSON documents sealed by the
// vault; neither is ever written in plaintext.
package directory

import (
	"fmt"
	"slices"
	"time"
)

// Tier is a principal's privilege level.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

func (t Tier) Valid() bool { return t >= Tier1 && t <= Tier3 }

// RequiresSecondFactor reports whether a verified one-time code is needed
// after biometric acceptance.
func (t Tier) RequiresSecondFactor() bool { return t >= Tier2 }

func (t Tier) String() string { return fmt.Sprintf("tier%d", int(t)) }

// Principal is an enrolled identity.  Templates are stored L2-normalized in
// the order they were added.
type Principal struct {
	ID                   string      `json:"id"`
	Tier                 Tier        `json:"tier"`
	Templates            [][]float64 `json:"templates"`
	SecondFactorEnrolled bool        `json:"second_factor_enrolled"`
	EnrolledAt           time.Time   `json:"enrolled_at"`
	LastAccess           *time.Time  `json:"last_access,omitempty"`
	FailedAttempts       int         `json:"failed_attempts"`
	LockedUntil          *time.Time  `json:"locked_until,omitempty"`
}

// IsLocked reports whether the principal is inside its lockout window.
func (p *Principal) IsLocked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// Clone returns a deep copy.
func (p Principal) Clone() Principal {
	out := p
	out.Templates = make([][]float64, len(p.Templates))
	for i, tpl := range p.Templates {
		out.Templates[i] = slices.Clone(tpl)
	}
	if p.LastAccess != nil {
		t := *p.LastAccess
		out.LastAccess = &t
	}
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		out.LockedUntil = &t
	}
	return out
}
