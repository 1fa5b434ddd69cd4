package service

import (
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
)

// LockoutPolicy is the failure threshold and lock duration shared by every
// principal.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// RecordFailure counts a failed attempt against p at now and reports whether
// this failure locked it.  A lock that has already expired is cleared first,
// so the count starts again from zero.
func (l LockoutPolicy) RecordFailure(p *directory.Principal, now time.Time) bool {
	if p.LockedUntil != nil && !p.IsLocked(now) {
		p.LockedUntil = nil
		p.FailedAttempts = 0
	}
	p.FailedAttempts++
	if p.FailedAttempts >= l.MaxAttempts {
		until := now.Add(l.Duration)
		p.LockedUntil = &until
		return true
	}
	return false
}

// RecordSuccess resets the counter, clears any lock and stamps last access.
func (l LockoutPolicy) RecordSuccess(p *directory.Principal, now time.Time) {
	p.FailedAttempts = 0
	p.LockedUntil = nil
	at := now
	p.LastAccess = &at
}

// Reset is the explicit unlock.
func (l LockoutPolicy) Reset(p *directory.Principal) {
	p.FailedAttempts = 0
	p.LockedUntil = nil
}
