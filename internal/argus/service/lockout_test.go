package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
)

func TestLockoutPolicy_RecordFailure(t *testing.T) {
	l := LockoutPolicy{MaxAttempts: 3, Duration: 5 * time.Minute}
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	p := directory.Principal{ID: "alice"}

	assert.False(t, l.RecordFailure(&p, now))
	assert.False(t, l.RecordFailure(&p, now))
	assert.Nil(t, p.LockedUntil)

	assert.True(t, l.RecordFailure(&p, now), "third failure locks")
	if assert.NotNil(t, p.LockedUntil) {
		assert.Equal(t, now.Add(5*time.Minute), *p.LockedUntil)
	}
	assert.True(t, p.IsLocked(now.Add(4*time.Minute)))
	assert.False(t, p.IsLocked(now.Add(5*time.Minute)))
}

func TestLockoutPolicy_FailureAfterExpiryStartsOver(t *testing.T) {
	l := LockoutPolicy{MaxAttempts: 2, Duration: time.Minute}
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	p := directory.Principal{ID: "alice"}

	l.RecordFailure(&p, now)
	l.RecordFailure(&p, now)
	assert.True(t, p.IsLocked(now))

	later := now.Add(time.Minute)
	assert.False(t, l.RecordFailure(&p, later))
	assert.Equal(t, 1, p.FailedAttempts)
	assert.Nil(t, p.LockedUntil)
}

func TestLockoutPolicy_SuccessAndReset(t *testing.T) {
	l := LockoutPolicy{MaxAttempts: 1, Duration: time.Minute}
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	p := directory.Principal{ID: "alice"}

	l.RecordFailure(&p, now)
	l.Reset(&p)
	assert.Equal(t, 0, p.FailedAttempts)
	assert.False(t, p.IsLocked(now))

	l.RecordFailure(&p, now)
	l.RecordSuccess(&p, now)
	assert.Equal(t, 0, p.FailedAttempts)
	assert.Nil(t, p.LockedUntil)
	if assert.NotNil(t, p.LastAccess) {
		assert.Equal(t, now, *p.LastAccess)
	}
}
