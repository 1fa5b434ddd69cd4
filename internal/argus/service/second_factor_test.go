package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/audit"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

func lastRecordReason(h *harness) string {
	recs := h.records.Records()
	return recs[len(recs)-1].Reason
}

func TestSecondFactor_PendingNeverGrants(t *testing.T) {
	h := newHarness(t)
	h.enroll("bob", 3, tplB)

	// One earlier failure, so a reset would be visible.
	h.authenticate([]float64{0.7, 0.3, 0, 0})
	require.Equal(t, 1, h.principal("bob").FailedAttempts)

	resp := h.authenticate(tplB)
	assert.False(t, resp.Granted)
	assert.Equal(t, types.StatusSecondFactorPending, resp.Status)
	assert.NotEmpty(t, resp.ExpiresAt)

	p := h.principal("bob")
	assert.Nil(t, p.LastAccess, "last_access only moves at granted")
	assert.Equal(t, 1, p.FailedAttempts, "counter only resets at granted")

	recs := h.records.Records()
	last := recs[len(recs)-1]
	assert.Equal(t, audit.EventBiometricMatch, last.EventType)
	assert.Equal(t, audit.DecisionGranted, last.Decision)
	assert.False(t, last.SecondFactorUsed)
	assert.Equal(t, service.ReasonSecondFactorRequired, last.Reason)
}

func TestSecondFactor_VerifyWithoutChallengeIsFailure(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 2, tplB)

	resp := h.verify("bob", h.code(bob.SecondFactor.Secret))
	assert.False(t, resp.Granted)
	assert.Equal(t, types.ReasonAccessDenied, resp.Reason)
	assert.Equal(t, 1, h.principal("bob").FailedAttempts)
	assert.Equal(t, service.ReasonNoChallenge, lastRecordReason(h))
}

func TestSecondFactor_WrongCodeKeepsChallengeOpen(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 3, tplB)
	h.authenticate(tplB)

	assert.False(t, h.verify("bob", h.wrongCode(bob.SecondFactor.Secret)).Granted)
	assert.Equal(t, service.ReasonInvalidCode, lastRecordReason(h))

	assert.True(t, h.verify("bob", h.code(bob.SecondFactor.Secret)).Granted)

	recs := h.records.Records()
	last := recs[len(recs)-1]
	assert.Equal(t, audit.DecisionGranted, last.Decision)
	assert.True(t, last.SecondFactorUsed)
	assert.Equal(t, 1.0, last.Confidence, "carries the biometric confidence")

	// The challenge is consumed by the grant.
	assert.False(t, h.verify("bob", h.code(bob.SecondFactor.Secret)).Granted)
	assert.Equal(t, service.ReasonNoChallenge, lastRecordReason(h))
}

func TestSecondFactor_ChallengeExpires(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 3, tplB)
	h.authenticate(tplB)

	h.clock.Advance(h.engine.Policy().SecondFactorWindow)
	assert.False(t, h.verify("bob", h.code(bob.SecondFactor.Secret)).Granted)
	assert.Equal(t, service.ReasonChallengeExpired, lastRecordReason(h))

	assert.False(t, h.verify("bob", h.code(bob.SecondFactor.Secret)).Granted)
	assert.Equal(t, service.ReasonNoChallenge, lastRecordReason(h))
	assert.Equal(t, 2, h.principal("bob").FailedAttempts)
}

func TestSecondFactor_FailuresLockOut(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 3, tplB)
	secret := bob.SecondFactor.Secret
	h.authenticate(tplB)

	maxAttempts := h.engine.Policy().MaxAttempts
	for i := 0; i < maxAttempts; i++ {
		assert.False(t, h.verify("bob", h.wrongCode(secret)).Granted)
	}
	p := h.principal("bob")
	require.True(t, p.Locked)
	assert.Equal(t, maxAttempts, p.FailedAttempts)

	n := len(h.records.Records())
	assert.False(t, h.verify("bob", h.code(secret)).Granted, "locked principals never pass")
	assert.Equal(t, service.ReasonLockedOut, lastRecordReason(h))
	assert.Len(t, h.records.Records(), n+1)
	assert.Equal(t, maxAttempts, h.principal("bob").FailedAttempts, "no counter change while locked")

	// Lockout closed the challenge; a new biometric match is needed.
	h.clock.Advance(h.engine.Policy().LockoutDuration)
	assert.False(t, h.verify("bob", h.code(secret)).Granted)
	assert.Equal(t, service.ReasonNoChallenge, lastRecordReason(h))
}

func TestSecondFactor_InputErrorsAreNotAudited(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 3, tplB)
	h.enroll("alice", 1, tplA)
	ctx := context.Background()
	good := h.code(bob.SecondFactor.Secret)
	_ = good

	var ve *service.ValidationError
	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 34 5"} {
		_, err := h.engine.VerifySecondFactor(ctx, types.VerifySecondFactorRequest{PrincipalID: "bob", Code: code})
		require.ErrorAs(t, err, &ve, "code %q", code)
	}

	assert.Empty(t, h.records.Records())
	assert.Equal(t, 0, h.principal("bob").FailedAttempts)
}

func TestSecondFactor_UnknownAndTierOneLookLikeBadCode(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 3, tplB)
	h.enroll("alice", 1, tplA)
	ctx := context.Background()
	code := h.wrongCode(bob.SecondFactor.Secret)

	var got []types.VerifySecondFactorResponse
	for _, id := range []string{"nobody", "alice", "bob"} {
		resp, err := h.engine.VerifySecondFactor(ctx, types.VerifySecondFactorRequest{PrincipalID: id, Code: code})
		require.NoError(t, err, id)
		got = append(got, resp)
	}
	for i, resp := range got {
		assert.False(t, resp.Granted)
		assert.Equal(t, types.StatusDenied, resp.Status)
		assert.Equal(t, types.ReasonAccessDenied, resp.Reason)
		assert.Empty(t, resp.PrincipalID, "response %d", i)
	}

	// Only bob's attempt is a real decision.
	recs := h.records.Records()
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].PrincipalID)
	assert.Equal(t, "bob", *recs[0].PrincipalID)
	assert.Equal(t, 0, h.principal("alice").FailedAttempts)
	assert.Equal(t, 1, h.principal("bob").FailedAttempts)
	assert.Equal(t, 0, h.principal("bob").FailedAttempts)
}

func TestSecondFactor_CodeWithSpacesAccepted(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 2, tplB)
	h.authenticate(tplB)

	code := h.code(bob.SecondFactor.Secret)
	assert.True(t, h.verify("bob", code[:3]+" "+code[3:]).Granted)
}

func TestSecondFactor_AdjacentStepAccepted(t *testing.T) {
	h := newHarness(t)
	bob := h.enroll("bob", 2, tplB)
	h.authenticate(tplB)

	code := h.code(bob.SecondFactor.Secret)
	h.clock.Advance(30 * time.Second)
	assert.True(t, h.verify("bob", code).Granted)
}

func TestDeletePrincipal_PurgesSecret(t *testing.T) {
	h := newHarness(t, withAdminEvents(true))
	ctx := context.Background()
	old := h.enroll("bob", 3, tplB)

	require.NoError(t, h.engine.DeletePrincipal(ctx, "bob", ""))
	_, err := h.engine.GetPrincipal("bob")
	require.ErrorIs(t, err, directory.ErrNotFound)
	require.ErrorIs(t, h.engine.DeletePrincipal(ctx, "bob", ""), directory.ErrNotFound)

	fresh := h.enroll("bob", 3, tplB)
	require.NotEqual(t, old.SecondFactor.Secret, fresh.SecondFactor.Secret)

	h.authenticate(tplB)
	oldCode := h.code(old.SecondFactor.Secret)
	if oldCode != h.code(fresh.SecondFactor.Secret) {
		assert.False(t, h.verify("bob", oldCode).Granted)
	}
	assert.Contains(t, h.eventTypes(), audit.EventPrincipalDeletion)
}

func TestReissueSecondFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll("alice", 1, tplA)
	old := h.enroll("bob", 3, tplB)

	_, err := h.engine.ReissueSecondFactor(ctx, "alice", "")
	var ve *service.ValidationError
	require.ErrorAs(t, err, &ve)

	prov, err := h.engine.ReissueSecondFactor(ctx, "bob", "")
	require.NoError(t, err)
	require.NotEqual(t, old.SecondFactor.Secret, prov.Secret)
	assert.Contains(t, prov.URI, "otpauth://totp/")

	h.authenticate(tplB)
	assert.True(t, h.verify("bob", h.code(prov.Secret)).Granted)
}
