package service

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/audit"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/extractor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/secondfactor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// Authenticate matches a probe template against every principal that is not
// locked out and decides the attempt.  Denials are returned as a response,
// not an error, and carry no identity or score.  Errors mean the request was
// malformed or the decision could not be recorded.
func (e *Engine) Authenticate(ctx context.Context, req types.AuthenticateRequest) (types.AuthenticateResponse, error) {
	origin := normalizeOrigin(req.Origin)

	probe, err := e.probe(ctx, "template", req.Template, req.Image)
	if errors.Is(err, extractor.ErrNoFaceDetected) {
		e.mu.Lock()
		defer e.mu.Unlock()
		now := e.now().UTC()
		if err := e.record(ctx, audit.Event{
			Type:     audit.EventAuthentication,
			Decision: audit.DecisionDenied,
			Reason:   ReasonNoFaceDetected,
			Origin:   origin,
		}); err != nil {
			return types.AuthenticateResponse{}, err
		}
		return denied(now), nil
	}
	if err != nil {
		return types.AuthenticateResponse{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	m := bestMatch(probe, e.dir.List(), now)
	if !m.found {
		if err := e.record(ctx, audit.Event{
			Type:       audit.EventAuthentication,
			Decision:   audit.DecisionDenied,
			Confidence: m.score,
			Reason:     ReasonNoMatch,
			Origin:     origin,
		}); err != nil {
			return types.AuthenticateResponse{}, err
		}
		return denied(now), nil
	}

	before := m.principal
	after := before.Clone()

	if m.score < e.thresholds.Current().For(before.Tier) {
		locked := e.lockout.RecordFailure(&after, now)
		ev := audit.Event{
			Type:        audit.EventAuthentication,
			PrincipalID: before.ID,
			Decision:    audit.DecisionDenied,
			Confidence:  m.score,
			Reason:      ReasonLowConfidence,
			Origin:      origin,
		}
		if err := e.commitPrincipal(ctx, before, after, ev, false); err != nil {
			return types.AuthenticateResponse{}, err
		}
		if locked {
			e.lockedOut(before.ID, after)
		}
		return denied(now), nil
	}

	if !before.Tier.RequiresSecondFactor() {
		e.lockout.RecordSuccess(&after, now)
		ev := audit.Event{
			Type:        audit.EventAuthentication,
			PrincipalID: before.ID,
			Decision:    audit.DecisionGranted,
			Confidence:  m.score,
			Reason:      ReasonBiometricGranted,
			Origin:      origin,
		}
		if err := e.commitPrincipal(ctx, before, after, ev, false); err != nil {
			return types.AuthenticateResponse{}, err
		}
		return types.AuthenticateResponse{
			Granted:     true,
			Status:      types.StatusGranted,
			PrincipalID: before.ID,
			Tier:        int(before.Tier),
			Confidence:  m.score,
			ServerTime:  now.Format(time.RFC3339Nano),
		}, nil
	}

	if !e.gate.HasSecret(before.ID) {
		if err := e.record(ctx, audit.Event{
			Type:        audit.EventAuthentication,
			PrincipalID: before.ID,
			Decision:    audit.DecisionDenied,
			Confidence:  m.score,
			Reason:      ReasonSecondFactorMissing,
			Origin:      origin,
		}); err != nil {
			return types.AuthenticateResponse{}, err
		}
		return denied(now), nil
	}

	// Biometric accepted; nothing about the principal changes until the
	// second factor is verified.
	if err := e.record(ctx, audit.Event{
		Type:        audit.EventBiometricMatch,
		PrincipalID: before.ID,
		Decision:    audit.DecisionGranted,
		Confidence:  m.score,
		Reason:      ReasonSecondFactorRequired,
		Origin:      origin,
	}); err != nil {
		return types.AuthenticateResponse{}, err
	}
	expires := now.Add(e.policy.SecondFactorWindow)
	e.pending[before.ID] = challenge{expires: expires, confidence: m.score}

	return types.AuthenticateResponse{
		Granted:              false,
		Status:               types.StatusSecondFactorPending,
		PrincipalID:          before.ID,
		Tier:                 int(before.Tier),
		Confidence:           m.score,
		SecondFactorRequired: true,
		ExpiresAt:            expires.Format(time.RFC3339Nano),
		ServerTime:           now.Format(time.RFC3339Nano),
	}, nil
}

// VerifySecondFactor completes a pending authentication.  Only a valid code
// inside an open challenge grants access; every other outcome for an
// existing tier 2 or 3 principal is an audited denial, and all but the
// locked-out case count as a failed attempt.  Malformed input is the only
// error a caller can tell apart from a denial.
func (e *Engine) VerifySecondFactor(ctx context.Context, req types.VerifySecondFactorRequest) (types.VerifySecondFactorResponse, error) {
	id, err := normalizePrincipalID(req.PrincipalID)
	if err != nil {
		return types.VerifySecondFactorResponse{}, err
	}
	code, ok := secondfactor.NormalizeCode(req.Code)
	if !ok {
		return types.VerifySecondFactorResponse{}, invalid("code", "must be exactly 6 digits")
	}
	origin := normalizeOrigin(req.Origin)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()

	// Unknown and tier 1 ids get the same denial as a bad code, unaudited.
	before, err := e.dir.Get(id)
	if errors.Is(err, directory.ErrNotFound) {
		return verifyDenied(now), nil
	}
	if err != nil {
		return types.VerifySecondFactorResponse{}, err
	}
	if !before.Tier.RequiresSecondFactor() {
		return verifyDenied(now), nil
	}

	if before.IsLocked(now) {
		delete(e.pending, id)
		if err := e.record(ctx, audit.Event{
			Type:             audit.EventSecondFactor,
			PrincipalID:      id,
			Decision:         audit.DecisionDenied,
			Reason:           ReasonLockedOut,
			SecondFactorUsed: true,
			Origin:           origin,
		}); err != nil {
			return types.VerifySecondFactorResponse{}, err
		}
		return verifyDenied(now), nil
	}

	ch, open := e.pending[id]
	reason := ""
	switch {
	case !open:
		reason = ReasonNoChallenge
	case !now.Before(ch.expires):
		reason = ReasonChallengeExpired
	case !e.gate.Verify(id, code):
		reason = ReasonInvalidCode
	}

	after := before.Clone()
	if reason != "" {
		locked := e.lockout.RecordFailure(&after, now)
		ev := audit.Event{
			Type:             audit.EventSecondFactor,
			PrincipalID:      id,
			Decision:         audit.DecisionDenied,
			Confidence:       ch.confidence,
			Reason:           reason,
			SecondFactorUsed: true,
			Origin:           origin,
		}
		if err := e.commitPrincipal(ctx, before, after, ev, false); err != nil {
			return types.VerifySecondFactorResponse{}, err
		}
		if reason == ReasonChallengeExpired {
			delete(e.pending, id)
		}
		if locked {
			e.lockedOut(id, after)
		}
		return verifyDenied(now), nil
	}

	e.lockout.RecordSuccess(&after, now)
	ev := audit.Event{
		Type:             audit.EventSecondFactor,
		PrincipalID:      id,
		Decision:         audit.DecisionGranted,
		Confidence:       ch.confidence,
		Reason:           ReasonSecondFactorVerified,
		SecondFactorUsed: true,
		Origin:           origin,
	}
	if err := e.commitPrincipal(ctx, before, after, ev, false); err != nil {
		return types.VerifySecondFactorResponse{}, err
	}
	delete(e.pending, id)

	return types.VerifySecondFactorResponse{
		Granted:     true,
		Status:      types.StatusGranted,
		PrincipalID: id,
		ServerTime:  now.Format(time.RFC3339Nano),
	}, nil
}

// lockedOut closes any open challenge of a principal that was just locked.
func (e *Engine) lockedOut(id string, p directory.Principal) {
	delete(e.pending, id)
	e.recorder.Lockout()
	e.logger.Warn("principal locked out",
		"principal_id", id,
		"failed_attempts", p.FailedAttempts,
		"locked_until", p.LockedUntil,
	)
}

func denied(now time.Time) types.AuthenticateResponse {
	return types.AuthenticateResponse{
		Granted:    false,
		Status:     types.StatusDenied,
		Reason:     types.ReasonAccessDenied,
		ServerTime: now.Format(time.RFC3339Nano),
	}
}

func verifyDenied(now time.Time) types.VerifySecondFactorResponse {
	return types.VerifySecondFactorResponse{
		Granted:    false,
		Status:     types.StatusDenied,
		Reason:     types.ReasonAccessDenied,
		ServerTime: now.Format(time.RFC3339Nano),
	}
}
