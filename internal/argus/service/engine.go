// Package service is the match and decision engine.  It owns the decision
// lock and is the only writer of principal state, second-factor challenges
// and audit records.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/audit"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/extractor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/secondfactor"
)

// Audit reasons.
const (
	ReasonNoMatch              = "no_match"
	ReasonLowConfidence        = "low_confidence"
	ReasonLockedOut            = "locked_out"
	ReasonNoFaceDetected       = "no_face_detected"
	ReasonBiometricGranted     = "biometric_accepted"
	ReasonSecondFactorRequired = "second_factor_required"
	ReasonSecondFactorMissing  = "second_factor_not_enrolled"
	ReasonInvalidCode          = "invalid_second_factor_code"
	ReasonNoChallenge          = "no_pending_challenge"
	ReasonChallengeExpired     = "challenge_expired"
	ReasonSecondFactorVerified = "second_factor_verified"
)

// Policy is the fixed configuration of the engine.
type Policy struct {
	MaxAttempts        int
	LockoutDuration    time.Duration
	SecondFactorWindow time.Duration
	TemplateDim        int
	// AuditAdminEvents records enrollment, deletion, unlock, template and
	// threshold changes on the chain alongside access decisions.
	AuditAdminEvents bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        3,
		LockoutDuration:    5 * time.Minute,
		SecondFactorWindow: 2 * time.Minute,
		TemplateDim:        128,
		AuditAdminEvents:   true,
	}
}

func (p Policy) validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("policy: max attempts must be at least 1")
	case p.LockoutDuration < 0:
		return errors.New("policy: lockout duration must not be negative")
	case p.SecondFactorWindow <= 0:
		return errors.New("policy: second-factor window must be positive")
	case p.TemplateDim < 1:
		return errors.New("policy: template dimension must be at least 1")
	}
	return nil
}

// Recorder observes decisions as they are committed.
type Recorder interface {
	Decision(event, decision, reason string)
	Lockout()
}

type nopRecorder struct{}

func (nopRecorder) Decision(string, string, string) {}
func (nopRecorder) Lockout()                        {}

// Dependencies are the collaborators an Engine is built from.  Extractor,
// Recorder, Logger and Now are optional.
type Dependencies struct {
	Directory  *directory.Directory
	Thresholds *directory.ThresholdStore
	Gate       *secondfactor.Gate
	Chain      *audit.Chain
	Extractor  extractor.Extractor
	Recorder   Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

type challenge struct {
	expires    time.Time
	confidence float64
}

// Engine makes every access decision.  Decisions and administrative changes
// are serialized by one lock; each one persists the principal change, then
// appends its audit record, and rolls the principal change back if the
// append fails.
type Engine struct {
	mu sync.Mutex

	dir        *directory.Directory
	thresholds *directory.ThresholdStore
	gate       *secondfactor.Gate
	chain      *audit.Chain
	extractor  extractor.Extractor
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time

	policy  Policy
	lockout LockoutPolicy
	pending map[string]challenge
}

func NewEngine(deps Dependencies, policy Policy) (*Engine, error) {
	if deps.Directory == nil || deps.Thresholds == nil || deps.Gate == nil || deps.Chain == nil {
		return nil, errors.New("engine: directory, thresholds, gate and chain are required")
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		dir:        deps.Directory,
		thresholds: deps.Thresholds,
		gate:       deps.Gate,
		chain:      deps.Chain,
		extractor:  deps.Extractor,
		recorder:   deps.Recorder,
		logger:     deps.Logger,
		now:        deps.Now,
		policy:     policy,
		lockout:    LockoutPolicy{MaxAttempts: policy.MaxAttempts, Duration: policy.LockoutDuration},
		pending:    make(map[string]challenge),
	}
	if e.extractor == nil {
		e.extractor = extractor.Unavailable{}
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *Engine) Policy() Policy { return e.policy }

// record appends ev and reports it to the recorder.  Must be called with mu
// held.
func (e *Engine) record(ctx context.Context, ev audit.Event) error {
	if _, err := e.chain.Append(ctx, ev); err != nil {
		return err
	}
	e.recorder.Decision(ev.Type, ev.Decision, ev.Reason)
	e.logger.Info("decision recorded",
		"event", ev.Type,
		"decision", ev.Decision,
		"principal_id", ev.PrincipalID,
		"reason", ev.Reason,
	)
	return nil
}

// recordAdmin appends an administrative event when those are enabled.
func (e *Engine) recordAdmin(ctx context.Context, ev audit.Event) error {
	if !e.policy.AuditAdminEvents {
		e.logger.Info("admin change", "event", ev.Type, "principal_id", ev.PrincipalID, "reason", ev.Reason)
		return nil
	}
	return e.record(ctx, ev)
}

// commitPrincipal saves after and then appends ev.  If the append fails the
// saved change is reverted to before.  Must be called with mu held.
func (e *Engine) commitPrincipal(ctx context.Context, before, after directory.Principal, ev audit.Event, admin bool) error {
	if err := e.dir.Put(ctx, after); err != nil {
		return err
	}
	appendFn := e.record
	if admin {
		appendFn = e.recordAdmin
	}
	if err := appendFn(ctx, ev); err != nil {
		if rerr := e.dir.Put(context.WithoutCancel(ctx), before); rerr != nil {
			e.logger.Error("principal change committed without audit record",
				"principal_id", before.ID, "event", ev.Type, "append_err", err, "revert_err", rerr)
		}
		return err
	}
	return nil
}

// rollback reverts directory and gate state to the given snapshots after
// a later step of ev failed.  Must be called with mu held.
func (e *Engine) rollback(ctx context.Context, ev audit.Event, dirSnap []directory.Principal, gateSnap map[string]string) {
	ctx = context.WithoutCancel(ctx)
	if dirSnap != nil {
		if err := e.dir.Restore(ctx, dirSnap); err != nil {
			e.logger.Error("directory rollback failed",
				"principal_id", ev.PrincipalID, "event", ev.Type, "err", err)
		}
	}
	if gateSnap != nil {
		if err := e.gate.Restore(ctx, gateSnap); err != nil {
			e.logger.Error("second-factor rollback failed",
				"principal_id", ev.PrincipalID, "event", ev.Type, "err", err)
		}
	}
}

func (e *Engine) probe(ctx context.Context, field string, tpl []float64, image string) ([]float64, error) {
	if len(tpl) > 0 {
		return normalizeTemplate(field, tpl, e.policy.TemplateDim)
	}
	if image == "" {
		return nil, invalid(field, "a template or an image is required")
	}
	raw, err := decodeImage(image)
	if err != nil {
		return nil, invalid("image", "must be base64 encoded")
	}
	out, err := e.extractor.Extract(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("extract template: %w", err)
	}
	return normalizeTemplate(field, out, e.policy.TemplateDim)
}
