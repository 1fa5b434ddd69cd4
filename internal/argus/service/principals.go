package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/audit"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/extractor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// Enroll creates a principal.  An id that already exists is a conflict no
// matter what else the request carries.  Tier 2 and 3 principals get a
// second-factor secret whose provisioning material is returned only here.
func (e *Engine) Enroll(ctx context.Context, req types.EnrollRequest) (types.EnrollResponse, error) {
	id, err := normalizePrincipalID(req.PrincipalID)
	if err != nil {
		return types.EnrollResponse{}, err
	}
	tier := directory.Tier(req.Tier)
	if !tier.Valid() {
		return types.EnrollResponse{}, invalid("tier", "must be 1, 2 or 3")
	}
	tpl, err := e.probe(ctx, "template", req.Template, req.Image)
	if errors.Is(err, extractor.ErrNoFaceDetected) {
		return types.EnrollResponse{}, invalid("image", "no face detected")
	}
	if err != nil {
		return types.EnrollResponse{}, err
	}
	origin := normalizeOrigin(req.Origin)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.dir.Get(id); err == nil {
		return types.EnrollResponse{}, directory.ErrConflict
	}

	now := e.now().UTC()
	p := directory.Principal{
		ID:         id,
		Tier:       tier,
		Templates:  [][]float64{tpl},
		EnrolledAt: now,
	}

	var resp types.EnrollResponse
	var gateSnap map[string]string
	if tier.RequiresSecondFactor() {
		gateSnap = e.gate.Snapshot()
		prov, err := e.gate.Issue(ctx, id)
		if err != nil {
			return types.EnrollResponse{}, err
		}
		p.SecondFactorEnrolled = true
		resp.SecondFactor = &types.SecondFactorProvisioning{
			Secret: prov.Secret,
			URI:    prov.URI,
			QRCode: prov.QRCode,
		}
	}

	dirSnap := e.dir.Snapshot()
	if err := e.dir.Add(ctx, p); err != nil {
		if gateSnap != nil {
			e.rollback(ctx, audit.Event{Type: audit.EventEnrollment, PrincipalID: id}, nil, gateSnap)
		}
		return types.EnrollResponse{}, err
	}

	ev := audit.Event{
		Type:        audit.EventEnrollment,
		PrincipalID: id,
		Decision:    audit.DecisionGranted,
		Reason:      fmt.Sprintf("enrolled at tier %d", tier),
		Origin:      origin,
	}
	if err := e.recordAdmin(ctx, ev); err != nil {
		e.rollback(ctx, ev, dirSnap, gateSnap)
		return types.EnrollResponse{}, err
	}

	resp.Principal = principalView(p, now)
	return resp, nil
}

func (e *Engine) GetPrincipal(id string) (types.PrincipalView, error) {
	id, err := normalizePrincipalID(id)
	if err != nil {
		return types.PrincipalView{}, err
	}
	p, err := e.dir.Get(id)
	if err != nil {
		return types.PrincipalView{}, err
	}
	return principalView(p, e.now().UTC()), nil
}

func (e *Engine) ListPrincipals() types.PrincipalList {
	now := e.now().UTC()
	ps := e.dir.List()
	out := types.PrincipalList{Principals: make([]types.PrincipalView, 0, len(ps)), Total: len(ps)}
	for _, p := range ps {
		out.Principals = append(out.Principals, principalView(p, now))
	}
	return out
}

// DeletePrincipal removes a principal together with its second-factor
// secret and any open challenge.
func (e *Engine) DeletePrincipal(ctx context.Context, id, origin string) error {
	id, err := normalizePrincipalID(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.dir.Get(id); err != nil {
		return err
	}
	dirSnap := e.dir.Snapshot()
	gateSnap := e.gate.Snapshot()

	if err := e.dir.Delete(ctx, id); err != nil {
		return err
	}
	if err := e.gate.Revoke(ctx, id); err != nil {
		e.rollback(ctx, audit.Event{Type: audit.EventPrincipalDeletion, PrincipalID: id}, dirSnap, nil)
		return err
	}

	ev := audit.Event{
		Type:        audit.EventPrincipalDeletion,
		PrincipalID: id,
		Decision:    audit.DecisionGranted,
		Reason:      "principal deleted",
		Origin:      normalizeOrigin(origin),
	}
	if err := e.recordAdmin(ctx, ev); err != nil {
		e.rollback(ctx, ev, dirSnap, gateSnap)
		return err
	}
	delete(e.pending, id)
	return nil
}

// AddTemplate appends another template to an enrolled principal.
func (e *Engine) AddTemplate(ctx context.Context, id string, req types.AddTemplateRequest) (types.PrincipalView, error) {
	id, err := normalizePrincipalID(id)
	if err != nil {
		return types.PrincipalView{}, err
	}
	tpl, err := e.probe(ctx, "template", req.Template, req.Image)
	if errors.Is(err, extractor.ErrNoFaceDetected) {
		return types.PrincipalView{}, invalid("image", "no face detected")
	}
	if err != nil {
		return types.PrincipalView{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before, err := e.dir.Get(id)
	if err != nil {
		return types.PrincipalView{}, err
	}
	after := before.Clone()
	after.Templates = append(after.Templates, tpl)

	ev := audit.Event{
		Type:        audit.EventTemplateAdded,
		PrincipalID: id,
		Decision:    audit.DecisionGranted,
		Reason:      fmt.Sprintf("template %d added", len(after.Templates)),
		Origin:      normalizeOrigin(req.Origin),
	}
	if err := e.commitPrincipal(ctx, before, after, ev, true); err != nil {
		return types.PrincipalView{}, err
	}
	return principalView(after, e.now().UTC()), nil
}

// Unlock clears a principal's failure counter and lockout.
func (e *Engine) Unlock(ctx context.Context, id, origin string) (types.PrincipalView, error) {
	id, err := normalizePrincipalID(id)
	if err != nil {
		return types.PrincipalView{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before, err := e.dir.Get(id)
	if err != nil {
		return types.PrincipalView{}, err
	}
	after := before.Clone()
	e.lockout.Reset(&after)

	ev := audit.Event{
		Type:        audit.EventPrincipalUnlock,
		PrincipalID: id,
		Decision:    audit.DecisionGranted,
		Reason:      fmt.Sprintf("unlocked after %d failed attempts", before.FailedAttempts),
		Origin:      normalizeOrigin(origin),
	}
	if err := e.commitPrincipal(ctx, before, after, ev, true); err != nil {
		return types.PrincipalView{}, err
	}
	return principalView(after, e.now().UTC()), nil
}

// ReissueSecondFactor replaces a tier 2 or 3 principal's secret.  Any open
// challenge is closed since codes from the old secret no longer verify.
func (e *Engine) ReissueSecondFactor(ctx context.Context, id, origin string) (types.SecondFactorProvisioning, error) {
	id, err := normalizePrincipalID(id)
	if err != nil {
		return types.SecondFactorProvisioning{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before, err := e.dir.Get(id)
	if err != nil {
		return types.SecondFactorProvisioning{}, err
	}
	if !before.Tier.RequiresSecondFactor() {
		return types.SecondFactorProvisioning{}, invalid("principal_id", "tier %d does not use a second factor", before.Tier)
	}

	gateSnap := e.gate.Snapshot()
	dirSnap := e.dir.Snapshot()
	prov, err := e.gate.Issue(ctx, id)
	if err != nil {
		return types.SecondFactorProvisioning{}, err
	}
	ev := audit.Event{
		Type:        audit.EventSecondFactorReissue,
		PrincipalID: id,
		Decision:    audit.DecisionGranted,
		Reason:      "second factor reissued",
		Origin:      normalizeOrigin(origin),
	}
	if !before.SecondFactorEnrolled {
		after := before.Clone()
		after.SecondFactorEnrolled = true
		if err := e.dir.Put(ctx, after); err != nil {
			e.rollback(ctx, ev, nil, gateSnap)
			return types.SecondFactorProvisioning{}, err
		}
	}
	if err := e.recordAdmin(ctx, ev); err != nil {
		e.rollback(ctx, ev, dirSnap, gateSnap)
		return types.SecondFactorProvisioning{}, err
	}
	delete(e.pending, id)

	return types.SecondFactorProvisioning{Secret: prov.Secret, URI: prov.URI, QRCode: prov.QRCode}, nil
}
