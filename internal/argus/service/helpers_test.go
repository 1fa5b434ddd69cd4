package service_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/extractor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/memory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

var (
	tplA = []float64{1, 0, 0, 0}
	tplB = []float64{0, 1, 0, 0}
	tplC = []float64{0, 0, 1, 0}
	// 0.6 cosine similarity to tplA, exactly.
	tplNearA = []float64{0.6, 0.8, 0, 0}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type countingRecorder struct {
	mu        sync.Mutex
	decisions map[string]int
	lockouts  int
}

func (r *countingRecorder) Decision(event, decision, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		r.decisions = make(map[string]int)
	}
	r.decisions[event+"/"+decision]++
}

func (r *countingRecorder) Lockout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockouts++
}

type harness struct {
	t        *testing.T
	engine   *service.Engine
	blobs    *memory.BlobStore
	records  *memory.AuditRecordStore
	clock    *testClock
	recorder *countingRecorder
	keyPath  string
	cfg      service.BootstrapConfig
}

type harnessOption func(*service.BootstrapConfig)

func withAdminEvents(on bool) harnessOption {
	return func(c *service.BootstrapConfig) { c.Policy.AuditAdminEvents = on }
}

func withExtractor(x extractor.Extractor) harnessOption {
	return func(c *service.BootstrapConfig) { c.Extractor = x }
}

func withMaxAttempts(n int) harnessOption {
	return func(c *service.BootstrapConfig) { c.Policy.MaxAttempts = n }
}

// newHarness builds an Engine over in-memory stores with 4-dimensional
// templates.  Admin events are off unless withAdminEvents(true) is given so
// tests only see decision records.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		blobs:    memory.NewBlobStore(),
		records:  memory.NewAuditRecordStore(),
		clock:    &testClock{t: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)},
		recorder: &countingRecorder{},
		keyPath:  filepath.Join(t.TempDir(), "argus.key"),
	}

	policy := service.DefaultPolicy()
	policy.TemplateDim = 4
	policy.AuditAdminEvents = false

	h.cfg = service.BootstrapConfig{
		KeyPath:  h.keyPath,
		Issuer:   "Argus Test",
		Policy:   policy,
		Recorder: h.recorder,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      h.clock.Now,
	}
	for _, opt := range opts {
		opt(&h.cfg)
	}
	h.engine = h.boot()
	return h
}

// boot (re)loads an Engine from the harness stores, as a restart would.
func (h *harness) boot() *service.Engine {
	h.t.Helper()
	e, err := service.Bootstrap(context.Background(),
		service.Stores{Blobs: h.blobs, Audit: h.records}, h.cfg)
	require.NoError(h.t, err)
	return e
}

func (h *harness) enroll(id string, tier int, tpl []float64) types.EnrollResponse {
	h.t.Helper()
	resp, err := h.engine.Enroll(context.Background(), types.EnrollRequest{
		PrincipalID: id,
		Tier:        tier,
		Template:    tpl,
	})
	require.NoError(h.t, err)
	return resp
}

func (h *harness) authenticate(tpl []float64) types.AuthenticateResponse {
	h.t.Helper()
	resp, err := h.engine.Authenticate(context.Background(), types.AuthenticateRequest{Template: tpl})
	require.NoError(h.t, err)
	return resp
}

func (h *harness) verify(id, code string) types.VerifySecondFactorResponse {
	h.t.Helper()
	resp, err := h.engine.VerifySecondFactor(context.Background(), types.VerifySecondFactorRequest{
		PrincipalID: id,
		Code:        code,
	})
	require.NoError(h.t, err)
	return resp
}

func (h *harness) principal(id string) types.PrincipalView {
	h.t.Helper()
	p, err := h.engine.GetPrincipal(id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) setThresholds(t1, t2, t3 float64) {
	h.t.Helper()
	_, err := h.engine.UpdateThresholds(context.Background(), types.UpdateThresholdsRequest{
		Tier1: &t1, Tier2: &t2, Tier3: &t3,
	})
	require.NoError(h.t, err)
}

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

func (h *harness) code(secret string) string {
	h.t.Helper()
	c, err := totp.GenerateCodeCustom(secret, h.clock.Now(), totpOpts)
	require.NoError(h.t, err)
	return c
}

// wrongCode returns a well-formed code that is not valid in any step the
// verifier accepts.
func (h *harness) wrongCode(secret string) string {
	h.t.Helper()
	now := h.clock.Now()
	valid := map[string]bool{}
	for _, off := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		c, err := totp.GenerateCodeCustom(secret, now.Add(off), totpOpts)
		require.NoError(h.t, err)
		valid[c] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	h.t.Fatal("could not find an invalid code")
	return ""
}

func (h *harness) eventTypes() []string {
	var out []string
	for _, r := range h.records.Records() {
		out = append(out, r.EventType)
	}
	return out
}
