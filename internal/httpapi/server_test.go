package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/memory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/server/internal/httpapi"
	"github.com/BrandonDHaskell/Argus/server/internal/metrics"
)

type testEnv struct {
	ts      *httptest.Server
	records *memory.AuditRecordStore
}

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	records := memory.NewAuditRecordStore()
	m := metrics.New()

	policy := service.DefaultPolicy()
	policy.TemplateDim = 4
	policy.AuditAdminEvents = false

	engine, err := service.Bootstrap(context.Background(),
		service.Stores{Blobs: memory.NewBlobStore(), Audit: records},
		service.BootstrapConfig{
			KeyPath:  filepath.Join(t.TempDir(), "argus.key"),
			Policy:   policy,
			Recorder: m,
			Logger:   logger,
		})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    ":0",
		Engine:  engine,
		Metrics: m,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, records: records}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// ── Enrollment ───────────────────────────────────────────────────────────────

func TestEnroll_Created_Then_Conflict(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"alice","tier":1,"template":[1,0,0,0]}`)
	expectStatus(t, resp, http.StatusCreated)

	var er types.EnrollResponse
	decode(t, resp, &er)
	if er.Principal.ID != "alice" || er.Principal.Tier != 1 {
		t.Errorf("unexpected principal %+v", er.Principal)
	}
	if er.SecondFactor != nil {
		t.Error("expected no second factor for tier 1")
	}

	resp = env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"alice","tier":2,"template":[0,1,0,0]}`)
	expectStatus(t, resp, http.StatusConflict)
}

func TestEnroll_Rejected_400(t *testing.T) {
	env := newTestServer(t)

	for _, body := range []string{
		`not json at all`,
		`{"principal_id":"alice","tier":1,"template":[1,0]}`,
		`{"principal_id":"alice","tier":9,"template":[1,0,0,0]}`,
		`{"principal_id":"alice","tier":1,"template":[1,0,0,0],"admin":true}`,
	} {
		resp := env.do(t, http.MethodPost, "/v1/principals", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
	if n := len(env.records.Records()); n != 0 {
		t.Errorf("expected no audit records, got %d", n)
	}
}

func TestPrincipal_GetListDelete(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"bob","tier":3,"template":[0,1,0,0]}`), http.StatusCreated)

	resp := env.do(t, http.MethodGet, "/v1/principals/bob", "")
	expectStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "template\":[") || strings.Contains(string(raw), "secret") {
		t.Errorf("principal view leaks material: %s", raw)
	}

	resp = env.do(t, http.MethodGet, "/v1/principals", "")
	expectStatus(t, resp, http.StatusOK)
	var list types.PrincipalList
	decode(t, resp, &list)
	if list.Total != 1 {
		t.Errorf("expected 1 principal, got %d", list.Total)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/v1/principals/bob", ""), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/principals/bob", ""), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/v1/principals/bob", ""), http.StatusNotFound)
}

// ── Authentication ───────────────────────────────────────────────────────────

func TestAuthenticate_Granted_And_Denied(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"alice","tier":1,"template":[1,0,0,0]}`), http.StatusCreated)

	resp := env.do(t, http.MethodPost, "/v1/authenticate", `{"template":[1,0,0,0]}`)
	expectStatus(t, resp, http.StatusOK)
	var ar types.AuthenticateResponse
	decode(t, resp, &ar)
	if !ar.Granted || ar.PrincipalID != "alice" {
		t.Errorf("expected alice granted, got %+v", ar)
	}

	resp = env.do(t, http.MethodPost, "/v1/authenticate", `{"template":[0.6,0.8,0,0]}`)
	expectStatus(t, resp, http.StatusUnauthorized)
	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "alice") || strings.Contains(string(raw), "confidence") {
		t.Errorf("denial leaks identity or score: %s", raw)
	}
	if !strings.Contains(string(raw), types.ReasonAccessDenied) {
		t.Errorf("expected generic denial reason: %s", raw)
	}
}

func TestAuthenticate_SecondFactorFlow(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"bob","tier":3,"template":[0,1,0,0]}`)
	expectStatus(t, resp, http.StatusCreated)
	var er types.EnrollResponse
	decode(t, resp, &er)
	if er.SecondFactor == nil || er.SecondFactor.Secret == "" || er.SecondFactor.URI == "" {
		t.Fatalf("expected provisioning material at enrollment, got %+v", er.SecondFactor)
	}

	resp = env.do(t, http.MethodPost, "/v1/authenticate", `{"template":[0,1,0,0]}`)
	expectStatus(t, resp, http.StatusOK)
	var ar types.AuthenticateResponse
	decode(t, resp, &ar)
	if ar.Granted || !ar.SecondFactorRequired {
		t.Fatalf("expected pending second factor, got %+v", ar)
	}

	code, err := totp.GenerateCode(er.SecondFactor.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	resp = env.do(t, http.MethodPost, "/v1/second_factor/verify", `{"principal_id":"bob","code":"12"}`)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/v1/second_factor/verify", `{"principal_id":"bob","code":"`+code+`"}`)
	expectStatus(t, resp, http.StatusOK)
	var vr types.VerifySecondFactorResponse
	decode(t, resp, &vr)
	if !vr.Granted {
		t.Errorf("expected granted, got %+v", vr)
	}

	resp = env.do(t, http.MethodGet, "/v1/principals/bob", "")
	var pv types.PrincipalView
	decode(t, resp, &pv)
	if pv.LastAccess == nil {
		t.Error("expected last_access after grant")
	}
}

func TestVerifySecondFactor_SameDenialForEveryPrincipal(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"alice","tier":1,"template":[1,0,0,0]}`), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"bob","tier":3,"template":[0,1,0,0]}`), http.StatusCreated)

	// ghost does not exist, alice is tier 1, bob has no open challenge.
	for _, id := range []string{"ghost", "alice", "bob"} {
		resp := env.do(t, http.MethodPost, "/v1/second_factor/verify", `{"principal_id":"`+id+`","code":"123456"}`)
		expectStatus(t, resp, http.StatusUnauthorized)

		var vr types.VerifySecondFactorResponse
		decode(t, resp, &vr)
		if vr.Granted || vr.Status != types.StatusDenied || vr.Reason != types.ReasonAccessDenied || vr.PrincipalID != "" {
			t.Errorf("%s: expected generic denial, got %+v", id, vr)
		}
	}
}

func TestAuthenticate_Protobuf(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"alice","tier":1,"template":[1,0,0,0]}`), http.StatusCreated)

	reqMsg, err := structpb.NewStruct(map[string]any{"template": []any{1.0, 0.0, 0.0, 0.0}})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	body, err := proto.Marshal(reqMsg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/authenticate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf response, got %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.GetFields()["granted"].GetBoolValue() {
		t.Errorf("expected granted=true, got %v", out.AsMap())
	}
	if got := out.GetFields()["principal_id"].GetStringValue(); got != "alice" {
		t.Errorf("expected principal_id=alice, got %q", got)
	}
}

// ── Thresholds ───────────────────────────────────────────────────────────────

func TestThresholds_GetAndUpdate(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodGet, "/v1/thresholds", "")
	expectStatus(t, resp, http.StatusOK)
	var tv types.ThresholdsView
	decode(t, resp, &tv)
	if tv.Tier1 != 0.70 || tv.Tier2 != 0.80 || tv.Tier3 != 0.85 {
		t.Errorf("unexpected defaults %+v", tv)
	}

	expectStatus(t, env.do(t, http.MethodPut, "/v1/thresholds", `{"tier_1":0.9,"tier_2":0.8,"tier_3":0.85}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/v1/thresholds", `{"tier_1":0.8,"tier_2":0.8}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/v1/thresholds", `{"tier_1":0.8,"tier_2":0.8,"tier_3":0.8}`), http.StatusOK)
}

// ── Audit ────────────────────────────────────────────────────────────────────

func TestAudit_ListAndIntegrity(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/principals", `{"principal_id":"alice","tier":1,"template":[1,0,0,0]}`), http.StatusCreated)
	for i := 0; i < 3; i++ {
		expectStatus(t, env.do(t, http.MethodPost, "/v1/authenticate", `{"template":[1,0,0,0]}`), http.StatusOK)
	}

	resp := env.do(t, http.MethodGet, "/v1/audit?limit=2&principal_id=alice", "")
	expectStatus(t, resp, http.StatusOK)
	var page types.AuditPage
	decode(t, resp, &page)
	if page.Total != 3 || len(page.Records) != 2 {
		t.Errorf("expected total=3 with 2 records, got total=%d len=%d", page.Total, len(page.Records))
	}
	if !page.Integrity.Valid {
		t.Error("expected valid chain")
	}

	expectStatus(t, env.do(t, http.MethodGet, "/v1/audit?limit=abc", ""), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/audit/integrity", ""), http.StatusOK)

	env.records.Tamper(1, func(r *store.AuditRecord) { r.Reason = "edited" })
	resp = env.do(t, http.MethodGet, "/v1/audit/integrity", "")
	expectStatus(t, resp, http.StatusConflict)
	var rep types.IntegrityReport
	decode(t, resp, &rep)
	if rep.FirstViolation == nil || *rep.FirstViolation != 1 {
		t.Errorf("expected first_violation=1, got %+v", rep.FirstViolation)
	}
}

// ── Plumbing ─────────────────────────────────────────────────────────────────

func TestRequestID_PropagatedOrAssigned(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodGet, "/healthz", "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("expected propagated request id, got %q", got)
	}
}

func TestMetrics_Exposed(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/authenticate", `{"template":[1,0,0,0]}`), http.StatusUnauthorized)

	resp := env.do(t, http.MethodGet, "/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `argus_decisions_total{decision="denied",event="authentication",reason="no_match"} 1`) {
		t.Errorf("decision counter missing from metrics output")
	}
	if !strings.Contains(string(raw), `route="POST /v1/authenticate"`) {
		t.Errorf("request counter missing from metrics output")
	}
}
