package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/extractor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/vault"
	"github.com/BrandonDHaskell/Argus/server/internal/metrics"
)

// originHeader lets a reader or console identify itself in audit records.
const originHeader = "X-Argus-Origin"

type Dependencies struct {
	Logger  *slog.Logger
	Addr    string
	Engine  *service.Engine
	Metrics *metrics.Metrics // optional
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	engine     *service.Engine
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger: d.Logger,
		mux:    mux,
		engine: d.Engine,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux.HandleFunc("POST /v1/principals", s.handleEnroll)
	mux.HandleFunc("GET /v1/principals", s.handleListPrincipals)
	mux.HandleFunc("GET /v1/principals/{id}", s.handleGetPrincipal)
	mux.HandleFunc("DELETE /v1/principals/{id}", s.handleDeletePrincipal)
	mux.HandleFunc("POST /v1/principals/{id}/templates", s.handleAddTemplate)
	mux.HandleFunc("POST /v1/principals/{id}/unlock", s.handleUnlock)
	mux.HandleFunc("POST /v1/principals/{id}/second_factor", s.handleReissueSecondFactor)

	mux.HandleFunc("POST /v1/authenticate", s.handleAuthenticate)
	mux.HandleFunc("POST /v1/second_factor/verify", s.handleVerifySecondFactor)

	mux.HandleFunc("GET /v1/thresholds", s.handleGetThresholds)
	mux.HandleFunc("PUT /v1/thresholds", s.handleUpdateThresholds)

	mux.HandleFunc("GET /v1/audit", s.handleAuditRecords)
	mux.HandleFunc("GET /v1/audit/integrity", s.handleIntegrity)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var handler http.Handler = mux
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
		handler = d.Metrics.Middleware(handler)
	}
	handler = loggingMiddleware(s.logger, handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Principals ───────────────────────────────────────────────────────────────

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req types.EnrollRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Origin = origin(r)

	resp, err := s.engine.Enroll(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "enroll", err)
		return
	}
	respond(w, r, http.StatusCreated, resp)
}

func (s *Server) handleListPrincipals(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.engine.ListPrincipals())
}

func (s *Server) handleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetPrincipal(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get_principal", err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

func (s *Server) handleDeletePrincipal(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeletePrincipal(r.Context(), r.PathValue("id"), origin(r)); err != nil {
		s.writeServiceError(w, r, "delete_principal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddTemplate(w http.ResponseWriter, r *http.Request) {
	var req types.AddTemplateRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Origin = origin(r)

	p, err := s.engine.AddTemplate(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeServiceError(w, r, "add_template", err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Unlock(r.Context(), r.PathValue("id"), origin(r))
	if err != nil {
		s.writeServiceError(w, r, "unlock", err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

func (s *Server) handleReissueSecondFactor(w http.ResponseWriter, r *http.Request) {
	prov, err := s.engine.ReissueSecondFactor(r.Context(), r.PathValue("id"), origin(r))
	if err != nil {
		s.writeServiceError(w, r, "reissue_second_factor", err)
		return
	}
	respond(w, r, http.StatusOK, prov)
}

// ── Decisions ────────────────────────────────────────────────────────────────

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req types.AuthenticateRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Origin = origin(r)

	resp, err := s.engine.Authenticate(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "authenticate", err)
		return
	}
	status := http.StatusOK
	if resp.Status == types.StatusDenied {
		status = http.StatusUnauthorized
	}
	respond(w, r, status, resp)
}

func (s *Server) handleVerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req types.VerifySecondFactorRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Origin = origin(r)

	resp, err := s.engine.VerifySecondFactor(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "verify_second_factor", err)
		return
	}
	status := http.StatusOK
	if !resp.Granted {
		status = http.StatusUnauthorized
	}
	respond(w, r, status, resp)
}

// ── Thresholds ───────────────────────────────────────────────────────────────

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.engine.Thresholds())
}

func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateThresholdsRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Origin = origin(r)

	view, err := s.engine.UpdateThresholds(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "update_thresholds", err)
		return
	}
	respond(w, r, http.StatusOK, view)
}

// ── Audit ────────────────────────────────────────────────────────────────────

func (s *Server) handleAuditRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "offset must be an integer")
		return
	}

	page, err := s.engine.AuditRecords(r.Context(), types.AuditQuery{
		PrincipalID: q.Get("principal_id"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		s.writeServiceError(w, r, "audit_records", err)
		return
	}
	respond(w, r, http.StatusOK, page)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Integrity(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "integrity", err)
		return
	}
	status := http.StatusOK
	if !rep.Valid {
		status = http.StatusConflict
	}
	respond(w, r, status, rep)
}

// ── Errors ───────────────────────────────────────────────────────────────────

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "invalid_request", ve.Error())
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "principal not found")
	case errors.Is(err, directory.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "principal already exists")
	case errors.Is(err, extractor.ErrModelUnavailable):
		writeError(w, http.StatusServiceUnavailable, "model_unavailable", "template extraction is unavailable")
	default:
		code := "internal_error"
		var se *vault.StorageError
		if errors.As(err, &se) || errors.Is(err, vault.ErrDecryption) {
			code = "storage_error"
		}
		s.logger.Error("request failed",
			"op", op,
			"request_id", requestIDFrom(r.Context()),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, code, "unexpected server error")
	}
}

func origin(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(originHeader)); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
