// Package api exposes the patronage engine over HTTP: balance and
// history queries, the contribution lifecycle, the close workflow, a
// server-sent-events feed of the event log, and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coopledger/patronage/internal/compliance"
	"github.com/coopledger/patronage/internal/contribution"
	"github.com/coopledger/patronage/internal/ledger"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"

	periodclose "github.com/coopledger/patronage/internal/close"
)

// Server wires the services behind the HTTP surface.
type Server struct {
	store    *store.Store
	ledger   *ledger.Service
	contribs *contribution.Service
	orch     *periodclose.Orchestrator
	checker  *compliance.Checker
	policy   policy.Policy
	logger   *slog.Logger

	// pollInterval paces the SSE feed's event-log polling. Tests lower
	// it; the default trades latency for write-path quiet.
	pollInterval time.Duration
}

// NewServer creates the API server.
func NewServer(st *store.Store, led *ledger.Service, contribs *contribution.Service, orch *periodclose.Orchestrator, chk *compliance.Checker, pol policy.Policy, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:        st,
		ledger:       led,
		contribs:     contribs,
		orch:         orch,
		checker:      chk,
		policy:       pol,
		logger:       logger.With("component", "api"),
		pollInterval: 500 * time.Millisecond,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/accounts/{id}/balance", s.handleBalance)
		r.Get("/accounts/{id}/history", s.handleHistory)

		r.Get("/members", s.handleListMembers)
		r.Post("/members", s.handleCreateMember)

		r.Get("/periods", s.handleListPeriods)
		r.Post("/periods", s.handleCreatePeriod)
		r.Get("/periods/active", s.handleActivePeriod)
		r.Get("/periods/{id}", s.handleGetPeriod)
		r.Post("/periods/{id}/close", s.handleCloseInitiate)
		r.Post("/periods/{id}/close/approve", s.handleCloseApprove)
		r.Post("/periods/{id}/close/reject", s.handleCloseReject)
		r.Post("/periods/{id}/close/resume", s.handleCloseResume)
		r.Get("/periods/{id}/close/status", s.handleCloseStatus)

		r.Get("/contributions", s.handleListContributions)
		r.Post("/contributions", s.handleSubmitContribution)
		r.Post("/contributions/{id}/approve", s.handleApproveContribution)
		r.Post("/contributions/{id}/reject", s.handleRejectContribution)

		r.Get("/violations", s.handleViolations)
		r.Get("/events", s.handleEvents)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
