// Package httpserver exposes the ops and ingest HTTP surface. It carries the
// same tagged events as the bus: submissions, revokes, and policy snapshots.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vantagetrading/approvald/internal/gateway"
	"github.com/vantagetrading/approvald/internal/models"
	"github.com/vantagetrading/approvald/internal/store"
)

type Server struct {
	gw *gateway.Gateway
	st store.Store
}

func New(gw *gateway.Gateway, st store.Store) *Server {
	return &Server{gw: gw, st: st}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/approvals", func(r chi.Router) {
		r.Post("/submit", s.handleSubmit)
		r.Get("/pending", s.handlePending)
		r.Get("/decisions", s.handleDecisions)
		r.Post("/{key}/revoke", s.handleRevoke)
	})
	r.Post("/policy/snapshot", s.handlePolicySnapshot)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.st.Ping(ctx); err != nil {
		status["ok"] = false
		status["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.gw.MetricsSummary())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var ev models.ManualRequestEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	decision, err := s.gw.HandleManualRequest(r.Context(), ev)
	if err != nil {
		if errors.Is(err, gateway.ErrMalformed) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"chains": s.gw.Pending(),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		ApprovalKey: r.URL.Query().Get("approvalKey"),
		Action:      r.URL.Query().Get("action"),
		Kind:        models.DecisionKind(r.URL.Query().Get("kind")),
	}
	decisions, err := s.st.ListDecisions(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Reason      string           `json:"reason"`
		Rollback    json.RawMessage  `json:"rollback,omitempty"`
		RequestedBy models.Requester `json:"requestedBy"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	decision, err := s.gw.Revoke(r.Context(), models.RevokeRequestEvent{
		ApprovalKey: key,
		Reason:      body.Reason,
		Rollback:    body.Rollback,
		RequestedBy: body.RequestedBy,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handlePolicySnapshot(w http.ResponseWriter, r *http.Request) {
	var ev models.PolicySnapshotEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.gw.ApplyPolicySnapshot(ev); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
