package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/db"
	"github.com/mamutelabs/steward/internal/engine/confirm"
	"github.com/mamutelabs/steward/internal/engine/execute"
)

// ProactiveRequest represents a request to the proactive mode endpoint
type ProactiveRequest struct {
	Enabled bool `json:"enabled"`
}

// ProactiveResponse represents the proactive mode after the change
type ProactiveResponse struct {
	Enabled  bool `json:"enabled"`
	Previous bool `json:"previous"`
}

// ConfirmationResolveRequest represents an answer to a pending confirmation
type ConfirmationResolveRequest struct {
	Approved bool `json:"approved"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

// handleReady handles readiness check requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := s.IsRunning()
	if ready && s.store != nil {
		ready = s.store.Ping(r.Context()) == nil
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

// handleAnalyze triggers one analysis pass and returns its outcome
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.engine.AnalyzeAndImprove(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Analysis failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleStatus returns the engine's current state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.engine.GetStatus())
}

// handleProactive gets or sets the proactive mode switch
func (s *Server) handleProactive(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ProactiveRequest{Enabled: s.engine.ProactiveMode()})

	case http.MethodPut:
		var req ProactiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		prev := s.engine.ToggleProactiveMode(req.Enabled)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ProactiveResponse{Enabled: req.Enabled, Previous: prev})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfirmations lists pending confirmation requests
func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.engine.PendingConfirmations())
}

// handleConfirmationResolve answers one pending confirmation.
// Route: POST /api/v1/confirmations/{id}
func (s *Server) handleConfirmationResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/confirmations/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Confirmation ID required", http.StatusBadRequest)
		return
	}

	var req ConfirmationResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	rec, err := s.engine.ConfirmAction(r.Context(), id, req.Approved)
	if err != nil {
		switch {
		case errors.Is(err, confirm.ErrNotFound):
			http.Error(w, fmt.Sprintf("Unknown confirmation: %s", id), http.StatusNotFound)
		case errors.Is(err, confirm.ErrAlreadyResolved):
			http.Error(w, fmt.Sprintf("Confirmation already resolved: %s", id), http.StatusConflict)
		case errors.Is(err, execute.ErrResourceBusy):
			http.Error(w, fmt.Sprintf("Resource busy: %v", err), http.StatusConflict)
		case errors.Is(err, execute.ErrActionSuspended):
			http.Error(w, fmt.Sprintf("Action suspended: %v", err), http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Confirmation failed: %v", err), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if rec == nil {
		// Denied: nothing executed.
		w.Write([]byte(`{"status":"denied"}`))
		return
	}
	json.NewEncoder(w).Encode(rec)
}

// handleActionResume clears a suspended action's circuit breaker.
// Route: POST /api/v1/actions/{id}/resume
func (s *Server) handleActionResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/actions/")
	actionID, op, ok := strings.Cut(rest, "/")
	if !ok || op != "resume" || actionID == "" {
		http.Error(w, "Route not found", http.StatusNotFound)
		return
	}

	if !s.engine.ResumeAction(actionID) {
		http.Error(w, fmt.Sprintf("Action not suspended: %s", actionID), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"resumed","action_id":"` + actionID + `"}`))
}

// handleAuditEvents queries the durable audit trail, newest first.
// Route: GET /api/v1/audit/events?action_id=&min_severity=&limit=
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Audit store not configured", http.StatusServiceUnavailable)
		return
	}

	query := db.AuditQuery{
		ActionID: r.URL.Query().Get("action_id"),
		Limit:    100,
	}
	if sev := r.URL.Query().Get("min_severity"); sev != "" {
		switch audit.Severity(sev) {
		case audit.SeverityInfo, audit.SeverityWarning, audit.SeverityError, audit.SeverityCritical:
			query.MinSeverity = audit.Severity(sev)
		default:
			http.Error(w, fmt.Sprintf("Invalid min_severity: %s", sev), http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			http.Error(w, "Limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		query.Limit = limit
	}

	entries, err := s.store.QueryAuditEntries(r.Context(), query)
	if err != nil {
		http.Error(w, fmt.Sprintf("Audit query failed: %v", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(entries)
}
