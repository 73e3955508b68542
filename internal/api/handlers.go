package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/archlens/archlens/internal/store"
)

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartRequest is the body of POST /runs.
type StartRequest struct {
	RepoURL      string `json:"repo_url"`
	ForceRefresh bool   `json:"force_refresh"`
}

// StartResponse is the body returned by POST /runs (spec.md §6 "start").
// CachedAt is set only on a cache hit against a prior completed run.
type StartResponse struct {
	RunID    string       `json:"run_id"`
	Status   store.Status `json:"status"`
	CachedAt *time.Time   `json:"cached_at,omitempty"`
}

// StatusResponse is the body returned by GET /runs/{runID} (spec.md §6 "status").
type StatusResponse struct {
	Status        store.Status `json:"status"`
	ProgressLabel string       `json:"progress_label,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// CorrectRequest is the body of POST /runs/{runID}/diagram/{mode}/correct.
type CorrectRequest struct {
	BrokenCode   string `json:"broken_code"`
	ErrorMessage string `json:"error_message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "archlens"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url is required")
		return
	}

	runID, status, cachedAt, err := s.service.Start(r.Context(), req.RepoURL, req.ForceRefresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, StartResponse{RunID: runID, Status: status, CachedAt: cachedAt})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	status, label, message, err := s.service.Status(runID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: status, ProgressLabel: label, Message: message})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	results, err := s.service.Result(runID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGenerateDiagram(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	mode := chi.URLParam(r, "mode")

	diagram, err := s.service.GenerateDiagram(r.Context(), runID, mode)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diagram))
}

func (s *Server) handleCorrectDiagram(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	mode := chi.URLParam(r, "mode")

	var req CorrectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	corrected, err := s.service.CorrectDiagram(r.Context(), runID, mode, req.BrokenCode, req.ErrorMessage)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(corrected))
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, store.ErrNotReady):
		writeError(w, http.StatusConflict, "run not ready")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
