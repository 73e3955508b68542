package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archlens/archlens/internal/config"
	"github.com/archlens/archlens/internal/service"
	"github.com/archlens/archlens/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Service.DataDir = dir
	cfg.Analysis.WorkDirRoot = dir + "/workspaces"
	cfg.LLM.FallbackChain = config.StringSlice{"llama3.1"}

	svc := service.NewAnalysisService(cfg, st)
	return NewServer(cfg, svc)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestHandleVersion(t *testing.T) {
	SetVersion("test-version")
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "test-version", resp.Version)
	require.Equal(t, "archlens", resp.Service)
}

func TestHandleStartRejectsMissingRepoURL(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(StartRequest{})
	req := httptest.NewRequest(http.MethodPost, "/runs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartAndStatusRoundTrip(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(StartRequest{RepoURL: "https://example.com/repo.git"})
	req := httptest.NewRequest(http.MethodPost, "/runs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var started StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)
	require.Equal(t, store.StatusPending, started.Status)

	statusReq := httptest.NewRequest(http.MethodGet, "/runs/"+started.RunID, nil)
	statusRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)
}

func TestHandleStatusReturnsNotFoundForUnknownRun(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResultReturnsConflictBeforeCompletion(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(StartRequest{RepoURL: "https://example.com/repo.git"})
	req := httptest.NewRequest(http.MethodPost, "/runs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var started StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	resultReq := httptest.NewRequest(http.MethodGet, "/runs/"+started.RunID+"/result", nil)
	resultRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(resultRec, resultReq)

	require.Equal(t, http.StatusConflict, resultRec.Code)
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Service.DataDir = dir
	cfg.Analysis.WorkDirRoot = dir + "/workspaces"
	cfg.LLM.FallbackChain = config.StringSlice{"llama3.1"}
	cfg.API.APIKey = "secret"

	svc := service.NewAnalysisService(cfg, st)
	s := NewServer(cfg, svc)

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
