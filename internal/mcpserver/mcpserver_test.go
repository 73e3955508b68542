package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
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
	return New(svc)
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleStartRequiresRepoURL(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStart(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleStartAndStatus(t *testing.T) {
	s := newTestServer(t)

	startResult, err := s.handleStart(context.Background(), toolRequest(map[string]any{
		"repo_url": "https://example.com/repo.git",
	}))
	require.NoError(t, err)
	require.False(t, startResult.IsError)

	text, ok := startResult.Content[0].(mcp.TextContent)
	require.True(t, ok)
	require.Contains(t, text.Text, "run_id")

	var started map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &started))
	runID, ok := started["run_id"].(string)
	require.True(t, ok)

	statusResult, err := s.handleStatus(context.Background(), toolRequest(map[string]any{"run_id": runID}))
	require.NoError(t, err)
	require.False(t, statusResult.IsError)
}

func TestHandleGenerateDiagramRequiresRunIDAndMode(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleGenerateDiagram(context.Background(), toolRequest(map[string]any{
		"run_id": "x",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleCorrectDiagramRequiresAllFields(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCorrectDiagram(context.Background(), toolRequest(map[string]any{
		"mode": "overview",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}
