// Package mcpserver exposes AnalysisService over the Model Context
// Protocol, the way index/mcp_server.go wraps an Indexer: one
// mark3labs/mcp-go tool per operation, thin argument parsing, and a
// text or JSON CallToolResult.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/archlens/archlens/internal/service"
)

// Server wraps an AnalysisService to provide MCP tool access.
type Server struct {
	service *service.AnalysisService
	server  *server.MCPServer
}

// New creates an MCP server bound to svc.
func New(svc *service.AnalysisService) *Server {
	s := &Server{service: svc}

	mcpServer := server.NewMCPServer(
		"archlens",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// registerTools registers the five operations spec.md §6 names.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("archlens_start",
			mcp.WithDescription("Start an architecture analysis run for a git repository. Returns a run_id and initial status."),
			mcp.WithString("repo_url",
				mcp.Required(),
				mcp.Description("Git clone URL of the repository to analyze"),
			),
			mcp.WithBoolean("force_refresh",
				mcp.Description("Ignore any cached completed run for this repo_url and start a fresh analysis (default: false)"),
			),
		),
		s.handleStart,
	)

	mcpServer.AddTool(
		mcp.NewTool("archlens_status",
			mcp.WithDescription("Get the lifecycle status of an analysis run."),
			mcp.WithString("run_id",
				mcp.Required(),
				mcp.Description("Run id returned by archlens_start"),
			),
		),
		s.handleStatus,
	)

	mcpServer.AddTool(
		mcp.NewTool("archlens_result",
			mcp.WithDescription("Fetch the full result set (language stats, dependency graph, narrative, components, diagrams) of a completed analysis run."),
			mcp.WithString("run_id",
				mcp.Required(),
				mcp.Description("Run id returned by archlens_start"),
			),
		),
		s.handleResult,
	)

	mcpServer.AddTool(
		mcp.NewTool("archlens_generate_diagram",
			mcp.WithDescription("Fetch one Mermaid diagram artifact for a completed run by complexity mode."),
			mcp.WithString("run_id",
				mcp.Required(),
				mcp.Description("Run id returned by archlens_start"),
			),
			mcp.WithString("mode",
				mcp.Required(),
				mcp.Description("Diagram mode: overview, balanced, detailed, or folders"),
			),
		),
		s.handleGenerateDiagram,
	)

	mcpServer.AddTool(
		mcp.NewTool("archlens_correct_diagram",
			mcp.WithDescription("Feed a Mermaid diagram that a downstream renderer rejected back through the diagram subgraph's validate/repair loop, given the renderer's error message."),
			mcp.WithString("run_id",
				mcp.Required(),
				mcp.Description("Run id the diagram belongs to, for persisting the corrected result"),
			),
			mcp.WithString("mode",
				mcp.Required(),
				mcp.Description("Diagram mode: overview, balanced, or detailed"),
			),
			mcp.WithString("broken_code",
				mcp.Required(),
				mcp.Description("The Mermaid source that failed to render"),
			),
			mcp.WithString("error_message",
				mcp.Required(),
				mcp.Description("The renderer's error message describing what is wrong"),
			),
		),
		s.handleCorrectDiagram,
	)
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoURL := request.GetString("repo_url", "")
	if repoURL == "" {
		return mcp.NewToolResultError("repo_url parameter is required"), nil
	}
	forceRefresh := request.GetBool("force_refresh", false)

	runID, status, cachedAt, err := s.service.Start(ctx, repoURL, forceRefresh)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", err)), nil
	}

	result := map[string]any{"run_id": runID, "status": status}
	if cachedAt != nil {
		result["cached_at"] = cachedAt
	}
	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(text)), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}

	status, label, message, err := s.service.Status(runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}

	result := map[string]any{"status": status, "progress_label": label, "message": message}
	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(text)), nil
}

func (s *Server) handleResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}

	results, err := s.service.Result(runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("result failed: %v", err)), nil
	}

	text, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(text)), nil
}

func (s *Server) handleGenerateDiagram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	mode := request.GetString("mode", "")
	if runID == "" || mode == "" {
		return mcp.NewToolResultError("run_id and mode parameters are required"), nil
	}

	diagram, err := s.service.GenerateDiagram(ctx, runID, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("generate_diagram failed: %v", err)), nil
	}
	return mcp.NewToolResultText(diagram), nil
}

func (s *Server) handleCorrectDiagram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	mode := request.GetString("mode", "")
	brokenCode := request.GetString("broken_code", "")
	errorMessage := request.GetString("error_message", "")
	if runID == "" || mode == "" || brokenCode == "" || errorMessage == "" {
		return mcp.NewToolResultError("run_id, mode, broken_code, and error_message parameters are required"), nil
	}

	corrected, err := s.service.CorrectDiagram(ctx, runID, mode, brokenCode, errorMessage)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("correct_diagram failed: %v", err)), nil
	}
	return mcp.NewToolResultText(corrected), nil
}

// ServeStdio starts the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}
