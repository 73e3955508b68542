package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archlens/archlens/internal/config"
	"github.com/archlens/archlens/internal/store"
	"github.com/archlens/archlens/pkg/content"
	"github.com/archlens/archlens/pkg/llm"
)

// testGenerator wires a content.Generator to a single fake model so
// GenerateDiagram/CorrectDiagram tests can assert exactly how many
// generation calls a code path issues, mirroring the pattern in
// pkg/workflow/workflow_test.go.
func testGenerator(t *testing.T, responses ...string) (*content.Generator, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{name: "test-model", responses: responses}
	cfg := llm.DefaultGatewayConfig()
	cfg.FallbackChain = []string{"test-model"}
	cfg.Attempts = 1
	cfg.CallDeadline = 5 * time.Second
	cfg.RateLimitPerHour = 1_000_000
	gw := llm.NewGateway(cfg, map[string]llm.Provider{"test-model": provider})
	return content.NewGenerator(gw, 4000, 400), provider
}

type fakeProvider struct {
	mu        sync.Mutex
	name      string
	responses []string
	i         int
}

func (p *fakeProvider) Name() string                      { return p.name }
func (p *fakeProvider) Models() []string                  { return []string{p.name} }
func (p *fakeProvider) CountTokens(s string) (int, error) { return len(s) / 4, nil }
func (p *fakeProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, nil
}
func (p *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	content := ""
	if len(p.responses) > 0 {
		idx := p.i
		if idx >= len(p.responses) {
			idx = len(p.responses) - 1
		}
		content = p.responses[idx]
	}
	p.i++
	return &llm.CompletionResponse{Content: content}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.i
}

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Service.DataDir = dataDir
	cfg.Analysis.WorkDirRoot = dataDir + "/workspaces"
	cfg.Analysis.RunDeadlineSec = 2
	cfg.LLM.FallbackChain = config.StringSlice{"llama3.1"} // routes to the Ollama provider with no network calls made in these tests
	return cfg
}

func TestStartCreatesRunAndReturnsPendingStatus(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	svc := NewAnalysisService(testConfig(t, dir), st)

	runID, status, cachedAt, err := svc.Start(context.Background(), "https://example.com/repo.git", false)
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	require.Equal(t, store.StatusPending, status)
	require.Nil(t, cachedAt)
}

func TestStartReturnsExistingRunWhenNotForcingRefresh(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	repoURL := "https://example.com/repo.git"
	firstID, err := st.CreateRun(repoURL)
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(firstID, &store.Results{Status: store.StatusCompleted}))
	require.NoError(t, st.UpdateStatus(firstID, store.StatusCompleted, "complete", ""))

	svc := NewAnalysisService(testConfig(t, dir), st)

	runID, status, cachedAt, err := svc.Start(context.Background(), repoURL, false)
	require.NoError(t, err)
	require.Equal(t, firstID, runID)
	require.Equal(t, store.StatusCompleted, status)
	require.NotNil(t, cachedAt)
}

func TestStartForceRefreshAlwaysCreatesNewRun(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)

	repoURL := "https://example.com/repo.git"
	firstID, err := st.CreateRun(repoURL)
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(firstID, &store.Results{Status: store.StatusCompleted}))

	svc := NewAnalysisService(testConfig(t, dir), st)

	runID, _, _, err := svc.Start(context.Background(), repoURL, true)
	require.NoError(t, err)
	require.NotEqual(t, firstID, runID)
}

func TestStatusReflectsPersistedRun(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	require.NoError(t, st.UpdateStatus(runID, store.StatusStarted, "prelude", ""))

	svc := NewAnalysisService(testConfig(t, dir), st)

	status, label, _, err := svc.Status(runID)
	require.NoError(t, err)
	require.Equal(t, store.StatusStarted, status)
	require.Equal(t, "prelude", label)
}

func TestResultReturnsNotReadyBeforeCompletion(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)

	svc := NewAnalysisService(testConfig(t, dir), st)

	_, err = svc.Result(runID)
	require.ErrorIs(t, err, store.ErrNotReady)
}

func TestGenerateDiagramReturnsArtifactByMode(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(runID, &store.Results{
		Status: store.StatusCompleted,
		Artifacts: store.Artifacts{
			MermaidModulesSimple:   "overview-diagram",
			MermaidModulesBalanced: "balanced-diagram",
			MermaidModulesDetailed: "detailed-diagram",
			MermaidFolders:         "folder-diagram",
		},
	}))

	svc := NewAnalysisService(testConfig(t, dir), st)

	overview, err := svc.GenerateDiagram(context.Background(), runID, "overview")
	require.NoError(t, err)
	require.Equal(t, "overview-diagram", overview)

	folders, err := svc.GenerateDiagram(context.Background(), runID, "folders")
	require.NoError(t, err)
	require.Equal(t, "folder-diagram", folders)

	_, err = svc.GenerateDiagram(context.Background(), runID, "bogus")
	require.Error(t, err)
}

func TestGenerateDiagramReturningStoredArtifactIssuesNoLLMCalls(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(runID, &store.Results{
		Status:    store.StatusCompleted,
		Artifacts: store.Artifacts{MermaidModulesDetailed: "detailed-diagram"},
	}))

	gen, provider := testGenerator(t)
	svc := &AnalysisService{store: st, generator: gen, diagramMaxAttempts: 3}

	detailed, err := svc.GenerateDiagram(context.Background(), runID, "detailed")
	require.NoError(t, err)
	require.Equal(t, "detailed-diagram", detailed)
	require.Zero(t, provider.calls())
}

func TestGenerateDiagramRegeneratesAndPersistsWhenModeArtifactIsEmpty(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	// "detailed" left empty, as a degraded prior run would leave it (E2E-5).
	require.NoError(t, st.SaveResults(runID, &store.Results{
		Status: store.StatusCompleted,
		Metrics: store.Metrics{
			Graph: store.Graph{Nodes: []store.GraphNode{{Path: "a.py"}, {Path: "b.py"}}},
		},
		Artifacts: store.Artifacts{MermaidModulesSimple: "overview-diagram"},
	}))

	gen, provider := testGenerator(t, "```mermaid\nflowchart TD\n  a --> b\n```")
	svc := &AnalysisService{store: st, generator: gen, diagramMaxAttempts: 3}

	detailed, err := svc.GenerateDiagram(context.Background(), runID, "detailed")
	require.NoError(t, err)
	require.Equal(t, "flowchart TD\n  a --> b", detailed)
	require.Equal(t, 1, provider.calls())

	results, err := st.LoadResults(runID)
	require.NoError(t, err)
	require.Equal(t, "flowchart TD\n  a --> b", results.Artifacts.MermaidModulesDetailed)

	// Second call is now a cache hit: no further generation calls.
	again, err := svc.GenerateDiagram(context.Background(), runID, "detailed")
	require.NoError(t, err)
	require.Equal(t, "flowchart TD\n  a --> b", again)
	require.Equal(t, 1, provider.calls())
}

func TestGenerateDiagramRegeneratesFoldersDeterministically(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(runID, &store.Results{
		Status: store.StatusCompleted,
		Metrics: store.Metrics{
			Graph: store.Graph{Nodes: []store.GraphNode{{Path: "pkg/a.py"}, {Path: "pkg/b.py"}}},
		},
	}))

	gen, provider := testGenerator(t)
	svc := &AnalysisService{store: st, generator: gen, diagramMaxAttempts: 3}

	folders, err := svc.GenerateDiagram(context.Background(), runID, "folders")
	require.NoError(t, err)
	require.NotEmpty(t, folders)
	require.Zero(t, provider.calls()) // deterministic, no LLM involved

	results, err := st.LoadResults(runID)
	require.NoError(t, err)
	require.Equal(t, folders, results.Artifacts.MermaidFolders)
}

func TestCorrectDiagramReturnsAlreadyValidCandidateUnchangedWithoutLLMCall(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(runID, &store.Results{Status: store.StatusCompleted}))

	gen, provider := testGenerator(t)
	svc := &AnalysisService{store: st, generator: gen, diagramMaxAttempts: 3}

	valid := "flowchart TD\nA --> B"
	corrected, err := svc.CorrectDiagram(context.Background(), runID, "overview", valid, "renderer says this is fine")
	require.NoError(t, err)
	require.Equal(t, valid, corrected)
	require.Zero(t, provider.calls())
}

func TestCorrectDiagramRuleRepairsThenPersists(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(runID, &store.Results{Status: store.StatusCompleted}))

	gen, provider := testGenerator(t)
	svc := &AnalysisService{store: st, generator: gen, diagramMaxAttempts: 3}

	// Missing header and an unquoted parenthesized label; both are
	// rule-repairable without ever reaching the LLM.
	broken := "A[node (with parens)] --> B"
	corrected, err := svc.CorrectDiagram(context.Background(), runID, "overview", broken, "renderer choked on this diagram")
	require.NoError(t, err)
	require.NotEqual(t, broken, corrected)
	require.Zero(t, provider.calls())

	results, err := st.LoadResults(runID)
	require.NoError(t, err)
	require.Equal(t, corrected, results.Artifacts.MermaidModulesSimple)
}

func TestCorrectDiagramFallsBackToLLMRepairWhenRulesCannotFix(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	runID, err := st.CreateRun("https://example.com/repo.git")
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(runID, &store.Results{Status: store.StatusCompleted}))

	// Unbalanced, not-repairable-by-rules subgraph (more "end" than
	// "subgraph" has no safe rule fix), so the loop must reach the LLM.
	gen, provider := testGenerator(t, "```mermaid\nflowchart TD\nsubgraph S\nA --> B\nend\n```")
	svc := &AnalysisService{store: st, generator: gen, diagramMaxAttempts: 3}

	broken := "flowchart TD\nA --> B\nend"
	corrected, err := svc.CorrectDiagram(context.Background(), runID, "overview", broken, "mismatched end")
	require.NoError(t, err)
	require.Positive(t, provider.calls())
	require.Contains(t, corrected, "subgraph S")
}

func TestBuildProvidersDispatchesByModelPrefix(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.FallbackChain = config.StringSlice{"claude-3-5-sonnet-20241022", "gemini-1.5-flash", "llama3.1"}

	providers := buildProviders(cfg)

	require.Len(t, providers, 3)
	require.Contains(t, providers, "claude-3-5-sonnet-20241022")
	require.Contains(t, providers, "gemini-1.5-flash")
	require.Contains(t, providers, "llama3.1")
}
