package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/archlens/archlens/internal/config"
	"github.com/archlens/archlens/internal/store"
	"github.com/archlens/archlens/pkg/content"
	"github.com/archlens/archlens/pkg/deps"
	"github.com/archlens/archlens/pkg/diagram"
	"github.com/archlens/archlens/pkg/llm"
	"github.com/archlens/archlens/pkg/scan"
	"github.com/archlens/archlens/pkg/source"
	"github.com/archlens/archlens/pkg/workflow"
)

// AnalysisService exposes the five operations spec.md §6 names: Start,
// Status, Result, GenerateDiagram, and CorrectDiagram. It is pure
// orchestration over pkg/workflow.Runner and internal/store.Store; it
// owns no analysis logic of its own.
type AnalysisService struct {
	store              store.Store
	runner             *workflow.Runner
	generator          *content.Generator
	diagramMaxAttempts int
}

// NewAnalysisService wires the gateway, fetcher, and runner from a
// loaded Config, the way cmd/archlens-service's entrypoint does it.
func NewAnalysisService(cfg *config.Config, st store.Store) *AnalysisService {
	providers := buildProviders(cfg)

	gwCfg := llm.DefaultGatewayConfig()
	gwCfg.FallbackChain = []string(cfg.LLM.FallbackChain)
	if cfg.LLM.RetryAttempts > 0 {
		gwCfg.Attempts = cfg.LLM.RetryAttempts
	}
	if cfg.LLM.RetryMinWaitMs > 0 {
		gwCfg.MinWait = time.Duration(cfg.LLM.RetryMinWaitMs) * time.Millisecond
	}
	if cfg.LLM.RetryMaxWaitMs > 0 {
		gwCfg.MaxWait = time.Duration(cfg.LLM.RetryMaxWaitMs) * time.Millisecond
	}
	if cfg.LLM.CallDeadlineSec > 0 {
		gwCfg.CallDeadline = time.Duration(cfg.LLM.CallDeadlineSec) * time.Second
	}
	if cfg.LLM.RateLimitPerHr > 0 {
		gwCfg.RateLimitPerHour = cfg.LLM.RateLimitPerHr
	}

	gateway := llm.NewGateway(gwCfg, providers)
	generator := content.NewGenerator(gateway, cfg.Analysis.ExcerptCharBudget, cfg.Analysis.MaxExcerptChars)
	fetcher := source.NewFetcher(cfg.Analysis.WorkDirRoot)

	wfCfg := workflow.DefaultConfig()
	wfCfg.TopN = cfg.Analysis.TopN
	wfCfg.ComponentCount = cfg.Analysis.ComponentCount
	wfCfg.ExcerptCharBudget = cfg.Analysis.ExcerptCharBudget
	wfCfg.MaxExcerptChars = cfg.Analysis.MaxExcerptChars
	wfCfg.DiagramMaxAttempts = cfg.Analysis.DiagramMaxAttempts
	if cfg.Analysis.RunDeadlineSec > 0 {
		wfCfg.RunDeadline = time.Duration(cfg.Analysis.RunDeadlineSec) * time.Second
	}
	wfCfg.WorkDirRoot = cfg.Analysis.WorkDirRoot
	wfCfg.ScanOptions = scan.Options{
		SupportedExts:   []string(cfg.Analysis.SupportedExts),
		ExcludeDirs:     []string(cfg.Analysis.ExcludeDirs),
		MaxExcerptChars: cfg.Analysis.MaxExcerptChars,
	}

	runner := workflow.NewRunner(fetcher, generator, st, wfCfg)

	diagramMaxAttempts := cfg.Analysis.DiagramMaxAttempts
	if diagramMaxAttempts <= 0 {
		diagramMaxAttempts = workflow.DefaultConfig().DiagramMaxAttempts
	}

	return &AnalysisService{store: st, runner: runner, generator: generator, diagramMaxAttempts: diagramMaxAttempts}
}

// buildProviders constructs one Provider per model in the fallback
// chain, keyed by model identifier, the way pkg/llm/anthropic.go,
// gemini.go, and ollama.go are each named for the backend they wrap.
func buildProviders(cfg *config.Config) map[string]llm.Provider {
	providers := make(map[string]llm.Provider, len(cfg.LLM.FallbackChain))
	for _, model := range cfg.LLM.FallbackChain {
		switch {
		case strings.HasPrefix(model, "claude-"):
			providers[model] = llm.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey)
		case strings.HasPrefix(model, "gemini-"):
			providers[model] = llm.NewGeminiProvider(cfg.LLM.GeminiAPIKey)
		default:
			providers[model] = llm.NewOllamaProvider(cfg.LLM.OllamaURL)
		}
	}
	return providers
}

// Start begins a new analysis run for repoURL, or returns the latest
// completed run's id if forceRefresh is false and one already exists
// (spec.md §6, "start"). On a cache hit, cachedAt carries the run's
// completion timestamp; it is nil for a freshly scheduled run.
func (s *AnalysisService) Start(ctx context.Context, repoURL string, forceRefresh bool) (runID string, status store.Status, cachedAt *time.Time, err error) {
	if !forceRefresh {
		if existingID, lookupErr := s.store.LookupLatestByURL(repoURL); lookupErr == nil {
			run, getErr := s.store.GetRun(existingID)
			if getErr == nil && run.Status == store.StatusCompleted {
				return existingID, run.Status, run.CompletedAt, nil
			}
		}
	}

	runID, err = s.store.CreateRun(repoURL)
	if err != nil {
		return "", "", nil, &store.StorageError{Op: "create run", Err: err}
	}

	go func() {
		// The run outlives the originating request; it is bounded by
		// pkg/workflow.Config.RunDeadline rather than the caller's context.
		_ = s.runner.Run(context.Background(), runID, repoURL)
	}()

	return runID, store.StatusPending, nil, nil
}

// Status reports a run's lifecycle state (spec.md §6, "status").
func (s *AnalysisService) Status(runID string) (status store.Status, progressLabel, message string, err error) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return "", "", "", err
	}
	return run.Status, run.ProgressLabel, run.Message, nil
}

// Result returns the full persisted artifact set for a completed run
// (spec.md §6, "result"). Returns store.ErrNotReady if the run has not
// finished yet.
func (s *AnalysisService) Result(runID string) (*store.Results, error) {
	return s.store.LoadResults(runID)
}

// GenerateDiagram returns one of the four persisted Mermaid artifacts
// for a completed run by mode (spec.md §6, "generate_diagram"): one of
// "overview", "balanced", "detailed", or "folders". When the stored
// artifact for that mode is absent — left empty by a degraded prior run
// — it runs one instance of the diagram subgraph (spec.md §4.9) over
// the already-stored analysis data and persists the result, the way
// pkg/workflow/runner.go's runDiagramMode does for the original run. A
// present stored artifact is returned unchanged: idempotent per
// (run_id, mode).
func (s *AnalysisService) GenerateDiagram(ctx context.Context, runID, mode string) (string, error) {
	results, err := s.store.LoadResults(runID)
	if err != nil {
		return "", err
	}

	switch mode {
	case "overview", "balanced", "detailed":
		if artifact := diagramArtifact(results, mode); artifact != "" {
			return artifact, nil
		}
		generated, err := s.runDiagramSubgraph(ctx, mode, results)
		if err != nil {
			return "", err
		}
		if err := s.persistDiagram(runID, results, mode, generated); err != nil {
			return "", err
		}
		return generated, nil
	case "folders":
		if results.Artifacts.MermaidFolders != "" {
			return results.Artifacts.MermaidFolders, nil
		}
		paths := make([]string, len(results.Metrics.Graph.Nodes))
		for i, n := range results.Metrics.Graph.Nodes {
			paths[i] = n.Path
		}
		generated := deps.FolderDiagram(paths)
		results.Artifacts.MermaidFolders = generated
		if err := s.store.SaveResults(runID, results); err != nil {
			return "", &store.StorageError{Op: "save results", Err: err}
		}
		return generated, nil
	default:
		return "", fmt.Errorf("service: unknown diagram mode %q", mode)
	}
}

// CorrectDiagram feeds a caller-supplied candidate and its renderer
// error directly into the diagram subgraph (spec.md §6,
// "correct_diagram"), bypassing initial generation: the subgraph
// validates the candidate first, so an already-valid candidate is
// returned unchanged after at most one validator pass (spec.md §8).
// Only on validation failure does it proceed through rule-repair and
// then bounded LLM-repair, same as the generation path. The result is
// persisted per mode like GenerateDiagram.
func (s *AnalysisService) CorrectDiagram(ctx context.Context, runID, mode, brokenCode, errorMessage string) (string, error) {
	if mode != "overview" && mode != "balanced" && mode != "detailed" {
		return "", fmt.Errorf("service: unknown diagram mode %q", mode)
	}

	results, err := s.store.LoadResults(runID)
	if err != nil {
		return "", err
	}

	budget := content.BudgetForMode(mode)
	centrality := centralityLookup(results.Metrics.CentralFiles)

	generate := func(context.Context) (string, error) {
		return brokenCode, nil
	}
	repair := func(ctx context.Context, candidate string, findings []string) (string, error) {
		// The renderer's error_message is the caller's only first-hand
		// account of what is wrong; fold it in alongside the validator's
		// own findings rather than discarding it.
		allFindings := append([]string{errorMessage}, findings...)
		return s.generator.RepairDiagram(ctx, mode, candidate, allFindings)
	}

	breaker := diagram.NewCircuitBreaker(diagram.CircuitBreakerConfig{})
	result, err := diagram.Run(ctx, diagram.Budget{MaxNodes: budget.MaxNodes, MaxEdges: budget.MaxEdges}, centrality, s.diagramMaxAttempts, generate, repair, breaker)
	if err != nil {
		return "", err
	}

	if err := s.persistDiagram(runID, results, mode, result.Diagram); err != nil {
		return "", err
	}
	return result.Diagram, nil
}

// runDiagramSubgraph regenerates one diagram mode from a completed
// run's persisted analysis, mirroring pkg/workflow/runner.go's
// runDiagramMode.
func (s *AnalysisService) runDiagramSubgraph(ctx context.Context, mode string, results *store.Results) (string, error) {
	budget := content.BudgetForMode(mode)
	centrality := centralityLookup(results.Metrics.CentralFiles)

	generate := func(ctx context.Context) (string, error) {
		return s.generator.Diagram(ctx, mode, results.Metrics.DependencyAnalysis, results.Metrics.Graph, results.Artifacts.ArchitectureMD)
	}
	repair := func(ctx context.Context, candidate string, findings []string) (string, error) {
		return s.generator.RepairDiagram(ctx, mode, candidate, findings)
	}

	breaker := diagram.NewCircuitBreaker(diagram.CircuitBreakerConfig{})
	result, err := diagram.Run(ctx, diagram.Budget{MaxNodes: budget.MaxNodes, MaxEdges: budget.MaxEdges}, centrality, s.diagramMaxAttempts, generate, repair, breaker)
	if err != nil {
		return "", err
	}
	return result.Diagram, nil
}

// persistDiagram writes a regenerated or corrected diagram back into
// the run's stored artifacts under its mode.
func (s *AnalysisService) persistDiagram(runID string, results *store.Results, mode, generated string) error {
	switch mode {
	case "overview":
		results.Artifacts.MermaidModulesSimple = generated
	case "balanced":
		results.Artifacts.MermaidModulesBalanced = generated
		results.Artifacts.MermaidModules = generated
	case "detailed":
		results.Artifacts.MermaidModulesDetailed = generated
	}
	if err := s.store.SaveResults(runID, results); err != nil {
		return &store.StorageError{Op: "save results", Err: err}
	}
	return nil
}

func diagramArtifact(results *store.Results, mode string) string {
	switch mode {
	case "overview":
		return results.Artifacts.MermaidModulesSimple
	case "balanced":
		return results.Artifacts.MermaidModulesBalanced
	case "detailed":
		return results.Artifacts.MermaidModulesDetailed
	default:
		return ""
	}
}

// centralityLookup builds a diagram.CentralityLookup from a run's
// persisted centrality ranking, the service-layer equivalent of
// pkg/workflow/runner.go's inline closure over runContext.topFiles.
func centralityLookup(topFiles []store.CentralFile) diagram.CentralityLookup {
	return func(node string) float64 {
		for _, tf := range topFiles {
			if tf.Path == node {
				return tf.DegreeCentrality
			}
		}
		return 0
	}
}
