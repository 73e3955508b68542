package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archlens/archlens/internal/store"
	"github.com/archlens/archlens/pkg/content"
	"github.com/archlens/archlens/pkg/deps"
	"github.com/archlens/archlens/pkg/diagram"
	"github.com/archlens/archlens/pkg/graph"
	"github.com/archlens/archlens/pkg/imports"
	"github.com/archlens/archlens/pkg/scan"
	"github.com/archlens/archlens/pkg/source"
)

// Config carries the process-wide defaults described in spec.md §6
// "Configuration".
type Config struct {
	TopN               int
	ComponentCount     int
	ExcerptCharBudget  int
	MaxExcerptChars    int
	DiagramMaxAttempts int
	RunDeadline        time.Duration
	WorkDirRoot        string
	ScanOptions        scan.Options
}

// DefaultConfig returns the spec-pinned defaults.
func DefaultConfig() Config {
	return Config{
		TopN:               40,
		ComponentCount:     8,
		ExcerptCharBudget:  12000,
		MaxExcerptChars:    1400,
		DiagramMaxAttempts: 3,
		RunDeadline:        300 * time.Second,
		WorkDirRoot:        "archlens-runs",
		ScanOptions:        scan.DefaultOptions(),
	}
}

// Runner drives one analysis run through S1 (static prelude), S2
// (narrative), the four S3 subtasks, and S4 (finalize), adapted from
// pkg/orchestra/orchestra.go's ExecuteWorkflow staged phase driver. The
// S3 fan-out uses golang.org/x/sync/errgroup in place of the teacher's
// sequential per-step loop, since the four subtasks write disjoint
// fields of the run state and have no ordering dependency on each other
// (spec.md §5).
type Runner struct {
	fetcher   *source.Fetcher
	generator *content.Generator
	store     store.Store
	cfg       Config
}

// NewRunner wires a Runner over its collaborators.
func NewRunner(fetcher *source.Fetcher, generator *content.Generator, st store.Store, cfg Config) *Runner {
	if cfg.TopN <= 0 {
		cfg = DefaultConfig()
	}
	return &Runner{fetcher: fetcher, generator: generator, store: st, cfg: cfg}
}

// runContext carries the intermediate state produced by the prelude and
// consumed by the narrative and S3 stages. Each field is written by
// exactly one stage (spec.md §5 "Shared resources").
type runContext struct {
	aggregate scan.Aggregate
	g         *graph.Graph
	analysis  deps.Analysis
	// topFiles is the persisted top-100 centrality ranking (spec.md
	// §4.4); contentTopFiles is the narrower top-N (default 40) slice
	// that feeds the narrative, components, and excerpt prompts (spec.md
	// §4.7, §6's configured top-N).
	topFiles        []store.CentralFile
	contentTopFiles []store.CentralFile
	candidates      []content.Candidate
	narrative       string
	folderDiagram   string

	components      []store.Component
	diagramOverview string
	diagramBalanced string
	diagramDetailed string
}

// Run executes the full staged workflow for one run, persisting
// progress and the final results via the configured Store. It never
// returns an error for degrading failures; only a fatal failure (fetch,
// the static prelude, narrative quota exhaustion, or persistence)
// returns non-nil, and even then the run's
// terminal status has already been recorded in the store.
func (r *Runner) Run(ctx context.Context, runID, repoURL string) error {
	state := NewRunState(NewErrorLog())
	errLog := state.errorLog

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunDeadline)
	defer cancel()

	rc := &runContext{}
	genCallsStart := r.generator.GatewayCalls()
	embedCallsStart := r.generator.EmbedCalls()

	// S1: static prelude (sequential, fatal on failure).
	state.Transition(StagePrelude, "")
	r.setStatus(runID, store.StatusStarted, state.Stage.String(), "")

	snapshot, err := r.fetcher.Acquire(runCtx, repoURL)
	if err != nil {
		return r.fail(runID, err, true)
	}
	defer snapshot.Release()

	if err := r.prelude(runCtx, snapshot, rc); err != nil {
		return r.fail(runID, err, true)
	}
	state.CompleteStage()

	// S2: narrative (sequential; quota exhaustion here is fatal to the
	// run per spec.md §4.10's failure-semantics matrix, any other
	// narrative failure is logged and the run goes on).
	state.Transition(StageNarrative, "")
	r.setStatus(runID, store.StatusStarted, state.Stage.String(), "")

	narrative, err := r.generator.Narrative(runCtx, rc.aggregate.LanguagePercent, rc.contentTopFiles, rc.candidates)
	if err != nil {
		if ReasonFor(err) == "quota_exhausted" {
			return r.fail(runID, err, true)
		}
		errLog.Append("narrative", "degrading", err.Error())
	}
	rc.narrative = narrative
	state.CompleteStage()

	// S3: four independent subtasks, fanned out and joined before S4.
	r.runFanOut(runCtx, state, errLog, rc)

	// S4: finalize (sequential join barrier; always runs with whatever
	// is available, per spec.md §5 "the join barrier ... waits for all
	// four subtasks regardless of individual outcomes").
	state.Transition(StageFinalize, "")
	r.setStatus(runID, store.StatusStarted, state.Stage.String(), "")

	genCalls := int(r.generator.GatewayCalls() - genCallsStart)
	embedCalls := int(r.generator.EmbedCalls() - embedCallsStart)
	results := r.assemble(repoURL, snapshot.CommitSHA, rc, errLog, genCalls, embedCalls)

	if runCtx.Err() != nil {
		errLog.Append("runner", "degrading", "run deadline exceeded before all stages completed")
	}

	if err := r.store.SaveResults(runID, results); err != nil {
		return r.fail(runID, err, true)
	}

	state.Transition(StageComplete, "")
	msg := ""
	if runCtx.Err() != nil {
		msg = "run deadline exceeded; partial results persisted"
	}
	if err := r.store.UpdateStatus(runID, store.StatusCompleted, state.Stage.String(), msg); err != nil {
		return &store.StorageError{Op: "update status", Err: err}
	}

	return nil
}

// prelude runs S1: scan, extract imports, build the graph, classify
// dependencies, rank centrality, and select excerpt candidates.
func (r *Runner) prelude(ctx context.Context, snapshot *source.Snapshot, rc *runContext) error {
	scanner := scan.NewScanner(r.cfg.ScanOptions)
	files, err := scanner.Scan(ctx, snapshot.Root)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	rc.aggregate = scan.Summarize(files)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	extractor := imports.NewExtractor(snapshot.Root)
	edges, err := extractor.ExtractAll(paths)
	if err != nil {
		return fmt.Errorf("extract imports: %w", err)
	}

	g := graph.New()
	for _, f := range files {
		g.AddNode(graph.Node{Path: f.Path, Language: f.Language, Lines: f.Lines})
	}
	for _, e := range edges {
		if e.Internal {
			g.AddEdge(e.Source, e.Target)
		}
	}
	rc.g = g
	rc.analysis = deps.Analyze(edges)

	// The graph's own derived ranking is pinned at top-100 (spec.md
	// §4.4) and is what gets persisted into metrics.central_files; the
	// configured top-N (default 40, spec.md §6) is a narrower slice of
	// that same ordering, used only to bound the narrative/components/
	// excerpt prompts (spec.md §4.7).
	metrics := g.Metrics()
	ranked := graph.TopN(metrics, 100)
	rc.topFiles = make([]store.CentralFile, 0, len(ranked))
	for _, n := range ranked {
		m := metrics[n.Path]
		rc.topFiles = append(rc.topFiles, store.CentralFile{
			Path: n.Path, FanIn: m.FanIn, FanOut: m.FanOut, DegreeCentrality: m.DegreeCentrality,
		})
	}
	rc.contentTopFiles = rc.topFiles
	if len(rc.contentTopFiles) > r.cfg.TopN {
		rc.contentTopFiles = rc.contentTopFiles[:r.cfg.TopN]
	}

	candidates := make([]content.Candidate, 0, len(rc.contentTopFiles))
	byPath := make(map[string]scan.File, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	for _, tf := range rc.contentTopFiles {
		f, ok := byPath[tf.Path]
		if !ok || f.Excerpt == "" {
			continue
		}
		candidates = append(candidates, content.Candidate{Path: f.Path, Excerpt: f.Excerpt, Centrale: tf.DegreeCentrality})
	}
	rc.candidates = candidates
	rc.folderDiagram = deps.FolderDiagram(paths)

	return nil
}

// runFanOut executes S3a-d concurrently, writing disjoint fields of rc
// and appending degrading failures to the shared error log. It never
// returns an error: every subtask failure is handled per spec.md
// §4.10's failure-semantics matrix (empty or best-effort output, run
// still completes).
func (r *Runner) runFanOut(ctx context.Context, state *RunState, errLog *ErrorLog, rc *runContext) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		state.Transition(StageComponents, "")
		components, err := r.generator.Components(gctx, rc.contentTopFiles, r.cfg.ComponentCount)
		if err != nil {
			errLog.Append("components", "degrading", err.Error())
			rc.components = nil
		} else {
			rc.components = components
		}
		state.CompleteStage()
		return nil
	})

	// Each of the three diagram subtasks writes its own field of rc, not
	// a shared map, so concurrent writers never touch the same memory
	// (spec.md §5: "No stage reads a field another concurrent stage
	// writes").
	diagramTargets := []struct {
		mode  string
		stage Stage
		dst   *string
	}{
		{"overview", StageDiagramOverview, &rc.diagramOverview},
		{"balanced", StageDiagramBalanced, &rc.diagramBalanced},
		{"detailed", StageDiagramDetailed, &rc.diagramDetailed},
	}
	for _, t := range diagramTargets {
		t := t
		g.Go(func() error {
			state.Transition(t.stage, "")
			*t.dst = r.runDiagramMode(gctx, t.mode, rc, errLog)
			state.CompleteStage()
			return nil
		})
	}

	_ = g.Wait() // subtask goroutines never return a non-nil error; failures are logged inline
}

// runDiagramMode runs the self-correcting loop (spec.md §4.9) for one
// diagram mode and returns its best artifact, or empty string if
// generation never produced a usable candidate.
func (r *Runner) runDiagramMode(ctx context.Context, mode string, rc *runContext, errLog *ErrorLog) string {
	budget := content.BudgetForMode(mode)
	centrality := func(node string) float64 {
		for _, tf := range rc.topFiles {
			if tf.Path == node {
				return tf.DegreeCentrality
			}
		}
		return 0
	}

	generate := func(ctx context.Context) (string, error) {
		return r.generator.Diagram(ctx, mode, rc.analysis, toStoreGraph(rc.g), rc.narrative)
	}
	repair := func(ctx context.Context, candidate string, findings []string) (string, error) {
		return r.generator.RepairDiagram(ctx, mode, candidate, findings)
	}

	breaker := diagram.NewCircuitBreaker(diagram.CircuitBreakerConfig{})
	result, err := diagram.Run(ctx, diagram.Budget{MaxNodes: budget.MaxNodes, MaxEdges: budget.MaxEdges}, centrality, r.cfg.DiagramMaxAttempts, generate, repair, breaker)
	if err != nil {
		errLog.Append("diagram:"+mode, "degrading", err.Error())
		return ""
	}
	if result.State == diagram.StateExhausted {
		errLog.Append("diagram:"+mode, "degrading", "best-effort diagram after exhausting repair attempts")
	}
	return result.Diagram
}

func toStoreGraph(g *graph.Graph) store.Graph {
	nodes := g.Nodes()
	metrics := g.Metrics()
	sg := store.Graph{Nodes: make([]store.GraphNode, 0, len(nodes))}
	for _, n := range nodes {
		m := metrics[n.Path]
		sg.Nodes = append(sg.Nodes, store.GraphNode{
			Path: n.Path, Language: n.Language, Lines: n.Lines,
			FanIn: m.FanIn, FanOut: m.FanOut, DegreeCentrality: m.DegreeCentrality,
		})
	}
	for _, e := range g.Edges() {
		sg.Edges = append(sg.Edges, store.GraphEdge{Source: e.Source, Target: e.Target})
	}
	return sg
}

func (r *Runner) assemble(repoURL, commitSHA string, rc *runContext, errLog *ErrorLog, genCalls, embedCalls int) *store.Results {
	sg := toStoreGraph(rc.g)

	analysis := store.DependencyAnalysis{
		External: make(map[string][]store.ExternalDep),
		Summary: store.DependencySummary{
			InternalCount: rc.analysis.Summary.InternalCount,
			ExternalCount: rc.analysis.Summary.ExternalCount,
			ByCategory:    rc.analysis.Summary.ByCategory,
		},
	}
	for _, e := range rc.analysis.Internal {
		analysis.Internal = append(analysis.Internal, store.InternalEdge{Source: e.Source, Target: e.Target})
	}
	for cat, externalDeps := range rc.analysis.External {
		for _, d := range externalDeps {
			analysis.External[cat] = append(analysis.External[cat], store.ExternalDep{SourceFile: d.SourceFile, Package: d.Package})
		}
	}

	entries := errLog.Entries()
	logOut := make([]store.ErrorEntry, 0, len(entries))
	for _, e := range entries {
		logOut = append(logOut, store.ErrorEntry{Stage: e.Stage, Kind: e.Kind, Message: e.Message, Timestamp: e.Timestamp})
	}

	return &store.Results{
		Status:        store.StatusCompleted,
		Repo:          store.RepoInfo{URL: repoURL, CommitSHA: commitSHA},
		LanguageStats: rc.aggregate.LanguagePercent,
		LOCTotal:      rc.aggregate.TotalLines,
		FileCount:     rc.aggregate.FileCount,
		Metrics: store.Metrics{
			CentralFiles:       rc.topFiles,
			Graph:              sg,
			DependencyAnalysis: analysis,
		},
		Components: rc.components,
		Artifacts: store.Artifacts{
			ArchitectureMD:         rc.narrative,
			MermaidModules:         rc.diagramBalanced,
			MermaidModulesSimple:   rc.diagramOverview,
			MermaidModulesBalanced: rc.diagramBalanced,
			MermaidModulesDetailed: rc.diagramDetailed,
			MermaidFolders:         rc.folderDiagram,
		},
		TokenBudget: store.TokenBudget{
			EmbedCalls: embedCalls,
			GenCalls:   genCalls,
			Chunks:     len(rc.candidates),
		},
		ErrorLog: logOut,
	}
}

// fail marks the run failed, folding the machine-readable reason into
// the persisted message (spec.md §6's update_status only accepts a
// status/progress_label/message triple, so the reason travels as a
// "reason=..." prefix the service layer can parse back out).
func (r *Runner) fail(runID string, err error, required bool) error {
	reason := ReasonFor(err)
	message := fmt.Sprintf("reason=%s: %s", reason, err.Error())
	_ = r.store.UpdateStatus(runID, store.StatusFailed, "failed", message)
	return &StageError{Stage: "runner", Reason: reason, Err: err}
}

func (r *Runner) setStatus(runID string, status store.Status, label, message string) {
	_ = r.store.UpdateStatus(runID, status, label, message)
}
