package content

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/archlens/archlens/internal/store"
	"github.com/archlens/archlens/pkg/llm"
)

// Generator is the content generation surface consumed by the
// workflow runner and the diagram subgraph: it owns prompt assembly
// and delegates every model call to the gateway.
type Generator struct {
	gateway           *llm.Gateway
	excerptCharBudget int
	maxExcerptChars   int
	embedCalls        int64 // accumulated SelectDiverseExcerpts embed calls, for token_budget.embed_calls
}

// NewGenerator builds a Generator over a configured gateway.
func NewGenerator(gateway *llm.Gateway, excerptCharBudget, maxExcerptChars int) *Generator {
	if excerptCharBudget <= 0 {
		excerptCharBudget = 12000
	}
	if maxExcerptChars <= 0 {
		maxExcerptChars = 1400
	}
	return &Generator{gateway: gateway, excerptCharBudget: excerptCharBudget, maxExcerptChars: maxExcerptChars}
}

// Narrative produces the architecture overview markdown (spec.md §4.7).
func (g *Generator) Narrative(ctx context.Context, languageStats map[string]float64, topFiles []store.CentralFile, candidates []Candidate) (string, error) {
	diverse, embedCalls, err := SelectDiverseExcerpts(ctx, candidates, g.excerptCharBudget, g.maxExcerptChars)
	if err != nil {
		return "", fmt.Errorf("select excerpts: %w", err)
	}
	atomic.AddInt64(&g.embedCalls, int64(embedCalls))

	prompt := BuildNarrativePrompt(languageStats, topFiles, diverse)
	return g.gateway.GenerateMarkdown(ctx, narrativeSystemPrompt, prompt)
}

// GatewayCalls reports the number of generation calls issued through
// this generator's gateway so far, the source of token_budget.gen_calls.
func (g *Generator) GatewayCalls() int64 {
	return g.gateway.Calls()
}

// EmbedCalls reports the number of excerpt-embedding calls issued so
// far, the source of token_budget.embed_calls.
func (g *Generator) EmbedCalls() int64 {
	return atomic.LoadInt64(&g.embedCalls)
}

// Components produces the structured component list (spec.md §4.7).
// A gateway failure here is degrading, not fatal (spec.md §7): callers
// should treat an error as "no components this run" rather than fail
// the whole analysis.
func (g *Generator) Components(ctx context.Context, topFiles []store.CentralFile, maxComponents int) ([]store.Component, error) {
	prompt := BuildComponentsPrompt(topFiles, maxComponents)

	var out ComponentsResponse
	if err := g.gateway.GenerateStructured(ctx, componentsSystemPrompt, prompt, ComponentsSchema, &out); err != nil {
		return nil, err
	}
	if len(out.Components) > maxComponents {
		out.Components = out.Components[:maxComponents]
	}
	return out.Components, nil
}

// Diagram produces one Mermaid flowchart candidate for the given mode
// (spec.md §4.7). It does not validate or repair the output — that is
// the diagram subgraph's job (§4.9).
func (g *Generator) Diagram(ctx context.Context, mode string, analysis store.DependencyAnalysis, graph store.Graph, narrative string) (string, error) {
	prompt := BuildDiagramPrompt(mode, analysis, graph, narrative)
	return g.gateway.GenerateMermaid(ctx, diagramSystemPrompt, prompt)
}

// RepairDiagram asks the gateway to fix a broken diagram candidate
// given the validator's remaining findings (spec.md §4.9 step 5).
func (g *Generator) RepairDiagram(ctx context.Context, mode, candidate string, findings []string) (string, error) {
	budget := BudgetForMode(mode)

	prompt := fmt.Sprintf(
		"## Mode\n%s (max %d nodes, max %d edges)\n\n## Current Diagram\n```mermaid\n%s\n```\n\n## Remaining Problems\n%s\n\nFix the diagram and produce the corrected version now, inside a single fenced ```mermaid``` block.\n",
		mode, budget.MaxNodes, budget.MaxEdges, candidate, bulletList(findings),
	)
	return g.gateway.GenerateMermaid(ctx, diagramSystemPrompt, prompt)
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none reported)"
	}
	out := ""
	for _, it := range items {
		out += "- " + it + "\n"
	}
	return out
}
