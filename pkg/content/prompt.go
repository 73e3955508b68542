// Package content assembles the three kinds of LLM requests the
// workflow runner needs — narrative, components, and diagram — and
// parses their responses, grounded on pkg/orchestra/architect.go's
// prompt-building conventions.
package content

import (
	"fmt"
	"sort"
	"strings"

	"github.com/archlens/archlens/internal/store"
)

const narrativeSystemPrompt = `You are a senior software architect producing a concise overview of an unfamiliar codebase for another engineer who is about to work in it.

Rules:
- Ground every claim in the language statistics, the most-central files, and the excerpts provided. Do not invent files or frameworks that are not evidenced.
- Write in plain markdown prose with headings; no Mermaid, no JSON.
- Call out the handful of files that most other code depends on and explain, in one sentence each, why they are load-bearing.
- Keep it tight: this is an orientation document, not a tutorial.`

const componentsSystemPrompt = `You decompose a codebase into its architectural components for another engineer who needs a map before they start changing things.

Rules:
- Base components only on the files given; do not invent files.
- Each component needs a clear purpose, the key files that implement it, any APIs it exposes, what it depends on, and known risks.
- Prefer fewer, coherent components over many overlapping ones.`

const diagramSystemPrompt = `You produce a single Mermaid flowchart describing file-level dependencies in a codebase.

Rules:
- Output exactly one fenced ` + "```mermaid```" + ` code block and nothing else of substance.
- Use "flowchart TD" as the header.
- Stay within the requested node and edge budget; when in doubt, keep the most central files and drop the rest.
- Node identifiers must not contain spaces or unquoted parentheses in labels.`

// BuildNarrativePrompt assembles the narrative request body from
// language statistics, the ranked top-N files, and diversity-selected
// excerpts (spec.md §4.7).
func BuildNarrativePrompt(languageStats map[string]float64, topFiles []store.CentralFile, excerpts []Candidate) string {
	var b strings.Builder

	b.WriteString("## Language Statistics\n")
	for _, lang := range sortedKeys(languageStats) {
		fmt.Fprintf(&b, "- %s: %.1f%%\n", lang, languageStats[lang])
	}
	b.WriteString("\n")

	b.WriteString("## Most Central Files\n")
	for _, f := range topFiles {
		fmt.Fprintf(&b, "- `%s` (fan-in %d, fan-out %d, degree %.2f)\n", f.Path, f.FanIn, f.FanOut, f.DegreeCentrality)
	}
	b.WriteString("\n")

	if len(excerpts) > 0 {
		b.WriteString("## Excerpts\n")
		for _, e := range excerpts {
			fmt.Fprintf(&b, "### %s\n```\n%s\n```\n\n", e.Path, e.Excerpt)
		}
	}

	b.WriteString("Produce the architecture overview now.\n")
	return b.String()
}

// BuildComponentsPrompt assembles the components request body from the
// top-N files, capped at maxComponents (spec.md §4.7).
func BuildComponentsPrompt(topFiles []store.CentralFile, maxComponents int) string {
	var b strings.Builder

	b.WriteString("## Candidate Files\n")
	for _, f := range topFiles {
		fmt.Fprintf(&b, "- `%s` (fan-in %d, fan-out %d)\n", f.Path, f.FanIn, f.FanOut)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Identify at most %d architectural components from these files.\n", maxComponents)
	return b.String()
}

// ComponentsSchema is the declared JSON shape for the components
// request, enforced by the LLM gateway (spec.md §4.6).
var ComponentsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"components": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"purpose": map[string]any{"type": "string"},
					"key_files": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"path":      map[string]any{"type": "string"},
								"rationale": map[string]any{"type": "string"},
							},
						},
					},
					"apis": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":       map[string]any{"type": "string"},
								"owner_file": map[string]any{"type": "string"},
							},
						},
					},
					"depends_on": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"risks":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"test_files": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	},
}

// ComponentsResponse is the out parameter shape for GenerateStructured
// components calls, matching ComponentsSchema field-for-field.
type ComponentsResponse struct {
	Components []store.Component `json:"components"`
}

// DiagramBudget is the node/edge complexity limit for one diagram mode
// (spec.md §4.7: overview 20/25, balanced 50/75, detailed 100/150).
type DiagramBudget struct {
	MaxNodes int
	MaxEdges int
}

var diagramBudgets = map[string]DiagramBudget{
	"overview": {MaxNodes: 20, MaxEdges: 25},
	"balanced": {MaxNodes: 50, MaxEdges: 75},
	"detailed": {MaxNodes: 100, MaxEdges: 150},
}

// BudgetForMode returns the configured node/edge budget for a diagram
// mode, defaulting to the balanced budget for an unrecognized mode.
func BudgetForMode(mode string) DiagramBudget {
	if b, ok := diagramBudgets[mode]; ok {
		return b
	}
	return diagramBudgets["balanced"]
}

// BuildDiagramPrompt assembles the diagram request body for one mode
// (spec.md §4.7).
func BuildDiagramPrompt(mode string, analysis store.DependencyAnalysis, graph store.Graph, narrative string) string {
	budget := BudgetForMode(mode)

	var b strings.Builder
	fmt.Fprintf(&b, "## Mode\n%s (max %d nodes, max %d edges)\n\n", mode, budget.MaxNodes, budget.MaxEdges)

	b.WriteString("## Internal Dependency Edges\n")
	for _, e := range analysis.Internal {
		fmt.Fprintf(&b, "- %s -> %s\n", e.Source, e.Target)
	}
	b.WriteString("\n")

	b.WriteString("## Graph Nodes (by centrality)\n")
	nodes := make([]store.GraphNode, len(graph.Nodes))
	copy(nodes, graph.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].DegreeCentrality > nodes[j].DegreeCentrality })
	for _, n := range nodes {
		fmt.Fprintf(&b, "- %s (degree %.2f)\n", n.Path, n.DegreeCentrality)
	}
	b.WriteString("\n")

	if narrative != "" {
		b.WriteString("## Narrative Context\n")
		b.WriteString(narrative)
		b.WriteString("\n\n")
	}

	b.WriteString("Produce the Mermaid flowchart now, inside a single fenced ```mermaid``` block.\n")
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
