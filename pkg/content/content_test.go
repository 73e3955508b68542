package content

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archlens/archlens/internal/store"
	"github.com/archlens/archlens/pkg/llm"
)

type scriptedProvider struct {
	name      string
	responses []string
	i         int
}

func (p *scriptedProvider) Name() string           { return p.name }
func (p *scriptedProvider) Models() []string       { return []string{p.name} }
func (p *scriptedProvider) CountTokens(s string) (int, error) { return len(s) / 4, nil }
func (p *scriptedProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	idx := p.i
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.i++
	return &llm.CompletionResponse{Content: p.responses[idx]}, nil
}

func testGateway(t *testing.T, responses ...string) *llm.Gateway {
	t.Helper()
	provider := &scriptedProvider{name: "test-model", responses: responses}
	cfg := llm.DefaultGatewayConfig()
	cfg.FallbackChain = []string{"test-model"}
	cfg.Attempts = 1
	cfg.CallDeadline = 5 * time.Second
	cfg.RateLimitPerHour = 1_000_000
	return llm.NewGateway(cfg, map[string]llm.Provider{"test-model": provider})
}

func TestGeneratorNarrativeIncludesStatsAndFiles(t *testing.T) {
	gw := testGateway(t, "## Overview\nThis repo is mostly Python.")
	gen := NewGenerator(gw, 4000, 400)

	stats := map[string]float64{"python": 80.0, "javascript": 20.0}
	topFiles := []store.CentralFile{{Path: "pkg/core.py", FanIn: 5, FanOut: 1, DegreeCentrality: 0.6}}
	candidates := []Candidate{
		{Path: "pkg/core.py", Excerpt: "def run(): pass", Centrale: 6},
		{Path: "pkg/util.py", Excerpt: "def helper(): pass", Centrale: 2},
	}

	out, err := gen.Narrative(context.Background(), stats, topFiles, candidates)
	require.NoError(t, err)
	require.Contains(t, out, "Overview")
}

func TestGeneratorComponentsParsesStructuredResponse(t *testing.T) {
	gw := testGateway(t, `{"components": [{"name": "Core", "purpose": "does the work", "key_files": [{"path": "pkg/core.py", "rationale": "entrypoint"}], "depends_on": [], "risks": [], "test_files": []}]}`)
	gen := NewGenerator(gw, 4000, 400)

	topFiles := []store.CentralFile{{Path: "pkg/core.py", FanIn: 5, FanOut: 1}}
	components, err := gen.Components(context.Background(), topFiles, 8)
	require.NoError(t, err)
	require.Len(t, components, 1)
	require.Equal(t, "Core", components[0].Name)
}

func TestGeneratorDiagramExtractsFencedBlock(t *testing.T) {
	gw := testGateway(t, "```mermaid\nflowchart TD\n  a --> b\n```")
	gen := NewGenerator(gw, 4000, 400)

	out, err := gen.Diagram(context.Background(), "overview", store.DependencyAnalysis{}, store.Graph{}, "")
	require.NoError(t, err)
	require.Equal(t, "flowchart TD\n  a --> b", out)
}

func TestSelectDiverseExcerptsRespectsBudget(t *testing.T) {
	candidates := []Candidate{
		{Path: "a.py", Excerpt: "import os\nimport sys\ndef run(): pass", Centrale: 10},
		{Path: "b.py", Excerpt: "import os\nimport sys\ndef run(): pass", Centrale: 9},
		{Path: "c.py", Excerpt: "class Widget:\n    def render(self): return html", Centrale: 8},
	}

	selected, embedCalls, err := SelectDiverseExcerpts(context.Background(), candidates, 50, 100)
	require.NoError(t, err)
	require.NotEmpty(t, selected)
	require.Positive(t, embedCalls)

	total := 0
	for _, s := range selected {
		total += len(s.Excerpt)
	}
	require.LessOrEqual(t, total, 50+100) // first pick always included even if it alone exceeds budget
}

func TestSelectDiverseExcerptsEmptyInput(t *testing.T) {
	out, embedCalls, err := SelectDiverseExcerpts(context.Background(), nil, 1000, 100)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Zero(t, embedCalls)
}
