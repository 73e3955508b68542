package diagram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archlens/archlens/pkg/llm"
)

func TestValidateMissingHeader(t *testing.T) {
	findings := Validate("a --> b", Budget{MaxNodes: 10, MaxEdges: 10})
	require.Len(t, findings, 1)
	require.Equal(t, KindMissingHeader, findings[0].Kind)
}

func TestValidateCleanDiagramHasNoFindings(t *testing.T) {
	diagram := "flowchart TD\n    a[\"Alpha\"] --> b[\"Beta\"]\n"
	findings := Validate(diagram, Budget{MaxNodes: 10, MaxEdges: 10})
	require.Empty(t, findings)
}

func TestValidateUnbalancedSubgraph(t *testing.T) {
	diagram := "flowchart TD\nsubgraph S1\n  a --> b\n"
	findings := Validate(diagram, Budget{MaxNodes: 10, MaxEdges: 10})
	require.NotEmpty(t, findings)
	require.Equal(t, KindUnbalancedSubgraph, findings[0].Kind)
	require.True(t, findings[0].Repairable)
}

func TestRepairMissingHeaderPrepends(t *testing.T) {
	diagram := "a --> b"
	findings := Validate(diagram, Budget{})
	repaired := Repair(diagram, findings, Budget{}, nil)
	require.Contains(t, repaired, "flowchart LR")
	require.Empty(t, Validate(repaired, Budget{}))
}

func TestRepairUnbalancedSubgraphAppendsEnd(t *testing.T) {
	diagram := "flowchart TD\nsubgraph S1\n  a --> b"
	findings := Validate(diagram, Budget{})
	repaired := Repair(diagram, findings, Budget{}, nil)
	require.Empty(t, Validate(repaired, Budget{}))
}

func TestRepairIsIdempotent(t *testing.T) {
	diagram := "a --> b"
	findings := Validate(diagram, Budget{})
	once := Repair(diagram, findings, Budget{}, nil)
	onceFindings := Validate(once, Budget{})
	twice := Repair(once, onceFindings, Budget{}, nil)
	require.Equal(t, once, twice)
}

func TestRepairOverBudgetDropsLowestCentrality(t *testing.T) {
	diagram := "flowchart TD\na --> b\nb --> c\nc --> d\n"
	budget := Budget{MaxNodes: 2, MaxEdges: 10}
	centrality := map[string]float64{"a": 5, "b": 4, "c": 1, "d": 0}
	findings := Validate(diagram, budget)
	repaired := Repair(diagram, findings, budget, func(n string) float64 { return centrality[n] })

	nodes, _ := countNodesAndEdges(repaired)
	require.LessOrEqual(t, nodes, budget.MaxNodes)
}

func TestRunReturnsValidOnFirstGeneration(t *testing.T) {
	gen := func(ctx context.Context) (string, error) {
		return "flowchart TD\n    a[\"Alpha\"] --> b[\"Beta\"]\n", nil
	}
	repair := func(ctx context.Context, candidate string, findings []string) (string, error) {
		t.Fatal("repair should not be called when generation is already valid")
		return "", nil
	}

	result, err := Run(context.Background(), Budget{MaxNodes: 10, MaxEdges: 10}, nil, 3, gen, repair, nil)
	require.NoError(t, err)
	require.Equal(t, StateValid, result.State)
	require.Equal(t, 1, result.Attempts)
}

func TestRunRecoversViaRuleRepairWithoutCallingLLM(t *testing.T) {
	gen := func(ctx context.Context) (string, error) {
		return "a --> b", nil // missing header, rule-repairable
	}
	repair := func(ctx context.Context, candidate string, findings []string) (string, error) {
		t.Fatal("rule repair should have resolved the only finding")
		return "", nil
	}

	result, err := Run(context.Background(), Budget{MaxNodes: 10, MaxEdges: 10}, nil, 3, gen, repair, nil)
	require.NoError(t, err)
	require.Equal(t, StateValid, result.State)
}

func TestRunFallsBackToBestEffortWhenExhausted(t *testing.T) {
	gen := func(ctx context.Context) (string, error) {
		return "flowchart TD\nsubgraph S1\n  a --> b\n  end\n  end\n", nil // more ends than opens: unrepairable
	}
	repairCalls := 0
	repair := func(ctx context.Context, candidate string, findings []string) (string, error) {
		repairCalls++
		return candidate, nil // LLM can't fix it either in this test
	}

	result, err := Run(context.Background(), Budget{MaxNodes: 10, MaxEdges: 10}, nil, 2, gen, repair, nil)
	require.NoError(t, err)
	require.Equal(t, StateExhausted, result.State)
	require.True(t, result.BestEffort)
	require.Equal(t, 1, repairCalls)
}

func TestRunQuotaExhaustionDuringLoopReturnsBestCandidateWithoutError(t *testing.T) {
	gen := func(ctx context.Context) (string, error) {
		return "flowchart TD\n  a --> b\n  end\n  end\n", nil // more ends than opens: unrepairable by rules
	}
	repair := func(ctx context.Context, candidate string, findings []string) (string, error) {
		return "", &llm.QuotaExhausted{Models: []string{"model-a"}}
	}

	result, err := Run(context.Background(), Budget{MaxNodes: 10, MaxEdges: 10}, nil, 3, gen, repair, nil)
	require.NoError(t, err)
	require.Equal(t, StateExhausted, result.State)
	require.Equal(t, 2, result.Attempts)
}

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a := []Finding{{Kind: KindMissingHeader}, {Kind: KindOverBudget}}
	b := []Finding{{Kind: KindOverBudget}, {Kind: KindMissingHeader}}
	require.Equal(t, fingerprint(a), fingerprint(b))
}

func TestIsQuotaTreatsOnlyQuotaExhaustedSentinel(t *testing.T) {
	require.False(t, isQuota(errors.New("boom")))
}
