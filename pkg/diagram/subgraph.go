package diagram

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/archlens/archlens/pkg/llm"
)

// State is one step in the self-correcting loop's lifecycle (spec.md
// §4.9).
type State string

const (
	StateGenerated       State = "generated"
	StateValid           State = "valid"
	StateNeedsRuleRepair State = "needs-rule-repair"
	StateNeedsLLMRepair  State = "needs-llm-repair"
	StateExhausted       State = "exhausted"
)

// Result is the outcome of one diagram subgraph run.
type Result struct {
	Diagram    string
	State      State
	Findings   []Finding
	Attempts   int
	BestEffort bool // true when the loop exhausted attempts without reaching valid
}

// Run executes the self-correcting loop for one diagram mode (spec.md
// §4.9): generate, validate, rule-repair, re-validate, then bounded
// LLM-repair attempts, falling back to the best candidate seen. The
// total number of LLM repair calls is capped at maxAttempts-1.
func Run(ctx context.Context, budget Budget, centrality CentralityLookup, maxAttempts int, generate func(ctx context.Context) (string, error), repair func(ctx context.Context, candidate string, findings []string) (string, error), breaker *CircuitBreaker) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	candidate, err := generate(ctx)
	if err != nil {
		return Result{}, err
	}

	best := candidate
	bestFindings := Validate(candidate, budget)

	if len(bestFindings) == 0 {
		return Result{Diagram: candidate, State: StateValid, Attempts: 1}, nil
	}

	attempts := 1
	for attempts < maxAttempts {
		repaired := Repair(candidate, bestFindings, budget, centrality)
		findings := Validate(repaired, budget)

		if len(findings) == 0 {
			return Result{Diagram: repaired, State: StateValid, Attempts: attempts + 1}, nil
		}

		if len(findings) < len(bestFindings) {
			best, bestFindings = repaired, findings
		}

		if breaker != nil && !breaker.Allow() {
			break
		}

		messages := findingMessages(findings)
		llmRepaired, err := repair(ctx, repaired, messages)
		attempts++

		if err != nil {
			if isQuota(err) {
				break // caught inside the loop; the run continues with the best candidate (spec.md §4.9)
			}
			if breaker != nil {
				breaker.RecordResult(fingerprint(findings), false)
			}
			continue
		}

		llmFindings := Validate(llmRepaired, budget)
		if breaker != nil {
			breaker.RecordResult(fingerprint(findings), len(llmFindings) < len(findings))
		}

		if len(llmFindings) == 0 {
			return Result{Diagram: llmRepaired, State: StateValid, Attempts: attempts}, nil
		}

		if len(llmFindings) < len(bestFindings) {
			best, bestFindings = llmRepaired, llmFindings
		}

		candidate = llmRepaired
	}

	return Result{
		Diagram:    best,
		State:      StateExhausted,
		Findings:   bestFindings,
		Attempts:   attempts,
		BestEffort: true,
	}, nil
}

func findingMessages(findings []Finding) []string {
	msgs := make([]string, 0, len(findings))
	for _, f := range findings {
		msgs = append(msgs, string(f.Kind)+": "+f.Message)
	}
	return msgs
}

func fingerprint(findings []Finding) string {
	kinds := make([]string, 0, len(findings))
	for _, f := range findings {
		kinds = append(kinds, string(f.Kind))
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ",")
}

func isQuota(err error) bool {
	var qe *llm.QuotaExhausted
	return errors.As(err, &qe)
}
