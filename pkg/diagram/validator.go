// Package diagram implements the pure-text Mermaid flowchart validator
// and rule-based repairer (spec.md §4.8), and the bounded self-correcting
// generation loop built on top of them (spec.md §4.9). The validator is
// a deliberate line-oriented scanner rather than an ad-hoc regex bundle
// or a full grammar parser, grounded on pkg/orchestra/validator.go's
// finding-list-then-rule structure.
package diagram

import (
	"regexp"
	"strings"
)

// FindingKind names one of the checks in spec.md §4.8's table.
type FindingKind string

const (
	KindMissingHeader       FindingKind = "missing_header"
	KindUnbalancedSubgraph  FindingKind = "unbalanced_subgraph"
	KindIdentifierWithSpace FindingKind = "identifier_with_space"
	KindParenthesizedLabel  FindingKind = "parenthesized_label"
	KindOverBudget          FindingKind = "over_budget"
)

// Severity distinguishes findings the repairer can always fix from
// ones it cannot (spec.md §4.8: "surface unrepairable").
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validator result.
type Finding struct {
	Kind       FindingKind
	Severity   Severity
	Line       int // 1-indexed, 0 when not line-specific
	Message    string
	Repairable bool
}

// Budget is the node/edge complexity limit for a diagram mode.
type Budget struct {
	MaxNodes int
	MaxEdges int
}

var headerRe = regexp.MustCompile(`(?i)^\s*(flowchart|graph)\b`)
var subgraphRe = regexp.MustCompile(`(?i)^\s*subgraph\b`)
var endRe = regexp.MustCompile(`(?i)^\s*end\s*$`)
var arrowRe = regexp.MustCompile(`-{1,3}>|={1,3}>|-\.-+>`)
var bracketLabelRe = regexp.MustCompile(`([A-Za-z0-9_]+)(\[[^\]\n]*\]|\([^)\n]*\)|\{[^}\n]*\})`)
var nodeIDRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate runs every check in spec.md §4.8's table against a Mermaid
// flowchart body and returns the findings, without invoking any
// external renderer.
func Validate(diagram string, budget Budget) []Finding {
	var findings []Finding
	lines := strings.Split(diagram, "\n")

	findings = append(findings, checkHeader(lines)...)
	findings = append(findings, checkSubgraphBalance(lines)...)
	findings = append(findings, checkIdentifiersAndLabels(lines)...)
	findings = append(findings, checkBudget(diagram, budget)...)

	return findings
}

func checkHeader(lines []string) []Finding {
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		if headerRe.MatchString(trimmed) {
			return nil
		}
		break
	}
	return []Finding{{
		Kind:       KindMissingHeader,
		Severity:   SeverityError,
		Message:    "first non-empty line is not a flowchart/graph header",
		Repairable: true,
	}}
}

func checkSubgraphBalance(lines []string) []Finding {
	opens, closes := 0, 0
	for _, l := range lines {
		if subgraphRe.MatchString(l) {
			opens++
		}
		if endRe.MatchString(l) {
			closes++
		}
	}
	if opens == closes {
		return nil
	}
	repairable := opens > closes
	msg := "subgraph/end count mismatch"
	return []Finding{{
		Kind:       KindUnbalancedSubgraph,
		Severity:   SeverityError,
		Message:    msg,
		Repairable: repairable,
	}}
}

func checkIdentifiersAndLabels(lines []string) []Finding {
	var findings []Finding

	for i, l := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || headerRe.MatchString(trimmed) || subgraphRe.MatchString(trimmed) || endRe.MatchString(trimmed) {
			continue
		}

		stripped := bracketLabelRe.ReplaceAllString(trimmed, "$1")

		if loc := arrowRe.FindStringIndex(stripped); loc != nil {
			left := strings.TrimSpace(stripped[:loc[0]])
			right := strings.TrimSpace(stripped[loc[1]:])
			for _, side := range []string{left, right} {
				if side == "" {
					continue
				}
				if !nodeIDRe.MatchString(side) {
					findings = append(findings, Finding{
						Kind:       KindIdentifierWithSpace,
						Severity:   SeverityError,
						Line:       lineNo,
						Message:    "identifier contains a space outside of a label: " + side,
						Repairable: true,
					})
				}
			}
		}

		for _, m := range bracketLabelRe.FindAllStringSubmatch(trimmed, -1) {
			label := m[2]
			inner := label[1 : len(label)-1]
			if (strings.Contains(inner, "(") || strings.Contains(inner, ")")) && !strings.HasPrefix(strings.TrimSpace(inner), `"`) {
				findings = append(findings, Finding{
					Kind:       KindParenthesizedLabel,
					Severity:   SeverityError,
					Line:       lineNo,
					Message:    "unquoted parentheses in label: " + label,
					Repairable: true,
				})
			}
		}
	}

	return findings
}

func checkBudget(diagram string, budget Budget) []Finding {
	nodes, edges := countNodesAndEdges(diagram)
	var findings []Finding
	if budget.MaxNodes > 0 && nodes > budget.MaxNodes {
		findings = append(findings, Finding{
			Kind:       KindOverBudget,
			Severity:   SeverityWarning,
			Message:    "node count exceeds budget",
			Repairable: true,
		})
	}
	if budget.MaxEdges > 0 && edges > budget.MaxEdges {
		findings = append(findings, Finding{
			Kind:       KindOverBudget,
			Severity:   SeverityWarning,
			Message:    "edge count exceeds budget",
			Repairable: true,
		})
	}
	return findings
}

// countNodesAndEdges is a line-oriented approximation sufficient for
// budget checking: every arrow is one edge, and every distinct
// identifier token appearing on an arrow line or with a bracketed
// label is one node.
func countNodesAndEdges(diagram string) (nodes int, edges int) {
	seen := make(map[string]struct{})
	for _, l := range strings.Split(diagram, "\n") {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || headerRe.MatchString(trimmed) || subgraphRe.MatchString(trimmed) || endRe.MatchString(trimmed) {
			continue
		}

		if arrowRe.MatchString(trimmed) {
			edges++
		}

		stripped := bracketLabelRe.ReplaceAllString(trimmed, "$1")
		for _, tok := range splitOnArrows(stripped) {
			tok = strings.TrimSpace(tok)
			if tok != "" && nodeIDRe.MatchString(tok) {
				seen[tok] = struct{}{}
			}
		}
	}
	return len(seen), edges
}

func splitOnArrows(s string) []string {
	return arrowRe.Split(s, -1)
}
