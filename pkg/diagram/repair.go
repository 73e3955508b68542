package diagram

import (
	"fmt"
	"sort"
	"strings"
)

// CentralityLookup returns a node's centrality score, used to choose
// which nodes to drop when a diagram is over budget.
type CentralityLookup func(node string) float64

// Repair applies the rule-based fixers in spec.md §4.8's table for
// every repairable finding, returning the repaired diagram. It is
// idempotent: calling Repair on its own output with the re-validated
// findings produces no further change once the diagram is clean.
func Repair(diagram string, findings []Finding, budget Budget, centrality CentralityLookup) string {
	for _, f := range findings {
		if !f.Repairable {
			continue
		}
		switch f.Kind {
		case KindMissingHeader:
			diagram = repairMissingHeader(diagram)
		case KindUnbalancedSubgraph:
			diagram = repairUnbalancedSubgraph(diagram)
		case KindIdentifierWithSpace:
			diagram = repairIdentifierSpaces(diagram)
		case KindParenthesizedLabel:
			diagram = repairParenthesizedLabels(diagram)
		case KindOverBudget:
			diagram = repairOverBudget(diagram, budget, centrality)
		}
	}
	return diagram
}

func repairMissingHeader(diagram string) string {
	trimmed := strings.TrimLeft(diagram, "\n")
	if trimmed == "" {
		return "flowchart LR\n"
	}
	return "flowchart LR\n" + diagram
}

func repairUnbalancedSubgraph(diagram string) string {
	lines := strings.Split(diagram, "\n")
	opens, closes := 0, 0
	for _, l := range lines {
		if subgraphRe.MatchString(l) {
			opens++
		}
		if endRe.MatchString(l) {
			closes++
		}
	}
	if opens <= closes {
		return diagram // more closes than opens: unrepairable, leave as-is
	}
	deficit := opens - closes
	var b strings.Builder
	b.WriteString(strings.TrimRight(diagram, "\n"))
	b.WriteString("\n")
	for i := 0; i < deficit; i++ {
		b.WriteString("end\n")
	}
	return b.String()
}

func repairIdentifierSpaces(diagram string) string {
	lines := strings.Split(diagram, "\n")
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || headerRe.MatchString(trimmed) || subgraphRe.MatchString(trimmed) || endRe.MatchString(trimmed) {
			continue
		}
		lines[i] = rewriteSpacedIdentifiers(l)
	}
	return strings.Join(lines, "\n")
}

// rewriteSpacedIdentifiers replaces internal spaces with underscores in
// the identifier segments on either side of an arrow, leaving bracketed
// label content untouched.
func rewriteSpacedIdentifiers(line string) string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	trimmed := strings.TrimSpace(line)

	labels := bracketLabelRe.FindAllString(trimmed, -1)
	masked := trimmed
	for i, lbl := range labels {
		masked = strings.Replace(masked, lbl, fmt.Sprintf("\x00LABEL%d\x00", i), 1)
	}

	loc := arrowRe.FindStringIndex(masked)
	if loc == nil {
		return line
	}
	left := strings.ReplaceAll(strings.TrimSpace(masked[:loc[0]]), " ", "_")
	arrow := masked[loc[0]:loc[1]]
	right := strings.ReplaceAll(strings.TrimSpace(masked[loc[1]:]), " ", "_")

	rebuilt := left + arrow + right
	for i, lbl := range labels {
		rebuilt = strings.Replace(rebuilt, fmt.Sprintf("\x00LABEL%d\x00", i), lbl, 1)
	}

	return indent + rebuilt
}

func repairParenthesizedLabels(diagram string) string {
	lines := strings.Split(diagram, "\n")
	for i, l := range lines {
		lines[i] = bracketLabelRe.ReplaceAllStringFunc(l, func(m string) string {
			sub := bracketLabelRe.FindStringSubmatch(m)
			id, label := sub[1], sub[2]
			inner := label[1 : len(label)-1]
			open, close := label[0], label[len(label)-1]
			if (strings.Contains(inner, "(") || strings.Contains(inner, ")")) && !strings.HasPrefix(strings.TrimSpace(inner), `"`) {
				return id + string(open) + `"` + inner + `"` + string(close)
			}
			return m
		})
	}
	return strings.Join(lines, "\n")
}

func repairOverBudget(diagram string, budget Budget, centrality CentralityLookup) string {
	lines := strings.Split(diagram, "\n")
	nodes, _ := countNodesAndEdges(diagram)
	if budget.MaxNodes <= 0 || nodes <= budget.MaxNodes {
		return diagram
	}

	type scored struct {
		id    string
		score float64
	}
	var ranked []scored
	seen := make(map[string]struct{})
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || headerRe.MatchString(trimmed) || subgraphRe.MatchString(trimmed) || endRe.MatchString(trimmed) {
			continue
		}
		stripped := bracketLabelRe.ReplaceAllString(trimmed, "$1")
		for _, tok := range splitOnArrows(stripped) {
			tok = strings.TrimSpace(tok)
			if tok == "" || !nodeIDRe.MatchString(tok) {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			score := 0.0
			if centrality != nil {
				score = centrality(tok)
			}
			ranked = append(ranked, scored{id: tok, score: score})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	keep := make(map[string]struct{})
	limit := budget.MaxNodes
	if limit > len(ranked) {
		limit = len(ranked)
	}
	for _, r := range ranked[:limit] {
		keep[r.id] = struct{}{}
	}

	var out []string
	edgeCount := 0
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || headerRe.MatchString(trimmed) || subgraphRe.MatchString(trimmed) || endRe.MatchString(trimmed) {
			out = append(out, l)
			continue
		}
		stripped := bracketLabelRe.ReplaceAllString(trimmed, "$1")
		toks := splitOnArrows(stripped)
		lineNodes := make([]string, 0, len(toks))
		for _, tok := range toks {
			tok = strings.TrimSpace(tok)
			if nodeIDRe.MatchString(tok) {
				lineNodes = append(lineNodes, tok)
			}
		}

		allKept := true
		for _, n := range lineNodes {
			if _, ok := keep[n]; !ok {
				allKept = false
				break
			}
		}
		if !allKept {
			continue // drop orphaned edge/node line referencing a dropped node
		}
		if arrowRe.MatchString(trimmed) {
			if budget.MaxEdges > 0 && edgeCount >= budget.MaxEdges {
				continue
			}
			edgeCount++
		}
		out = append(out, l)
	}

	return strings.Join(out, "\n")
}
