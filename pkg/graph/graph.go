// Package graph assembles the internal-files dependency graph and
// computes fan-in/fan-out/degree-centrality metrics, grounded on
// pkg/index/dag.go's forward/reverse adjacency-map approach rather than
// a general graph library (spec.md §9).
package graph

import "sort"

// Node is one internal file node with its static attributes.
type Node struct {
	Path     string
	Language string
	Lines    int
}

// Edge is one internal directed edge.
type Edge struct {
	Source string
	Target string
}

// Metric carries the computed centrality figures for one node.
type Metric struct {
	FanIn            int
	FanOut           int
	DegreeCentrality float64
}

// Graph is the directed internal dependency graph.
type Graph struct {
	nodes    map[string]Node
	outEdges map[string]map[string]struct{}
	inEdges  map[string]map[string]struct{}
	order    []string // insertion order, for deterministic iteration
}

// New builds an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]Node),
		outEdges: make(map[string]map[string]struct{}),
		inEdges:  make(map[string]map[string]struct{}),
	}
}

// AddNode registers an internal file node, ignoring duplicates.
func (g *Graph) AddNode(n Node) {
	if _, exists := g.nodes[n.Path]; exists {
		return
	}
	g.nodes[n.Path] = n
	g.order = append(g.order, n.Path)
	g.outEdges[n.Path] = make(map[string]struct{})
	g.inEdges[n.Path] = make(map[string]struct{})
}

// AddEdge records an internal edge between two already-added nodes. It
// is a no-op for self-loops or edges referencing an unknown node.
func (g *Graph) AddEdge(source, target string) {
	if source == target {
		return
	}
	if _, ok := g.nodes[source]; !ok {
		return
	}
	if _, ok := g.nodes[target]; !ok {
		return
	}
	g.outEdges[source][target] = struct{}{}
	g.inEdges[target][source] = struct{}{}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Nodes returns all nodes in deterministic (insertion) order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, p := range g.order {
		out = append(out, g.nodes[p])
	}
	return out
}

// Edges returns all edges, sorted for deterministic serialization.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for src, targets := range g.outEdges {
		for tgt := range targets {
			edges = append(edges, Edge{Source: src, Target: tgt})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

// Metrics computes fan-in, fan-out, and normalized degree centrality for
// every node (spec.md §4.4 and §8 invariant 4).
func (g *Graph) Metrics() map[string]Metric {
	n := len(g.nodes)
	denom := n - 1
	if denom < 1 {
		denom = 1
	}

	metrics := make(map[string]Metric, n)
	for path := range g.nodes {
		fanIn := len(g.inEdges[path])
		fanOut := len(g.outEdges[path])
		metrics[path] = Metric{
			FanIn:            fanIn,
			FanOut:           fanOut,
			DegreeCentrality: float64(fanIn+fanOut) / float64(denom),
		}
	}
	return metrics
}

// RankedNode pairs a node path with its combined fan-in+fan-out score.
type RankedNode struct {
	Path  string
	Score int
}

// TopN ranks nodes by fan-in+fan-out descending, ties broken by
// lexicographic path, truncated to n entries (spec.md §4.4).
func TopN(metrics map[string]Metric, n int) []RankedNode {
	ranked := make([]RankedNode, 0, len(metrics))
	for path, m := range metrics {
		ranked = append(ranked, RankedNode{Path: path, Score: m.FanIn + m.FanOut})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Path < ranked[j].Path
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
