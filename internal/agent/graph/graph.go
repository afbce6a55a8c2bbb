// Package graph is the workflow engine: a statically enumerated directed
// graph of state-transformer nodes driven over a RunState, one independent
// execution per accepted query.
package graph

import (
	"context"
	"fmt"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// NodeFunc executes one pipeline stage. It folds its output into the RunState
// and returns the NodeResult for the trace. A returned error carries the
// reason for a Failed result; recoverable trouble is expressed through the
// Degraded status instead.
type NodeFunc func(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error)

// Edge routes from a node to its successor. When is evaluated against the
// current RunState; a nil When is the unconditional fallback.
type Edge struct {
	To   string
	When func(*agent.RunState) bool
}

// Graph is the static node/edge topology. Nodes with no outgoing edges are
// terminal.
type Graph struct {
	entry string
	nodes map[string]NodeFunc
	edges map[string][]Edge
}

// NewGraph creates a graph with the given entry node name.
func NewGraph(entry string) *Graph {
	return &Graph{
		entry: entry,
		nodes: make(map[string]NodeFunc),
		edges: make(map[string][]Edge),
	}
}

// AddNode registers a node under a unique name.
func (g *Graph) AddNode(name string, fn NodeFunc) {
	g.nodes[name] = fn
}

// AddEdge appends an outgoing edge; edges are evaluated in insertion order.
func (g *Graph) AddEdge(from, to string, when func(*agent.RunState) bool) {
	g.edges[from] = append(g.edges[from], Edge{To: to, When: when})
}

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// Node looks up a node function.
func (g *Graph) Node(name string) (NodeFunc, bool) {
	fn, ok := g.nodes[name]
	return fn, ok
}

// Next picks the successor of from for the given state: the first edge whose
// predicate matches, otherwise the fallback edge. ok is false at a terminal
// node.
func (g *Graph) Next(from string, rs *agent.RunState) (string, bool) {
	edges := g.edges[from]
	if len(edges) == 0 {
		return "", false
	}
	var fallback string
	haveFallback := false
	for _, e := range edges {
		if e.When == nil {
			if !haveFallback {
				fallback = e.To
				haveFallback = true
			}
			continue
		}
		if e.When(rs) {
			return e.To, true
		}
	}
	if haveFallback {
		return fallback, true
	}
	// No predicate matched and no fallback declared; Validate rejects this
	// topology, so reaching here is a programming error.
	return edges[0].To, true
}

// Validate checks the topology invariants: the entry exists, every edge
// points at a registered node, every node with conditional edges declares a
// fallback, and at least one terminal node is reachable structurally.
func (g *Graph) Validate() error {
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("entry node %q not registered", g.entry)
	}
	terminals := 0
	for name := range g.nodes {
		edges := g.edges[name]
		if len(edges) == 0 {
			terminals++
			continue
		}
		haveFallback := false
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok {
				return fmt.Errorf("edge %s -> %s points at unregistered node", name, e.To)
			}
			if e.When == nil {
				haveFallback = true
			}
		}
		if !haveFallback {
			return fmt.Errorf("node %q has conditional edges but no fallback", name)
		}
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edges declared for unregistered node %q", from)
		}
	}
	if terminals == 0 {
		return fmt.Errorf("graph has no terminal node")
	}
	return nil
}
