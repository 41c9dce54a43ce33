package engine

import (
	"strings"

	"github.com/promptloom/loom/pkg/schema"
)

// Order computes a deterministic topological order for the workflow graph
// using Kahn's algorithm. Zero-in-degree nodes are seeded in declaration
// order and the queue preserves discovery order (stable FIFO), so a given
// definition always orders the same way.
//
// Before ordering it validates that node IDs are unique and that every edge
// endpoint exists; either failure rejects the definition without attempting
// an order.
func Order(nodes []schema.Node, edges []schema.Edge) ([]string, error) {
	if len(nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes")
	}

	ids := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty ID", i)
		}
		if ids[n.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateNodeID, "duplicate node ID: %s", n.ID)
		}
		ids[n.ID] = true
	}

	// Adjacency and in-degree, built in edge declaration order.
	next := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, e := range edges {
		if !ids[e.Source] {
			return nil, schema.NewErrorf(schema.ErrCodeDanglingEdge,
				"edge %s -> %s references unknown source node %q", e.Source, e.Target, e.Source)
		}
		if !ids[e.Target] {
			return nil, schema.NewErrorf(schema.ErrCodeDanglingEdge,
				"edge %s -> %s references unknown target node %q", e.Source, e.Target, e.Target)
		}
		next[e.Source] = append(next[e.Source], e.Target)
		inDegree[e.Target]++
	}

	// Seed the queue with zero-in-degree nodes in declaration order.
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	sorted := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, target := range next[id] {
			inDegree[target]--
			if inDegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if len(sorted) != len(nodes) {
		placed := make(map[string]bool, len(sorted))
		for _, id := range sorted {
			placed[id] = true
		}
		var unresolved []string
		for _, n := range nodes {
			if !placed[n.ID] {
				unresolved = append(unresolved, n.ID)
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow contains a cycle involving nodes: %s", strings.Join(unresolved, ", ")).
			WithDetails(map[string]any{"unresolved_nodes": unresolved})
	}

	return sorted, nil
}
