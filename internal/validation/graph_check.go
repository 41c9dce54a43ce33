package validation

import (
	"fmt"
	"strings"

	"github.com/promptloom/loom/pkg/schema"
)

// ValidateGraph performs the graph-shape checks: unique node IDs, edges
// referencing declared nodes, and acyclicity. It mirrors the ordering pass
// the engine runs at execution time so that a definition accepted here is
// guaranteed orderable later.
func ValidateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return result
	}
	if len(def.Nodes) == 0 {
		result.AddError("/nodes", schema.ErrCodeValidation, "workflow has no nodes")
		return result
	}

	known := make(map[string]struct{}, len(def.Nodes))
	for i, node := range def.Nodes {
		if node.ID == "" {
			result.AddError(fmt.Sprintf("/nodes/%d", i), schema.ErrCodeValidation, "node has an empty id")
			continue
		}
		if _, dup := known[node.ID]; dup {
			result.AddError(fmt.Sprintf("/nodes/%d", i), schema.ErrCodeDuplicateNodeID,
				fmt.Sprintf("duplicate node id %q", node.ID))
			continue
		}
		known[node.ID] = struct{}{}
	}

	indegree := make(map[string]int, len(def.Nodes))
	adjacency := make(map[string][]string, len(def.Nodes))
	for i, edge := range def.Edges {
		path := fmt.Sprintf("/edges/%d", i)
		if _, ok := known[edge.Source]; !ok {
			result.AddError(path, schema.ErrCodeDanglingEdge,
				fmt.Sprintf("edge source %q is not a declared node", edge.Source))
			continue
		}
		if _, ok := known[edge.Target]; !ok {
			result.AddError(path, schema.ErrCodeDanglingEdge,
				fmt.Sprintf("edge target %q is not a declared node", edge.Target))
			continue
		}
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		indegree[edge.Target]++
	}

	if !result.Valid() {
		// Cycle detection over a broken graph produces misleading output.
		return result
	}

	// Kahn's algorithm; whatever cannot be resolved is part of a cycle.
	var queue []string
	for _, node := range def.Nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}
	resolved := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range adjacency[current] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if resolved < len(def.Nodes) {
		var stuck []string
		for _, node := range def.Nodes {
			if indegree[node.ID] > 0 {
				stuck = append(stuck, node.ID)
			}
		}
		result.AddError("/edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("workflow contains a cycle involving: %s", strings.Join(stuck, ", ")))
	}

	return result
}
