package engine

import "encoding/json"

// ExecutionContext is the mutable per-run state threaded through node
// execution: variable bindings and per-node outputs. It is exclusively owned
// by one runner invocation — no method may be called concurrently on the
// same instance.
type ExecutionContext struct {
	variables map[string]any
	outputs   map[string]any
}

// NewExecutionContext creates a context seeded with the definition's default
// variables merged with the caller's inputs; inputs override defaults on key
// collision. Both maps are copied so the caller's maps stay untouched.
func NewExecutionContext(defaults, inputs map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(defaults)+len(inputs))
	for k, v := range defaults {
		vars[k] = deepCopyAny(v)
	}
	for k, v := range inputs {
		vars[k] = deepCopyAny(v)
	}
	return &ExecutionContext{
		variables: vars,
		outputs:   make(map[string]any),
	}
}

// Variable returns the value bound to name, if any.
func (ec *ExecutionContext) Variable(name string) (any, bool) {
	v, ok := ec.variables[name]
	return v, ok
}

// SetVariable binds name to value.
func (ec *ExecutionContext) SetVariable(name string, value any) {
	ec.variables[name] = value
}

// Output returns the output recorded for a node, if any.
func (ec *ExecutionContext) Output(nodeID string) (any, bool) {
	v, ok := ec.outputs[nodeID]
	return v, ok
}

// SetOutput records a node's output.
func (ec *ExecutionContext) SetOutput(nodeID string, value any) {
	ec.outputs[nodeID] = value
}

// ResolveInput resolves a name against variables first, falling back to
// node outputs. Used by transform and split nodes.
func (ec *ExecutionContext) ResolveInput(name string) (any, bool) {
	if v, ok := ec.variables[name]; ok {
		return v, true
	}
	v, ok := ec.outputs[name]
	return v, ok
}

// Variables returns the live variable map for expression evaluation.
// Callers must not mutate it.
func (ec *ExecutionContext) Variables() map[string]any {
	return ec.variables
}

// Outputs returns the live output map for expression evaluation.
// Callers must not mutate it.
func (ec *ExecutionContext) Outputs() map[string]any {
	return ec.outputs
}

// OverlayVariables returns a transient copy of the variable bindings with
// overlay entries applied on top. Mutating the result never touches the
// outer scope; loop iterations use this for item-scoped variables.
func (ec *ExecutionContext) OverlayVariables(overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(ec.variables)+len(overlay))
	for k, v := range ec.variables {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// SnapshotOutputs returns a deep copy of the output map for trace and
// record capture.
func (ec *ExecutionContext) SnapshotOutputs() map[string]any {
	return deepCopyMap(ec.outputs)
}

// SnapshotVariables returns a deep copy of the variable bindings.
func (ec *ExecutionContext) SnapshotVariables() map[string]any {
	return deepCopyMap(ec.variables)
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Primitives are value types and pass through.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
