package engine

import "testing"

func TestExecutionContext_InputsOverrideDefaults(t *testing.T) {
	ec := NewExecutionContext(
		map[string]any{"tone": "formal", "topic": "go"},
		map[string]any{"tone": "casual"},
	)

	if v, _ := ec.Variable("tone"); v != "casual" {
		t.Errorf("expected input to override default, got %v", v)
	}
	if v, _ := ec.Variable("topic"); v != "go" {
		t.Errorf("expected default to survive, got %v", v)
	}
}

func TestExecutionContext_SeedsAreCopied(t *testing.T) {
	defaults := map[string]any{"list": []any{"a", "b"}}
	inputs := map[string]any{"obj": map[string]any{"k": "v"}}
	ec := NewExecutionContext(defaults, inputs)

	// Mutating the context must not touch the caller's maps.
	ec.SetVariable("list", "replaced")
	if _, ok := defaults["list"].([]any); !ok {
		t.Error("defaults map was mutated")
	}

	v, _ := ec.Variable("obj")
	v.(map[string]any)["k"] = "changed"
	if inputs["obj"].(map[string]any)["k"] != "v" {
		t.Error("input map shares storage with context")
	}
}

func TestExecutionContext_ResolveInputPrecedence(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"x": "variable"}, nil)
	ec.SetOutput("x", "output")
	ec.SetOutput("onlyOutput", 42)

	if v, _ := ec.ResolveInput("x"); v != "variable" {
		t.Errorf("variables should win over outputs, got %v", v)
	}
	if v, _ := ec.ResolveInput("onlyOutput"); v != 42 {
		t.Errorf("expected output fallback, got %v", v)
	}
	if _, ok := ec.ResolveInput("missing"); ok {
		t.Error("missing name should not resolve")
	}
}

func TestExecutionContext_OverlayDoesNotLeak(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"base": 1}, nil)

	overlay := ec.OverlayVariables(map[string]any{"item": "first", "base": 2})
	if overlay["item"] != "first" || overlay["base"] != 2 {
		t.Errorf("overlay not applied: %v", overlay)
	}

	if v, _ := ec.Variable("base"); v != 1 {
		t.Errorf("overlay leaked into outer scope: base=%v", v)
	}
	if _, ok := ec.Variable("item"); ok {
		t.Error("overlay-only variable leaked into outer scope")
	}
}

func TestExecutionContext_SnapshotsAreIndependent(t *testing.T) {
	ec := NewExecutionContext(nil, nil)
	ec.SetOutput("n1", map[string]any{"k": "v"})

	snap := ec.SnapshotOutputs()
	snap["n1"].(map[string]any)["k"] = "mutated"

	v, _ := ec.Output("n1")
	if v.(map[string]any)["k"] != "v" {
		t.Error("snapshot shares storage with live outputs")
	}
}
