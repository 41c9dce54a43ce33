package validation

import (
	"encoding/json"
	"testing"

	"github.com/promptloom/loom/pkg/schema"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline()
	if err != nil {
		t.Fatalf("building pipeline: %v", err)
	}
	return p
}

func mustConfig(t *testing.T, cfg any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return raw
}

func validDefinition(t *testing.T) *schema.WorkflowDefinition {
	t.Helper()
	return &schema.WorkflowDefinition{
		ID:               "wf-ok",
		Name:             "ok",
		DefaultVariables: map[string]any{"topic": "go"},
		Nodes: []schema.Node{
			{ID: "p1", Kind: schema.NodeKindPrompt, Config: mustConfig(t, schema.PromptConfig{
				Template: "Summarize {{topic}}", Model: "loom-small", OutputVariable: "summary",
			})},
			{ID: "t1", Kind: schema.NodeKindTransform, Config: mustConfig(t, schema.TransformConfig{
				Expression: "uppercase", InputVariable: "summary",
			})},
		},
		Edges: []schema.Edge{{Source: "p1", Target: "t1"}},
	}
}

func hasErrorCode(result *schema.ValidationResult, code string) bool {
	for _, issue := range result.Errors {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestPipeline_ValidDefinition(t *testing.T) {
	result := newTestPipeline(t).Validate(validDefinition(t))
	if !result.Valid() {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
}

func TestPipeline_StructuralRejection(t *testing.T) {
	def := &schema.WorkflowDefinition{
		// No ID, no nodes: the JSON Schema rejects before semantics run.
		Name: "broken",
	}
	result := newTestPipeline(t).Validate(def)
	if result.Valid() {
		t.Fatal("expected structural rejection")
	}
}

func TestPipeline_UnknownNodeKind(t *testing.T) {
	def := validDefinition(t)
	def.Nodes[0].Kind = "teleport"
	result := newTestPipeline(t).Validate(def)
	if result.Valid() {
		t.Fatal("expected rejection of unknown kind")
	}
}

func TestPipeline_DuplicateNodeID(t *testing.T) {
	def := validDefinition(t)
	def.Nodes[1].ID = "p1"
	def.Edges = nil
	result := newTestPipeline(t).Validate(def)
	if !hasErrorCode(result, schema.ErrCodeDuplicateNodeID) {
		t.Errorf("expected DUPLICATE_NODE_ID, got %v", result.Errors)
	}
}

func TestPipeline_DanglingEdge(t *testing.T) {
	def := validDefinition(t)
	def.Edges = []schema.Edge{{Source: "p1", Target: "ghost"}}
	result := newTestPipeline(t).Validate(def)
	if !hasErrorCode(result, schema.ErrCodeDanglingEdge) {
		t.Errorf("expected DANGLING_EDGE, got %v", result.Errors)
	}
}

func TestPipeline_Cycle(t *testing.T) {
	def := validDefinition(t)
	def.Edges = []schema.Edge{
		{Source: "p1", Target: "t1"},
		{Source: "t1", Target: "p1"},
	}
	result := newTestPipeline(t).Validate(def)
	if !hasErrorCode(result, schema.ErrCodeCycleDetected) {
		t.Errorf("expected CYCLE_DETECTED, got %v", result.Errors)
	}
}

func TestPipeline_CycleErrorCodeSurvivesToError(t *testing.T) {
	def := validDefinition(t)
	def.Edges = []schema.Edge{
		{Source: "p1", Target: "t1"},
		{Source: "t1", Target: "p1"},
	}
	err := newTestPipeline(t).Validate(def).ToError()
	if err == nil {
		t.Fatal("expected error")
	}
	loomErr, ok := err.(*schema.LoomError)
	if !ok || loomErr.Code != schema.ErrCodeCycleDetected {
		t.Errorf("cycle code lost through ToError: %v", err)
	}
}

func TestPipeline_UnboundTemplateVariableWarns(t *testing.T) {
	def := validDefinition(t)
	def.Nodes[0].Config = mustConfig(t, schema.PromptConfig{
		Template: "Summarize {{mystery}}", Model: "loom-small", OutputVariable: "summary",
	})
	result := newTestPipeline(t).Validate(def)
	if !result.Valid() {
		t.Fatalf("unbound variables must be warnings, got errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for the unbound template variable")
	}
}

func TestPipeline_OffCatalogExpressionWarns(t *testing.T) {
	def := validDefinition(t)
	def.Nodes[1].Config = mustConfig(t, schema.TransformConfig{
		Expression: "explode", InputVariable: "summary",
	})
	result := newTestPipeline(t).Validate(def)
	if !result.Valid() {
		t.Fatalf("off-catalog expressions must be warnings, got errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for the off-catalog expression")
	}
}

func TestPipeline_PromptMissingModel(t *testing.T) {
	def := validDefinition(t)
	def.Nodes[0].Config = mustConfig(t, schema.PromptConfig{Template: "x"})
	result := newTestPipeline(t).Validate(def)
	if result.Valid() {
		t.Fatal("prompt without model should be rejected")
	}
}

func TestPipeline_MergeStrategyWarning(t *testing.T) {
	def := validDefinition(t)
	def.Nodes = append(def.Nodes, schema.Node{
		ID: "m1", Kind: schema.NodeKindMerge,
		Config: mustConfig(t, schema.MergeConfig{InputNodeIDs: []string{"p1"}, Strategy: "zip"}),
	})
	def.Edges = append(def.Edges, schema.Edge{Source: "t1", Target: "m1"})
	result := newTestPipeline(t).Validate(def)
	if !result.Valid() {
		t.Fatalf("unknown merge strategy must be a warning, got errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for the unknown merge strategy")
	}
}
