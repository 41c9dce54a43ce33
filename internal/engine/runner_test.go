package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/promptloom/loom/pkg/schema"
)

// fakeRepo backs the runner's definition and record collaborators in memory.
type fakeRepo struct {
	mu          sync.Mutex
	definitions map[string]*schema.WorkflowDefinition
	created     []*schema.ExecutionRecord
	finalized   []*schema.ExecutionRecord
	createErr   error
}

func newFakeRepo(defs ...*schema.WorkflowDefinition) *fakeRepo {
	r := &fakeRepo{definitions: make(map[string]*schema.WorkflowDefinition)}
	for _, d := range defs {
		r.definitions[d.ID] = d
	}
	return r
}

func (r *fakeRepo) GetDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	def, ok := r.definitions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow definition %q not found", id)
	}
	return def, nil
}

func (r *fakeRepo) CreateRecord(_ context.Context, record *schema.ExecutionRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.created = append(r.created, &cp)
	return nil
}

func (r *fakeRepo) FinalizeRecord(_ context.Context, record *schema.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.finalized = append(r.finalized, &cp)
	return nil
}

func newTestRunner(t *testing.T, repo *fakeRepo, completions *fakeCompletions) Runner {
	t.Helper()
	runner, err := NewRunner(repo, repo, completions)
	if err != nil {
		t.Fatalf("building runner: %v", err)
	}
	return runner
}

func promptNode(t *testing.T, id, template, outputVar string) schema.Node {
	t.Helper()
	return configNode(t, id, schema.NodeKindPrompt, schema.PromptConfig{
		Template:       template,
		Model:          "loom-small",
		OutputVariable: outputVar,
	})
}

// --- end to end ---

func TestRun_TwoPromptChain(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:               "wf-chain",
		DefaultVariables: map[string]any{"topic": "workflow engines"},
		Nodes: []schema.Node{
			promptNode(t, "summarize", "Summarize: {{topic}}", "summary"),
			promptNode(t, "expand", "Expand: {{summary}}", "essay"),
		},
		Edges: []schema.Edge{{Source: "summarize", Target: "expand"}},
	}
	repo := newFakeRepo(def)
	fake := &fakeCompletions{respond: map[string]string{
		"Summarize: workflow engines": "short summary",
	}}

	record, err := newTestRunner(t, repo, fake).Run(context.Background(), "wf-chain", nil, "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The second prompt must see the first prompt's output.
	if len(fake.requests) != 2 {
		t.Fatalf("expected 2 completion calls, got %d", len(fake.requests))
	}
	if fake.requests[1].Text != "Expand: short summary" {
		t.Errorf("chained output not interpolated: %q", fake.requests[1].Text)
	}

	if record.Status != schema.RunStatusCompleted {
		t.Errorf("expected completed, got %s", record.Status)
	}
	if record.CallerID != "tenant-1" {
		t.Errorf("caller not recorded: %q", record.CallerID)
	}
	if len(record.Trace) != 2 {
		t.Fatalf("expected 2 trace entries, got %d", len(record.Trace))
	}
	if record.Trace[0].NodeID != "summarize" || record.Trace[1].NodeID != "expand" {
		t.Errorf("trace out of execution order: %v", record.Trace)
	}
	if record.Outputs["summarize"] != "short summary" {
		t.Errorf("outputs missing from record: %v", record.Outputs)
	}
	if record.CompletedAt == nil {
		t.Error("completed record needs a completion timestamp")
	}

	// Two-phase persistence: one running create, one terminal finalize.
	if len(repo.created) != 1 || repo.created[0].Status != schema.RunStatusRunning {
		t.Errorf("expected one running record created, got %+v", repo.created)
	}
	if len(repo.finalized) != 1 || repo.finalized[0].Status != schema.RunStatusCompleted {
		t.Errorf("expected one completed finalize, got %+v", repo.finalized)
	}
}

func TestRun_InputsOverrideDefaults(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:               "wf",
		DefaultVariables: map[string]any{"tone": "formal"},
		Nodes:            []schema.Node{promptNode(t, "p", "Write {{tone}}", "")},
	}
	repo := newFakeRepo(def)
	fake := &fakeCompletions{}

	_, err := newTestRunner(t, repo, fake).Run(context.Background(), "wf",
		map[string]any{"tone": "casual"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.requests[0].Text != "Write casual" {
		t.Errorf("input did not override default: %q", fake.requests[0].Text)
	}
}

func TestRun_CycleCreatesNoRecord(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "wf-cycle",
		Nodes: []schema.Node{
			promptNode(t, "a", "x", ""),
			promptNode(t, "b", "y", ""),
		},
		Edges: []schema.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
	repo := newFakeRepo(def)
	fake := &fakeCompletions{}

	_, err := newTestRunner(t, repo, fake).Run(context.Background(), "wf-cycle", nil, "")
	assertErrorCode(t, err, schema.ErrCodeCycleDetected)

	if len(repo.created) != 0 {
		t.Error("graph rejection must not create an execution record")
	}
	if len(fake.requests) != 0 {
		t.Error("graph rejection must not execute any node")
	}
}

func TestRun_UnknownWorkflow(t *testing.T) {
	repo := newFakeRepo()
	_, err := newTestRunner(t, repo, &fakeCompletions{}).Run(context.Background(), "nope", nil, "")
	assertErrorCode(t, err, schema.ErrCodeNotFound)
	if len(repo.created) != 0 {
		t.Error("missing workflow must not create a record")
	}
}

func TestRun_FailFastKeepsPartialTrace(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "wf-fail",
		Nodes: []schema.Node{
			promptNode(t, "n1", "one", ""),
			promptNode(t, "n2", "two", ""),
			promptNode(t, "n3", "three", ""),
			promptNode(t, "n4", "four", ""),
			promptNode(t, "n5", "five", ""),
		},
		Edges: []schema.Edge{
			{Source: "n1", Target: "n2"},
			{Source: "n2", Target: "n3"},
			{Source: "n3", Target: "n4"},
			{Source: "n4", Target: "n5"},
		},
	}
	repo := newFakeRepo(def)
	fake := &fakeCompletions{failOnCall: 3}

	record, err := newTestRunner(t, repo, fake).Run(context.Background(), "wf-fail", nil, "")
	assertErrorCode(t, err, schema.ErrCodeCompletion)

	if record == nil {
		t.Fatal("failed run should still return its record")
	}
	if record.Status != schema.RunStatusFailed {
		t.Errorf("expected failed, got %s", record.Status)
	}
	if record.Error == nil || record.Error.Code != schema.ErrCodeCompletion {
		t.Errorf("record error not captured: %+v", record.Error)
	}

	// Nodes 1 and 2 succeeded, node 3 failed, nodes 4 and 5 never ran.
	if len(record.Trace) != 3 {
		t.Fatalf("expected 3 trace entries, got %d", len(record.Trace))
	}
	if record.Trace[2].NodeID != "n3" || record.Trace[2].Error == "" {
		t.Errorf("failing node not captured in trace: %+v", record.Trace[2])
	}
	if len(fake.requests) != 3 {
		t.Errorf("execution did not stop at the failing node: %d calls", len(fake.requests))
	}

	if len(repo.finalized) != 1 || repo.finalized[0].Status != schema.RunStatusFailed {
		t.Errorf("failed record not finalized exactly once: %+v", repo.finalized)
	}
}

func TestRun_CreateRecordFailureAbortsExecution(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "wf",
		Nodes: []schema.Node{promptNode(t, "p", "x", "")},
	}
	repo := newFakeRepo(def)
	repo.createErr = errors.New("disk full")
	fake := &fakeCompletions{}

	_, err := newTestRunner(t, repo, fake).Run(context.Background(), "wf", nil, "")
	assertErrorCode(t, err, schema.ErrCodeStore)
	if len(fake.requests) != 0 {
		t.Error("execution must not start without a durable running record")
	}
}

func TestRun_MixedKindsEndToEnd(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:               "wf-mixed",
		DefaultVariables: map[string]any{"doc": "alpha\nbeta"},
		Nodes: []schema.Node{
			configNode(t, "split", schema.NodeKindSplit, schema.SplitConfig{
				InputVariable: "doc",
				Strategy:      schema.SplitLines,
			}),
			configNode(t, "gate", schema.NodeKindCondition, schema.ConditionConfig{
				Expression: "true",
			}),
			configNode(t, "shout", schema.NodeKindTransform, schema.TransformConfig{
				Expression:    "uppercase",
				InputVariable: "doc",
			}),
			configNode(t, "combine", schema.NodeKindMerge, schema.MergeConfig{
				InputNodeIDs: []string{"gate", "shout"},
				Strategy:     schema.MergeObject,
			}),
		},
		Edges: []schema.Edge{
			{Source: "split", Target: "gate"},
			{Source: "gate", Target: "shout"},
			{Source: "shout", Target: "combine"},
		},
	}
	repo := newFakeRepo(def)

	record, err := newTestRunner(t, repo, &fakeCompletions{}).Run(context.Background(), "wf-mixed", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != schema.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", record.Status)
	}

	combined, ok := record.Outputs["combine"].(map[string]any)
	if !ok {
		t.Fatalf("merge output missing: %v", record.Outputs)
	}
	if combined["gate"] != true {
		t.Errorf("condition output lost: %v", combined)
	}
	if combined["shout"] != "ALPHA\nBETA" {
		t.Errorf("transform output lost: %v", combined)
	}
}
