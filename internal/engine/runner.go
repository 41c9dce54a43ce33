package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptloom/loom/internal/completion"
	"github.com/promptloom/loom/internal/expressions"
	"github.com/promptloom/loom/internal/logging"
	"github.com/promptloom/loom/pkg/schema"
)

// DefinitionSource supplies workflow definitions to the runner.
// Satisfied by the libSQL store and test fakes.
type DefinitionSource interface {
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
}

// RecordSink persists execution records in two phases: creation of the
// running record before the first node executes, and exactly one terminal
// finalization.
type RecordSink interface {
	CreateRecord(ctx context.Context, record *schema.ExecutionRecord) error
	FinalizeRecord(ctx context.Context, record *schema.ExecutionRecord) error
}

// Runner coordinates workflow runs end to end.
type Runner interface {
	// Run executes the identified workflow with the given caller inputs.
	// The returned record is the durable trace of the run; it is non-nil
	// whenever a record was created, including on failed runs.
	Run(ctx context.Context, workflowID string, inputs map[string]any, callerID string) (*schema.ExecutionRecord, error)
}

// runnerImpl is the concrete Runner implementation.
type runnerImpl struct {
	definitions DefinitionSource
	records     RecordSink
	executor    *NodeExecutor
}

// NewRunner creates a Runner backed by the given collaborators.
func NewRunner(definitions DefinitionSource, records RecordSink, completions completion.Service) (Runner, error) {
	evaluator, err := expressions.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &runnerImpl{
		definitions: definitions,
		records:     records,
		executor:    NewNodeExecutor(completions, evaluator),
	}, nil
}

// Run loads the definition, orders the graph, and executes nodes strictly
// sequentially. Graph rejection happens before any record is created; once
// a record exists, every exit path finalizes it exactly once.
func (r *runnerImpl) Run(ctx context.Context, workflowID string, inputs map[string]any, callerID string) (*schema.ExecutionRecord, error) {
	ctx = logging.WithWorkflowID(ctx, workflowID)
	if callerID != "" {
		ctx = logging.WithCallerID(ctx, callerID)
	}
	logger := logging.FromContext(ctx)

	def, err := r.definitions.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	order, err := Order(def.Nodes, def.Edges)
	if err != nil {
		logger.Warn("workflow rejected", slog.String("error", err.Error()))
		return nil, err
	}

	nodesByID := make(map[string]schema.Node, len(def.Nodes))
	for _, node := range def.Nodes {
		nodesByID[node.ID] = node
	}

	ec := NewExecutionContext(def.DefaultVariables, inputs)

	record := &schema.ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		CallerID:   callerID,
		Status:     schema.RunStatusRunning,
		Inputs:     deepCopyMap(inputs),
		StartedAt:  time.Now().UTC(),
	}
	if err := r.records.CreateRecord(ctx, record); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "creating execution record").WithCause(err)
	}

	ctx = logging.WithRunID(ctx, record.ID)
	logger = logging.FromContext(ctx)
	logger.Info("workflow run started", slog.Int("nodes", len(order)))

	recorder := NewRecorder()
	for _, nodeID := range order {
		entry, err := r.executor.Execute(ctx, nodesByID[nodeID], ec)
		if entry != nil {
			recorder.Append(*entry)
		}
		if err != nil {
			return r.finalize(ctx, record, recorder, ec, err)
		}
	}

	return r.finalize(ctx, record, recorder, ec, nil)
}

// finalize transitions the record to its terminal status and persists it.
// Called exactly once per created record.
func (r *runnerImpl) finalize(ctx context.Context, record *schema.ExecutionRecord, recorder *Recorder, ec *ExecutionContext, runErr error) (*schema.ExecutionRecord, error) {
	logger := logging.FromContext(ctx)

	record.Trace = recorder.Entries()
	record.Outputs = ec.SnapshotOutputs()
	now := time.Now().UTC()
	record.CompletedAt = &now

	target := schema.RunStatusCompleted
	if runErr != nil {
		target = schema.RunStatusFailed
		record.Error = asLoomError(runErr)
	}
	if err := Transition(record, target); err != nil {
		return record, err
	}

	if err := r.records.FinalizeRecord(ctx, record); err != nil {
		logger.Error("finalizing execution record failed", slog.String("error", err.Error()))
		if runErr != nil {
			return record, runErr
		}
		return record, schema.NewError(schema.ErrCodeStore, "finalizing execution record").WithCause(err)
	}

	if runErr != nil {
		logger.Warn("workflow run failed",
			slog.Int("trace_entries", recorder.Len()),
			slog.String("error", runErr.Error()))
		return record, runErr
	}
	logger.Info("workflow run completed", slog.Int("trace_entries", recorder.Len()))
	return record, nil
}

// asLoomError coerces any error to a typed LoomError for the record.
func asLoomError(err error) *schema.LoomError {
	var loomErr *schema.LoomError
	if errors.As(err, &loomErr) {
		return loomErr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error())
}
