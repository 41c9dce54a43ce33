// Package service is the composition layer over the store, the validation
// pipeline, and the engine runner. Callers (the daemon, the scheduler, and
// whatever transport sits in front) go through it rather than touching the
// components directly.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptloom/loom/internal/completion"
	"github.com/promptloom/loom/internal/engine"
	"github.com/promptloom/loom/internal/logging"
	"github.com/promptloom/loom/internal/store"
	"github.com/promptloom/loom/internal/validation"
	"github.com/promptloom/loom/pkg/schema"
)

// Service exposes the engine's operations over validated, persisted
// definitions.
type Service struct {
	store    store.Store
	pipeline *validation.Pipeline
	runner   engine.Runner
}

// New wires a Service from its collaborators.
func New(s store.Store, completions completion.Service) (*Service, error) {
	pipeline, err := validation.NewPipeline()
	if err != nil {
		return nil, err
	}
	runner, err := engine.NewRunner(s, s, completions)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    s,
		pipeline: pipeline,
		runner:   runner,
	}, nil
}

// SaveWorkflow validates a definition and persists it. The returned result
// carries warnings even on success; on validation errors nothing is stored.
func (s *Service) SaveWorkflow(ctx context.Context, def *schema.WorkflowDefinition) (*schema.ValidationResult, error) {
	result := s.pipeline.Validate(def)
	if !result.Valid() {
		return result, result.ToError()
	}

	err := s.store.CreateDefinition(ctx, def)
	if err == nil {
		logging.FromContext(ctx).Info("workflow saved",
			slog.String("workflow_id", def.ID),
			slog.Int("warnings", len(result.Warnings)))
		return result, nil
	}

	// An existing definition gets replaced in full.
	if uerr := s.store.UpdateDefinition(ctx, def); uerr == nil {
		logging.FromContext(ctx).Info("workflow updated", slog.String("workflow_id", def.ID))
		return result, nil
	}
	return result, schema.NewError(schema.ErrCodeStore, "saving workflow definition").WithCause(err)
}

// ValidateWorkflow runs the pipeline without persisting anything.
func (s *Service) ValidateWorkflow(def *schema.WorkflowDefinition) *schema.ValidationResult {
	return s.pipeline.Validate(def)
}

// GetWorkflow loads a stored definition.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	return s.store.GetDefinition(ctx, id)
}

// ListWorkflows lists stored definitions.
func (s *Service) ListWorkflows(ctx context.Context, filter store.DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	return s.store.ListDefinitions(ctx, filter)
}

// DeleteWorkflow removes a stored definition. Schedules pointing at it are
// disabled rather than deleted so their history survives.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	scheds, err := s.store.ListSchedules(ctx, store.ScheduleFilter{WorkflowID: id})
	if err != nil {
		return err
	}
	disabled := false
	for _, sched := range scheds {
		if err := s.store.UpdateScheduleRun(ctx, sched.ID, store.ScheduleRunUpdate{Enabled: &disabled}); err != nil {
			return err
		}
	}
	return nil
}

// Run executes a workflow and returns its durable record.
func (s *Service) Run(ctx context.Context, workflowID string, inputs map[string]any, callerID string) (*schema.ExecutionRecord, error) {
	return s.runner.Run(ctx, workflowID, inputs, callerID)
}

// RunWorkflow adapts Run to the scheduler's runner interface.
func (s *Service) RunWorkflow(ctx context.Context, workflowID string, inputs map[string]any, callerID string) error {
	_, err := s.runner.Run(ctx, workflowID, inputs, callerID)
	return err
}

// GetRecord loads one execution record.
func (s *Service) GetRecord(ctx context.Context, id string) (*schema.ExecutionRecord, error) {
	return s.store.GetRecord(ctx, id)
}

// ListRecords lists execution records.
func (s *Service) ListRecords(ctx context.Context, filter store.RecordFilter) ([]*schema.ExecutionRecord, error) {
	return s.store.ListRecords(ctx, filter)
}

// CreateSchedule registers a recurring run for a stored workflow. The cron
// expression and the workflow reference are checked up front.
func (s *Service) CreateSchedule(ctx context.Context, sched *store.Schedule, nextRun func(string, time.Time) (time.Time, error)) (*store.Schedule, error) {
	if _, err := s.store.GetDefinition(ctx, sched.WorkflowID); err != nil {
		return nil, err
	}

	next, err := nextRun(sched.CronExpr, time.Now().UTC())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q", sched.CronExpr).WithCause(err)
	}

	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	sched.NextRunAt = &next
	sched.Enabled = true
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "creating schedule").WithCause(err)
	}
	return sched, nil
}

// DeleteSchedule removes a schedule.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	return s.store.DeleteSchedule(ctx, id)
}
