package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/promptloom/loom/internal/store"
)

// WorkflowRunner is the interface the scheduler uses to run workflows.
// Satisfied by the engine runner (avoids import cycle).
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflowID string, inputs map[string]any, callerID string) error
}

// Scheduler polls the store for due schedules and fires them through a
// bounded run pool.
type Scheduler struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	pool   *RunPool
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewScheduler creates a new Scheduler with the given run concurrency.
func NewScheduler(s store.Store, runner WorkflowRunner, poolSize int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  s,
		runner: runner,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		pool:   NewRunPool(poolSize),
		logger: logger,
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled schedules and fires those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	scheds, err := s.store.ListSchedules(ctx, store.ScheduleFilter{EnabledOnly: true})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range scheds {
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		sched := sched
		err := s.pool.Submit(ctx, sched.ID, func(runCtx context.Context) error {
			return s.fire(runCtx, sched, now)
		})
		if errors.Is(err, ErrAlreadyRunning) {
			continue // previous firing still running
		}
		if err != nil {
			s.logger.Error("failed to submit scheduled run",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// fire runs one scheduled workflow and updates the schedule's timestamps.
func (s *Scheduler) fire(ctx context.Context, sched *store.Schedule, now time.Time) error {
	s.logger.Info("firing schedule",
		slog.String("schedule_id", sched.ID),
		slog.String("workflow_id", sched.WorkflowID),
	)

	runErr := s.runner.RunWorkflow(ctx, sched.WorkflowID, sched.Inputs, sched.CallerID)
	lastError := ""
	if runErr != nil {
		lastError = runErr.Error()
		s.logger.Error("scheduled run failed",
			slog.String("schedule_id", sched.ID),
			slog.String("error", runErr.Error()),
		)
	}

	nextRun, err := s.NextRun(sched.CronExpr, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sched.ID, err)
	}

	return s.store.UpdateScheduleRun(ctx, sched.ID, store.ScheduleRunUpdate{
		LastRunAt: &now,
		NextRunAt: &nextRun,
		LastError: &lastError,
	})
}

// NextRun computes the next firing time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler and drains in-flight runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Shutdown()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// Metrics returns a snapshot of the run pool metrics.
func (s *Scheduler) Metrics() PoolMetrics {
	return s.pool.Metrics()
}
