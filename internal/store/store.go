package store

import (
	"context"

	"github.com/promptloom/loom/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	// Execution records. Two-phase: CreateRecord persists the running
	// record before the first node executes, FinalizeRecord writes the
	// terminal status, outputs, trace, and error exactly once.
	CreateRecord(ctx context.Context, record *schema.ExecutionRecord) error
	FinalizeRecord(ctx context.Context, record *schema.ExecutionRecord) error
	GetRecord(ctx context.Context, id string) (*schema.ExecutionRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]*schema.ExecutionRecord, error)

	// Scheduled runs
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateScheduleRun(ctx context.Context, id string, update ScheduleRunUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DefinitionFilter narrows definition listings.
type DefinitionFilter struct {
	// NamePrefix filters by definition name prefix when non-empty.
	NamePrefix string
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// RecordFilter narrows execution record listings.
type RecordFilter struct {
	WorkflowID string
	CallerID   string
	Status     schema.RunStatus
	Limit      int
}

// ScheduleFilter narrows schedule listings.
type ScheduleFilter struct {
	WorkflowID string
	// EnabledOnly limits results to enabled schedules.
	EnabledOnly bool
}
