package store

import "time"

// Schedule is a recurring trigger that runs a workflow on a cron cadence.
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	CallerID   string         `json:"caller_id,omitempty"`
	CronExpr   string         `json:"cron_expr"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Enabled    bool           `json:"enabled"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ScheduleRunUpdate records the outcome of one scheduled firing.
// Nil fields are left unchanged.
type ScheduleRunUpdate struct {
	LastRunAt *time.Time
	NextRunAt *time.Time
	LastError *string
	Enabled   *bool
}
