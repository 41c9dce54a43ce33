package schema

import "time"

// RunStatus enumerates the lifecycle states of an execution record.
// A record is created in running state and transitions exactly once
// to a terminal state.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ExecutionRecord is the durable, replayable trace of one workflow run.
// It is created before the first node executes (status=running) and
// finalized once at completion or failure.
type ExecutionRecord struct {
	ID          string               `json:"id"`
	WorkflowID  string               `json:"workflow_id"`
	CallerID    string               `json:"caller_id,omitempty"`
	Status      RunStatus            `json:"status"`
	Inputs      map[string]any       `json:"inputs,omitempty"`
	Outputs     map[string]any       `json:"outputs,omitempty"`
	Trace       []NodeExecutionEntry `json:"trace,omitempty"`
	Error       *LoomError           `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// NodeExecutionEntry is the trace entry produced by executing one node.
// Diagnostics carries non-fatal notes, such as an expression that was not
// recognized by the safe-expression catalog.
type NodeExecutionEntry struct {
	NodeID      string         `json:"node_id"`
	Kind        NodeKind       `json:"kind"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Output      any            `json:"output,omitempty"`
	Diagnostics []string       `json:"diagnostics,omitempty"`
	TokensUsed  int            `json:"tokens_used,omitempty"`
	Cost        float64        `json:"cost,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
}
