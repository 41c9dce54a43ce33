package engine

import (
	"github.com/promptloom/loom/pkg/schema"
)

// recordTransitions enumerates the legal status transitions for an
// execution record. A record starts in running and moves to exactly one
// terminal status.
var recordTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
}

// CanTransition reports whether a record may move from one status to
// another.
func CanTransition(from, to schema.RunStatus) bool {
	for _, next := range recordTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change on the record.
// Finalizing an already terminal record is rejected so the terminal write
// happens exactly once.
func Transition(record *schema.ExecutionRecord, to schema.RunStatus) error {
	if record == nil {
		return schema.NewError(schema.ErrCodeInvalidStatus, "cannot transition nil record")
	}
	if !CanTransition(record.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidStatus,
			"invalid record transition from %q to %q", record.Status, to)
	}
	record.Status = to
	return nil
}
