package engine

import (
	"testing"

	"github.com/promptloom/loom/pkg/schema"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to schema.RunStatus
		want     bool
	}{
		{schema.RunStatusRunning, schema.RunStatusCompleted, true},
		{schema.RunStatusRunning, schema.RunStatusFailed, true},
		{schema.RunStatusCompleted, schema.RunStatusFailed, false},
		{schema.RunStatusFailed, schema.RunStatusCompleted, false},
		{schema.RunStatusCompleted, schema.RunStatusRunning, false},
		{schema.RunStatusRunning, schema.RunStatusRunning, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTransition_TerminalExactlyOnce(t *testing.T) {
	record := &schema.ExecutionRecord{Status: schema.RunStatusRunning}

	if err := Transition(record, schema.RunStatusCompleted); err != nil {
		t.Fatalf("first terminal transition should succeed: %v", err)
	}
	if record.Status != schema.RunStatusCompleted {
		t.Errorf("status not applied: %s", record.Status)
	}

	err := Transition(record, schema.RunStatusFailed)
	assertErrorCode(t, err, schema.ErrCodeInvalidStatus)
	if record.Status != schema.RunStatusCompleted {
		t.Errorf("rejected transition mutated status: %s", record.Status)
	}
}

func TestTransition_NilRecord(t *testing.T) {
	err := Transition(nil, schema.RunStatusCompleted)
	assertErrorCode(t, err, schema.ErrCodeInvalidStatus)
}
