package completion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptloom/loom/pkg/schema"
)

func TestCircuit_StartsClosedAllowsRequests(t *testing.T) {
	reg := NewCircuitRegistry(DefaultCircuitConfig())
	assert.NoError(t, reg.AllowRequest("loom-small"))
	assert.Equal(t, CircuitClosed, reg.State("loom-small"))
}

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	cfg := CircuitConfig{FailureThreshold: 3, Cooldown: 10 * time.Second, HalfOpenMax: 1}
	reg := NewCircuitRegistry(cfg)

	reg.RecordFailure("loom-small")
	reg.RecordFailure("loom-small")
	assert.Equal(t, CircuitClosed, reg.State("loom-small"))

	state := reg.RecordFailure("loom-small")
	assert.Equal(t, CircuitOpen, state)

	err := reg.AllowRequest("loom-small")
	require.Error(t, err)
	var loomErr *schema.LoomError
	require.ErrorAs(t, err, &loomErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, loomErr.Code)
}

func TestCircuit_PerModelIsolation(t *testing.T) {
	cfg := CircuitConfig{FailureThreshold: 1, Cooldown: 10 * time.Second, HalfOpenMax: 1}
	reg := NewCircuitRegistry(cfg)

	reg.RecordFailure("loom-small")
	require.Error(t, reg.AllowRequest("loom-small"))
	assert.NoError(t, reg.AllowRequest("loom-large"))
}

func TestCircuit_SuccessResets(t *testing.T) {
	cfg := CircuitConfig{FailureThreshold: 2, Cooldown: 10 * time.Second, HalfOpenMax: 1}
	reg := NewCircuitRegistry(cfg)

	reg.RecordFailure("m")
	reg.RecordSuccess("m")
	reg.RecordFailure("m")
	assert.Equal(t, CircuitClosed, reg.State("m"))
}

func TestCircuit_HalfOpenAfterCooldown(t *testing.T) {
	cfg := CircuitConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1}
	reg := NewCircuitRegistry(cfg)

	reg.RecordFailure("m")
	require.Error(t, reg.AllowRequest("m"))

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, reg.AllowRequest("m")) // first probe allowed
	require.Error(t, reg.AllowRequest("m")) // probe budget spent

	reg.RecordSuccess("m")
	assert.Equal(t, CircuitClosed, reg.State("m"))
}

func TestCircuit_HalfOpenFailureReopens(t *testing.T) {
	cfg := CircuitConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1}
	reg := NewCircuitRegistry(cfg)

	reg.RecordFailure("m")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.AllowRequest("m"))

	state := reg.RecordFailure("m")
	assert.Equal(t, CircuitOpen, state)
}
