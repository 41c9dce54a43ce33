package completion

import (
	"sync"
	"time"

	"github.com/promptloom/loom/pkg/schema"
)

// CircuitState represents the state of a per-model circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing, rejecting calls
	CircuitHalfOpen                     // testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitConfig configures the breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before half-open probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultCircuitConfig returns the default breaker configuration.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              CircuitConfig
}

// CircuitRegistry manages one breaker per model so a failing model does not
// block completions against healthy ones.
type CircuitRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   CircuitConfig
}

// NewCircuitRegistry creates a registry with the given config.
func NewCircuitRegistry(config CircuitConfig) *CircuitRegistry {
	return &CircuitRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
	}
}

// AllowRequest reports whether a completion against the model is allowed.
// Returns nil if allowed, or a LoomError if the circuit is open.
func (r *CircuitRegistry) AllowRequest(model string) error {
	cb := r.getOrCreate(model)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request is the first probe
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for model %q after %d consecutive failures",
			model, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"model":                model,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for model %q: max probe requests reached", model)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess resets the breaker for the model.
func (r *CircuitRegistry) RecordSuccess(model string) {
	cb := r.getOrCreate(model)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure records a failed completion and returns the new state.
func (r *CircuitRegistry) RecordFailure(model string) CircuitState {
	cb := r.getOrCreate(model)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen {
		// Any failure in half-open reopens the circuit.
		cb.state = CircuitOpen
		return CircuitOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		return CircuitOpen
	}

	return cb.state
}

// State returns the current circuit state for a model.
func (r *CircuitRegistry) State(model string) CircuitState {
	cb := r.getOrCreate(model)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

func (r *CircuitRegistry) getOrCreate(model string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[model]
	if !ok {
		cb = &breaker{state: CircuitClosed, config: r.config}
		r.breakers[model] = cb
	}
	return cb
}
