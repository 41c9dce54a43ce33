package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeCycleDetected   = "CYCLE_DETECTED"
	ErrCodeDanglingEdge    = "DANGLING_EDGE"
	ErrCodeDuplicateNodeID = "DUPLICATE_NODE_ID"
	ErrCodeRuntimeType     = "RUNTIME_TYPE_ERROR"
	ErrCodeCompletion      = "COMPLETION_ERROR"
	ErrCodeExecution       = "EXECUTION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeStore           = "STORE_ERROR"
	ErrCodeCircuitOpen     = "CIRCUIT_OPEN"
	ErrCodeInvalidStatus   = "INVALID_STATUS_TRANSITION"
)

// LoomError is the structured error type for all engine operations.
type LoomError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *LoomError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LoomError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LoomError.
func NewError(code, message string) *LoomError {
	return &LoomError{Code: code, Message: message}
}

// NewErrorf creates a new LoomError with a formatted message.
func NewErrorf(code, format string, args ...any) *LoomError {
	return &LoomError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *LoomError) WithNode(nodeID string) *LoomError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *LoomError) WithCause(err error) *LoomError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *LoomError) WithDetails(details map[string]any) *LoomError {
	e.Details = details
	return e
}

// IsGraphError reports whether the error rejects the workflow definition
// itself rather than a particular run. Graph errors are raised before any
// node executes and never produce an ExecutionRecord.
func (e *LoomError) IsGraphError() bool {
	switch e.Code {
	case ErrCodeCycleDetected, ErrCodeDanglingEdge, ErrCodeDuplicateNodeID, ErrCodeValidation:
		return true
	}
	return false
}
