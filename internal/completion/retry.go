package completion

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/promptloom/loom/pkg/schema"
)

// RetryPolicy bounds retry behavior for completion calls.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first call.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries twice with a short exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// isRetryable classifies whether a completion error should be retried.
// Timeouts and network failures retry; cancellation and typed loom errors
// with permanent codes do not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var loomErr *schema.LoomError
	if errors.As(err, &loomErr) {
		switch loomErr.Code {
		case schema.ErrCodeCompletion:
			// A backend HTTP status is attached by doRequest. Overload and
			// server-side failures retry; other client errors are permanent.
			if status, ok := loomErr.Details["status"].(int); ok {
				return status == http.StatusTooManyRequests || status >= 500
			}
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// backoffFor computes the delay before the given retry attempt,
// exponentially doubling from BaseDelay and capped at MaxDelay.
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// waitForBackoff sleeps for the delay or returns early on context
// cancellation.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
