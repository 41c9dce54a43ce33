package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptloom/loom/internal/logging"
	"github.com/promptloom/loom/pkg/schema"
)

// ClientConfig configures the HTTP completion client.
type ClientConfig struct {
	// BaseURL is the completion backend, e.g. "https://api.example.com".
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds each individual HTTP call.
	Timeout time.Duration
	// Retry bounds retries across calls. Zero value uses the default policy.
	Retry RetryPolicy
	// Circuit configures the per-model breaker.
	Circuit CircuitConfig
}

// Client calls a completion backend over HTTP with retries and a per-model
// circuit breaker. Implements Service.
type Client struct {
	config   ClientConfig
	http     *http.Client
	circuits *CircuitRegistry
}

// NewClient creates an HTTP completion client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if config.Circuit.FailureThreshold <= 0 {
		config.Circuit = DefaultCircuitConfig()
	}
	return &Client{
		config:   config,
		http:     &http.Client{Timeout: config.Timeout},
		circuits: NewCircuitRegistry(config.Circuit),
	}
}

// Complete performs one completion, retrying transient failures per the
// configured policy. Terminal failures carry code COMPLETION_ERROR so the
// engine surfaces them as external service errors.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	if err := c.circuits.AllowRequest(req.Model); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.config.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.config.Retry.backoffFor(attempt - 1)
			logging.FromContext(ctx).Debug("retrying completion",
				slog.String("model", req.Model),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", delay))
			if err := waitForBackoff(ctx, delay); err != nil {
				return nil, err
			}
		}

		result, err := c.doRequest(ctx, req)
		if err == nil {
			c.circuits.RecordSuccess(req.Model)
			return result, nil
		}
		lastErr = err
		c.circuits.RecordFailure(req.Model)
		if !isRetryable(err) {
			break
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeCompletion,
		"completion failed for model %q after %d attempts",
		req.Model, c.config.Retry.MaxAttempts).WithCause(lastErr)
}

func (c *Client) doRequest(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCompletion, "completion request failed").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCompletion, "reading completion response").WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeCompletion,
			"completion backend returned status %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(data), 512)})
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, schema.NewError(schema.ErrCodeCompletion, "decoding completion response").WithCause(err)
	}
	return &result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
