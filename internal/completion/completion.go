// Package completion defines the model completion collaborator consumed by
// prompt and loop nodes. The engine only depends on the Service interface;
// the HTTP client here is one implementation of it.
package completion

import "context"

// Request describes a single completion call.
type Request struct {
	Text        string  `json:"text"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Result is the outcome of a completion call.
type Result struct {
	Content    string  `json:"content"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// Service performs model completions on behalf of prompt and loop nodes.
type Service interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}
