package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptloom/loom/internal/completion"
	"github.com/promptloom/loom/internal/expressions"
	"github.com/promptloom/loom/internal/logging"
	"github.com/promptloom/loom/pkg/schema"
)

// nodeHandler executes one node kind against the execution context and
// returns the trace entry for it. Handlers mutate the context through its
// setters only.
type nodeHandler func(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error)

// NodeExecutor dispatches nodes to their kind-specific handler and wraps
// every execution with timing and correlation logging.
type NodeExecutor struct {
	completions completion.Service
	evaluator   *expressions.Evaluator
	handlers    map[schema.NodeKind]nodeHandler
}

// NewNodeExecutor creates an executor backed by the given completion
// service and expression evaluator.
func NewNodeExecutor(completions completion.Service, evaluator *expressions.Evaluator) *NodeExecutor {
	ex := &NodeExecutor{
		completions: completions,
		evaluator:   evaluator,
	}
	ex.handlers = map[schema.NodeKind]nodeHandler{
		schema.NodeKindPrompt:    ex.executePrompt,
		schema.NodeKindCondition: ex.executeCondition,
		schema.NodeKindTransform: ex.executeTransform,
		schema.NodeKindLoop:      ex.executeLoop,
		schema.NodeKindMerge:     ex.executeMerge,
		schema.NodeKindSplit:     ex.executeSplit,
	}
	return ex
}

// Execute runs a single node. The returned entry is non-nil even when the
// node fails, so the caller can append it to the trace before aborting.
func (ex *NodeExecutor) Execute(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error) {
	ctx = logging.WithNodeID(ctx, node.ID)
	logger := logging.FromContext(ctx)

	handler, ok := ex.handlers[node.Kind]
	if !ok {
		err := schema.NewErrorf(schema.ErrCodeRuntimeType, "unknown node kind %q", node.Kind).WithNode(node.ID)
		return &schema.NodeExecutionEntry{NodeID: node.ID, Kind: node.Kind, Error: err.Error()}, err
	}

	start := time.Now()
	entry, err := handler(ctx, node, ec)
	elapsed := time.Since(start)

	if entry == nil {
		entry = &schema.NodeExecutionEntry{NodeID: node.ID, Kind: node.Kind}
	}
	entry.NodeID = node.ID
	entry.Kind = node.Kind
	entry.DurationMs = elapsed.Milliseconds()

	if err != nil {
		entry.Error = err.Error()
		logger.Error("node execution failed",
			slog.String("kind", string(node.Kind)),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
		return entry, err
	}

	logger.Debug("node executed",
		slog.String("kind", string(node.Kind)),
		slog.Duration("duration", elapsed))
	return entry, nil
}

// decodeConfig unmarshals the node's raw config into the kind-specific
// struct. Malformed configs are runtime type errors.
func decodeConfig(node schema.Node, out any) error {
	if len(node.Config) == 0 {
		return schema.NewErrorf(schema.ErrCodeRuntimeType, "node %q has no config", node.ID).WithNode(node.ID)
	}
	if err := json.Unmarshal(node.Config, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeRuntimeType, "node %q has malformed config", node.ID).
			WithNode(node.ID).WithCause(err)
	}
	return nil
}

// executePrompt interpolates the template against the current variables,
// calls the completion service, and stores the content as the node output.
func (ex *NodeExecutor) executePrompt(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error) {
	var cfg schema.PromptConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	rendered := expressions.Interpolate(cfg.Template, ec.Variables())

	result, err := ex.completions.Complete(ctx, completion.Request{
		Text:        rendered,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return &schema.NodeExecutionEntry{
			Inputs: map[string]any{"rendered": rendered, "model": cfg.Model},
		}, wrapCompletionError(node.ID, err)
	}

	ec.SetOutput(node.ID, result.Content)
	if cfg.OutputVariable != "" {
		ec.SetVariable(cfg.OutputVariable, result.Content)
	}

	return &schema.NodeExecutionEntry{
		Inputs:     map[string]any{"rendered": rendered, "model": cfg.Model},
		Output:     result.Content,
		TokensUsed: result.TokensUsed,
		Cost:       result.Cost,
	}, nil
}

// executeLoop resolves the iterator variable, then performs one completion
// per item with the item bound to a transient variable. Items run in slice
// order and outputs are collected into a slice.
func (ex *NodeExecutor) executeLoop(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error) {
	var cfg schema.LoopConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	raw, ok := ec.ResolveInput(cfg.IteratorVariable)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeRuntimeType,
			"loop node %q: iterator variable %q is not bound", node.ID, cfg.IteratorVariable).WithNode(node.ID)
	}
	items, err := toSlice(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRuntimeType,
			"loop node %q: iterator variable %q is not iterable", node.ID, cfg.IteratorVariable).
			WithNode(node.ID).WithCause(err)
	}

	var diagnostics []string
	if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
		diagnostics = append(diagnostics,
			fmt.Sprintf("loop truncated from %d to %d items", len(items), cfg.MaxItems))
		items = items[:cfg.MaxItems]
	}

	itemVar := cfg.ItemVariable
	if itemVar == "" {
		itemVar = "item"
	}

	results := make([]any, 0, len(items))
	totalTokens := 0
	totalCost := 0.0
	for i, item := range items {
		vars := ec.OverlayVariables(map[string]any{
			itemVar:      item,
			"loopIndex":  i,
			"isLastItem": i == len(items)-1,
		})
		rendered := expressions.Interpolate(cfg.Template, vars)

		result, err := ex.completions.Complete(ctx, completion.Request{
			Text:        rendered,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return &schema.NodeExecutionEntry{
				Inputs:      map[string]any{"iterator": cfg.IteratorVariable, "items": len(items), "failed_index": i},
				Diagnostics: diagnostics,
			}, wrapCompletionError(node.ID, err)
		}
		results = append(results, result.Content)
		totalTokens += result.TokensUsed
		totalCost += result.Cost
	}

	ec.SetOutput(node.ID, results)
	if cfg.OutputVariable != "" {
		ec.SetVariable(cfg.OutputVariable, results)
	}

	return &schema.NodeExecutionEntry{
		Inputs:      map[string]any{"iterator": cfg.IteratorVariable, "items": len(items)},
		Output:      results,
		Diagnostics: diagnostics,
		TokensUsed:  totalTokens,
		Cost:        totalCost,
	}, nil
}

// wrapCompletionError tags a completion failure with the node and the
// external service error code, preserving an already typed cause.
func wrapCompletionError(nodeID string, err error) error {
	var loomErr *schema.LoomError
	if errors.As(err, &loomErr) {
		return loomErr.WithNode(nodeID)
	}
	return schema.NewError(schema.ErrCodeCompletion, "completion service call failed").
		WithNode(nodeID).WithCause(err)
}

// toSlice normalizes iterable values to []any. Strings are not iterable.
func toSlice(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeRuntimeType, "value of type %T is not a list", v)
	}
}
