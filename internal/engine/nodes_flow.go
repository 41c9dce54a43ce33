package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/promptloom/loom/internal/expressions"
	"github.com/promptloom/loom/pkg/schema"
)

// executeCondition evaluates a catalog expression to a boolean. Unknown or
// failing expressions yield false with a diagnostic rather than an error.
func (ex *NodeExecutor) executeCondition(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error) {
	var cfg schema.ConditionConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	result, diagnostics := ex.evaluator.EvaluateCondition(ctx, cfg.Expression, ec.Variables(), ec.Outputs())

	ec.SetOutput(node.ID, result)
	if cfg.OutputVariable != "" {
		ec.SetVariable(cfg.OutputVariable, result)
	}

	return &schema.NodeExecutionEntry{
		Inputs:      map[string]any{"expression": cfg.Expression},
		Output:      result,
		Diagnostics: diagnostics,
	}, nil
}

// executeTransform applies a catalog transform to the resolved input value.
// An unbound input variable is a runtime type error; an unknown transform
// passes the input through with a diagnostic.
func (ex *NodeExecutor) executeTransform(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error) {
	var cfg schema.TransformConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	input, ok := ec.ResolveInput(cfg.InputVariable)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeRuntimeType,
			"transform node %q: input variable %q is not bound", node.ID, cfg.InputVariable).WithNode(node.ID)
	}

	result, diagnostics := ex.evaluator.EvaluateTransform(ctx, cfg.Expression, input, ec.Variables(), ec.Outputs())

	ec.SetOutput(node.ID, result)
	if cfg.OutputVariable != "" {
		ec.SetVariable(cfg.OutputVariable, result)
	}

	return &schema.NodeExecutionEntry{
		Inputs:      map[string]any{"expression": cfg.Expression, "input_variable": cfg.InputVariable},
		Output:      result,
		Diagnostics: diagnostics,
	}, nil
}

// executeMerge combines the outputs of the listed upstream nodes using the
// configured strategy. Absent and empty upstream outputs are skipped under
// every strategy, not errors.
func (ex *NodeExecutor) executeMerge(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error) {
	var cfg schema.MergeConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	inputs := gatherMergeInputs(ec, cfg.InputNodeIDs)

	var diagnostics []string
	var merged any

	switch cfg.Strategy {
	case schema.MergeConcatenate:
		parts := make([]string, 0, len(inputs))
		for _, in := range inputs {
			parts = append(parts, expressions.Stringify(in.value))
		}
		merged = strings.Join(parts, "\n\n")

	case schema.MergeObject:
		obj := make(map[string]any, len(inputs))
		for _, in := range inputs {
			obj[in.id] = in.value
		}
		merged = obj

	case schema.MergeArray:
		merged = mergeValues(inputs)

	default:
		diagnostics = append(diagnostics,
			fmt.Sprintf("unknown merge strategy %q, defaulting to array", cfg.Strategy))
		merged = mergeValues(inputs)
	}

	ec.SetOutput(node.ID, merged)

	return &schema.NodeExecutionEntry{
		Inputs:      map[string]any{"strategy": string(cfg.Strategy), "input_nodes": cfg.InputNodeIDs},
		Output:      merged,
		Diagnostics: diagnostics,
	}, nil
}

var sentencePattern = regexp.MustCompile(`[.!?]+`)

// executeSplit divides the resolved input into a list of strings using the
// configured strategy. Blank segments are dropped; only the sentences
// strategy trims its segments, since sentence splitting leaves the
// separating whitespace attached.
func (ex *NodeExecutor) executeSplit(ctx context.Context, node schema.Node, ec *ExecutionContext) (*schema.NodeExecutionEntry, error) {
	var cfg schema.SplitConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	input, ok := ec.ResolveInput(cfg.InputVariable)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeRuntimeType,
			"split node %q: input variable %q is not bound", node.ID, cfg.InputVariable).WithNode(node.ID)
	}
	text := expressions.Stringify(input)

	var diagnostics []string
	var parts []string

	switch cfg.Strategy {
	case schema.SplitLines:
		parts = dropBlank(strings.Split(text, "\n"))
	case schema.SplitSentences:
		for _, s := range sentencePattern.Split(text, -1) {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	case schema.SplitWords:
		parts = strings.Fields(text)
	case schema.SplitCustom:
		if cfg.Delimiter == "" {
			diagnostics = append(diagnostics, "custom split with empty delimiter, treating input as a single segment")
			parts = []string{text}
		} else {
			parts = dropBlank(strings.Split(text, cfg.Delimiter))
		}
	default:
		diagnostics = append(diagnostics,
			fmt.Sprintf("unknown split strategy %q, treating input as a single segment", cfg.Strategy))
		parts = []string{text}
	}
	if parts == nil {
		parts = []string{}
	}

	ec.SetOutput(node.ID, parts)

	return &schema.NodeExecutionEntry{
		Inputs:      map[string]any{"strategy": string(cfg.Strategy), "input_variable": cfg.InputVariable},
		Output:      parts,
		Diagnostics: diagnostics,
	}, nil
}

// dropBlank removes whitespace-only segments without touching the content
// of the kept ones.
func dropBlank(segments []string) []string {
	kept := make([]string, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return kept
}

// mergeInput pairs an upstream node ID with the output it contributed.
type mergeInput struct {
	id    string
	value any
}

// gatherMergeInputs collects upstream outputs in declaration order, skipping
// nodes with no recorded output and outputs that are nil or empty strings.
func gatherMergeInputs(ec *ExecutionContext, ids []string) []mergeInput {
	inputs := make([]mergeInput, 0, len(ids))
	for _, id := range ids {
		v, ok := ec.Output(id)
		if !ok || isEmptyOutput(v) {
			continue
		}
		inputs = append(inputs, mergeInput{id: id, value: v})
	}
	return inputs
}

func isEmptyOutput(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

func mergeValues(inputs []mergeInput) []any {
	out := make([]any, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, in.value)
	}
	return out
}
