package validation

import (
	"encoding/json"
	"fmt"

	"github.com/promptloom/loom/internal/expressions"
	"github.com/promptloom/loom/pkg/schema"
)

// ValidateSemantics checks node configs and cross-references that the JSON
// Schema cannot express: config decoding per kind, required fields, merge
// and split strategy values, catalog membership of expressions, and
// template variables with no binding in the default variables.
//
// Unresolved template variables and off-catalog expressions are warnings:
// runtime inputs may bind the former, and the latter degrade to defined
// fallbacks instead of failing the run.
func ValidateSemantics(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return result
	}

	for i, node := range def.Nodes {
		path := fmt.Sprintf("/nodes/%d", i)
		validateNodeConfig(result, path, node, def.DefaultVariables)
	}
	return result
}

func validateNodeConfig(result *schema.ValidationResult, path string, node schema.Node, defaults map[string]any) {
	switch node.Kind {
	case schema.NodeKindPrompt:
		var cfg schema.PromptConfig
		if !decodeInto(result, path, node, &cfg) {
			return
		}
		if cfg.Template == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("prompt node %q has an empty template", node.ID))
		}
		if cfg.Model == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("prompt node %q has no model", node.ID))
		}
		warnUnbound(result, path, node.ID, cfg.Template, defaults)

	case schema.NodeKindCondition:
		var cfg schema.ConditionConfig
		if !decodeInto(result, path, node, &cfg) {
			return
		}
		if cfg.Expression == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("condition node %q has an empty expression", node.ID))
		} else if !expressions.KnownCondition(cfg.Expression) {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("condition node %q uses expression %q outside the catalog; it will evaluate to false", node.ID, cfg.Expression))
		}

	case schema.NodeKindTransform:
		var cfg schema.TransformConfig
		if !decodeInto(result, path, node, &cfg) {
			return
		}
		if cfg.InputVariable == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("transform node %q has no input variable", node.ID))
		}
		if cfg.Expression == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("transform node %q has an empty expression", node.ID))
		} else if !expressions.KnownTransform(cfg.Expression) {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("transform node %q uses expression %q outside the catalog; input will pass through unchanged", node.ID, cfg.Expression))
		}

	case schema.NodeKindLoop:
		var cfg schema.LoopConfig
		if !decodeInto(result, path, node, &cfg) {
			return
		}
		if cfg.IteratorVariable == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop node %q has no iterator variable", node.ID))
		}
		if cfg.Template == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop node %q has an empty template", node.ID))
		}
		if cfg.Model == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop node %q has no model", node.ID))
		}
		if cfg.MaxItems < 0 {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop node %q has negative max_items", node.ID))
		}

	case schema.NodeKindMerge:
		var cfg schema.MergeConfig
		if !decodeInto(result, path, node, &cfg) {
			return
		}
		if len(cfg.InputNodeIDs) == 0 {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("merge node %q lists no input nodes", node.ID))
		}
		switch cfg.Strategy {
		case schema.MergeConcatenate, schema.MergeArray, schema.MergeObject:
		default:
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("merge node %q has unknown strategy %q; array will be used", node.ID, cfg.Strategy))
		}

	case schema.NodeKindSplit:
		var cfg schema.SplitConfig
		if !decodeInto(result, path, node, &cfg) {
			return
		}
		if cfg.InputVariable == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("split node %q has no input variable", node.ID))
		}
		switch cfg.Strategy {
		case schema.SplitLines, schema.SplitSentences, schema.SplitWords:
		case schema.SplitCustom:
			if cfg.Delimiter == "" {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("split node %q uses custom strategy with no delimiter", node.ID))
			}
		default:
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("split node %q has unknown strategy %q; input will not be split", node.ID, cfg.Strategy))
		}

	default:
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("node %q has unknown kind %q", node.ID, node.Kind))
	}
}

func decodeInto(result *schema.ValidationResult, path string, node schema.Node, out any) bool {
	if len(node.Config) == 0 {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("node %q has no config", node.ID))
		return false
	}
	if err := json.Unmarshal(node.Config, out); err != nil {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("node %q config does not decode: %s", node.ID, err))
		return false
	}
	return true
}

// warnUnbound emits one warning per template variable that has no default
// binding. The run may still bind it through caller inputs.
func warnUnbound(result *schema.ValidationResult, path, nodeID, template string, defaults map[string]any) {
	for _, name := range expressions.UnboundTokens(template, defaults) {
		result.AddWarning(path, schema.ErrCodeValidation,
			fmt.Sprintf("node %q references {{%s}} with no default binding; it stays verbatim unless bound at run time", nodeID, name))
	}
}
