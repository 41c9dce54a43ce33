package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable workflow graph format.
// The editing subsystem produces it; the engine treats it as read-only.
type WorkflowDefinition struct {
	ID               string         `json:"id"`
	Name             string         `json:"name,omitempty"`
	DefaultVariables map[string]any `json:"default_variables,omitempty"`
	Nodes            []Node         `json:"nodes"`
	Edges            []Edge         `json:"edges,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Node is a single typed unit of work in the workflow graph.
type Node struct {
	ID     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"` // kind-specific config block
}

// Edge declares an ordering constraint between two nodes. It only constrains
// execution order; it does not gate conditional skip-execution.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// NodeKind enumerates the kinds of nodes in a workflow.
type NodeKind string

const (
	NodeKindPrompt    NodeKind = "prompt"
	NodeKindCondition NodeKind = "condition"
	NodeKindTransform NodeKind = "transform"
	NodeKindLoop      NodeKind = "loop"
	NodeKindMerge     NodeKind = "merge"
	NodeKindSplit     NodeKind = "split"
)

// PromptConfig is the config block for prompt-type nodes.
type PromptConfig struct {
	Template       string  `json:"template"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	OutputVariable string  `json:"output_variable,omitempty"`
}

// ConditionConfig is the config block for condition-type nodes.
// Expression must come from the safe-expression catalog; anything else
// evaluates to false with a diagnostic attached to the trace entry.
type ConditionConfig struct {
	Expression     string `json:"expression"`
	OutputVariable string `json:"output_variable,omitempty"`
}

// TransformConfig is the config block for transform-type nodes.
type TransformConfig struct {
	Expression     string `json:"expression"`
	InputVariable  string `json:"input_variable"`
	OutputVariable string `json:"output_variable,omitempty"`
}

// LoopConfig is the config block for loop-type nodes. The iterator variable
// must hold a list at run time. MaxItems > 0 caps the number of iterations.
type LoopConfig struct {
	IteratorVariable string  `json:"iterator_variable"`
	ItemVariable     string  `json:"item_variable"`
	Template         string  `json:"template"`
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	MaxItems         int     `json:"max_items,omitempty"`
	OutputVariable   string  `json:"output_variable,omitempty"`
}

// MergeStrategy enumerates how merge nodes combine upstream outputs.
type MergeStrategy string

const (
	MergeConcatenate MergeStrategy = "concatenate"
	MergeArray       MergeStrategy = "array"
	MergeObject      MergeStrategy = "object"
)

// MergeConfig is the config block for merge-type nodes.
type MergeConfig struct {
	InputNodeIDs []string      `json:"input_node_ids"`
	Strategy     MergeStrategy `json:"strategy"`
}

// SplitStrategy enumerates how split nodes divide an input value.
type SplitStrategy string

const (
	SplitLines     SplitStrategy = "lines"
	SplitSentences SplitStrategy = "sentences"
	SplitWords     SplitStrategy = "words"
	SplitCustom    SplitStrategy = "custom"
)

// SplitConfig is the config block for split-type nodes.
// Delimiter is only consulted for the custom strategy.
type SplitConfig struct {
	InputVariable string        `json:"input_variable"`
	Strategy      SplitStrategy `json:"strategy"`
	Delimiter     string        `json:"delimiter,omitempty"`
}
