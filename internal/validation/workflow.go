// Package validation checks workflow definitions before they are accepted
// for storage or execution. The pipeline runs three passes in order:
// structural (JSON Schema), semantic (configs and expressions), and graph
// (IDs, edges, acyclicity). Errors reject the definition; warnings are
// surfaced to the caller but do not.
package validation

import (
	"github.com/promptloom/loom/pkg/schema"
)

// Pipeline runs all definition checks. Safe for concurrent use.
type Pipeline struct {
	structural *StructuralValidator
}

// NewPipeline creates the validation pipeline with the JSON Schema
// pre-compiled.
func NewPipeline() (*Pipeline, error) {
	structural, err := NewStructuralValidator()
	if err != nil {
		return nil, err
	}
	return &Pipeline{structural: structural}, nil
}

// Validate runs the full pipeline over a definition and aggregates every
// issue. A structural failure short-circuits: the later passes assume a
// well-formed document.
func (p *Pipeline) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if err := p.structural.ValidateDefinition(def); err != nil {
		var loomErr *schema.LoomError
		if le, ok := err.(*schema.LoomError); ok {
			loomErr = le
		} else {
			loomErr = schema.NewError(schema.ErrCodeValidation, err.Error())
		}
		result.AddError("/", loomErr.Code, loomErr.Message)
		return result
	}

	result.Merge(ValidateSemantics(def))
	result.Merge(ValidateGraph(def))
	return result
}
