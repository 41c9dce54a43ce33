package expressions

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// The safe-expression catalog is the closed set of condition and transform
// expressions a workflow may use. It replaces direct execution of
// user-supplied code with a fixed-capability sandbox: recognized expressions
// map to curated CEL, expr, or jq programs; anything else degrades to a
// defined fallback (condition → false, transform → passthrough) with a
// diagnostic note instead of an error.
//
// The catalog is process-wide, read-only, and fixed at initialization.

// comparisonPattern recognizes templated numeric comparisons against a named
// variable, e.g. "vars.count > 5" or "vars.score <= 0.8".
var comparisonPattern = regexp.MustCompile(
	`^vars\.([A-Za-z_][A-Za-z0-9_]*)\s*(==|!=|>=|<=|>|<)\s*(-?\d+(?:\.\d+)?)$`)

// conditionCatalog maps recognized condition expressions to CEL sources
// evaluated over the vars/outputs activation.
var conditionCatalog = map[string]string{
	"true":            `true`,
	"false":           `false`,
	"vars.length > 0": `size(vars) > 0`,
	"outputs.success": `("success" in outputs) && outputs["success"] == true`,
}

// transformEntry binds a catalog transform to the engine and program that
// implement it. Entries with coerce=true receive the input as text.
type transformEntry struct {
	engine  string // "expr" or "jq"
	program string
	coerce  bool
}

// transformCatalog maps recognized transform expressions to their programs.
// Expr programs see the input as the top-level "input" variable; jq programs
// address it as .input.
var transformCatalog = map[string]transformEntry{
	"uppercase":          {engine: "expr", program: `upper(input)`, coerce: true},
	"lowercase":          {engine: "expr", program: `lower(input)`, coerce: true},
	"trim":               {engine: "expr", program: `trim(input)`, coerce: true},
	"length":             {engine: "expr", program: `len(input)`},
	"splitOnComma":       {engine: "expr", program: `split(input, ",")`, coerce: true},
	"toJson":             {engine: "jq", program: `.input | tojson`},
	"collapseWhitespace": {engine: "jq", program: `.input | gsub("\\s+"; " ")`, coerce: true},
}

// Evaluator is the safe-expression evaluator: catalog lookup plus dispatch
// to the backing expression engines. Safe for concurrent use.
type Evaluator struct {
	cel  *CELEngine
	expr *ExprEngine
	jq   *GoJQEngine
}

// NewEvaluator creates an Evaluator with all three backing engines.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		cel:  celEngine,
		expr: NewExprEngine(),
		jq:   NewGoJQEngine(),
	}, nil
}

// EvaluateCondition evaluates a catalog condition over the variable bindings
// and node outputs. An expression outside the catalog is not an error: the
// result is false and a diagnostic note is returned for the trace entry.
func (ev *Evaluator) EvaluateCondition(ctx context.Context, expression string, vars, outputs map[string]any) (bool, []string) {
	expression = strings.TrimSpace(expression)

	source, ok := conditionCatalog[expression]
	if !ok {
		var matched bool
		source, matched = compileComparison(expression)
		if !matched {
			return false, []string{unsupportedNote("condition", expression)}
		}
	}

	data := map[string]any{"vars": vars, "outputs": outputs}
	result, err := ev.cel.Evaluate(ctx, source, data)
	if err != nil {
		// A recognized entry that fails at runtime (e.g. a non-numeric
		// variable in a comparison) degrades like an unsupported one.
		return false, []string{evalNote("condition", expression, err)}
	}

	b, ok := result.(bool)
	if !ok {
		return false, []string{fmt.Sprintf("condition %q did not produce a boolean (got %T)", expression, result)}
	}
	return b, nil
}

// EvaluateTransform evaluates a catalog transform on input. An expression
// outside the catalog returns the input unchanged with a diagnostic note.
func (ev *Evaluator) EvaluateTransform(ctx context.Context, expression string, input any, vars, outputs map[string]any) (any, []string) {
	expression = strings.TrimSpace(expression)

	entry, ok := transformCatalog[expression]
	if !ok {
		return input, []string{unsupportedNote("transform", expression)}
	}

	in := input
	if entry.coerce {
		in = Stringify(input)
	}
	data := map[string]any{"input": in, "vars": vars, "outputs": outputs}

	var result any
	var err error
	switch entry.engine {
	case "jq":
		result, err = ev.jq.Evaluate(ctx, entry.program, data)
	default:
		result, err = ev.expr.Evaluate(ctx, entry.program, data)
	}
	if err != nil {
		return input, []string{evalNote("transform", expression, err)}
	}
	return result, nil
}

// compileComparison renders a matched numeric comparison to CEL source.
// The variable value is coerced with double() so integer and float bindings
// compare uniformly; numeric literals are emitted as doubles.
func compileComparison(expression string) (string, bool) {
	m := comparisonPattern.FindStringSubmatch(expression)
	if m == nil {
		return "", false
	}
	name, op, literal := m[1], m[2], m[3]
	if !strings.Contains(literal, ".") {
		literal += ".0"
	}
	source := fmt.Sprintf(`(%q in vars) && double(vars[%q]) %s %s`, name, name, op, literal)
	return source, true
}

// KnownCondition reports whether the expression is in the condition
// catalog, including the templated comparison form.
func KnownCondition(expression string) bool {
	expression = strings.TrimSpace(expression)
	if _, ok := conditionCatalog[expression]; ok {
		return true
	}
	return comparisonPattern.MatchString(expression)
}

// KnownTransform reports whether the expression is in the transform catalog.
func KnownTransform(expression string) bool {
	_, ok := transformCatalog[strings.TrimSpace(expression)]
	return ok
}

func unsupportedNote(kind, expression string) string {
	return fmt.Sprintf("unsupported %s expression %q: not in catalog, using fallback", kind, expression)
}

func evalNote(kind, expression string, err error) string {
	return fmt.Sprintf("%s expression %q failed, using fallback: %s", kind, expression, err.Error())
}
