package expressions

import "context"

// Engine evaluates expressions behind the safe-expression catalog.
// Three implementations: CEL (conditions), Expr (string/length transforms),
// GoJQ (JSON-shaped transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
