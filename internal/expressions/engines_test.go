package expressions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptloom/loom/pkg/schema"
)

func requireErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var loomErr *schema.LoomError
	require.True(t, errors.As(err, &loomErr), "expected LoomError, got %T: %v", err, err)
	assert.Equal(t, code, loomErr.Code)
}

// --- CEL ---

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_VarsAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"vars": map[string]any{
			"enabled": true,
			"count":   int64(5),
		},
	}

	t.Run("boolean field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `vars.enabled == true`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `double(vars["count"]) > 3.0`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("membership check", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `"count" in vars`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestCEL_MissingKeysDefaultToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// No vars or outputs in data; the activation must still provide them.
	out, err := e.Evaluate(context.Background(), `"x" in vars || "x" in outputs`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `vars.`, map[string]any{})
	requireErrorCode(t, err, schema.ErrCodeValidation)
}

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", map[string]any{})
	requireErrorCode(t, err, schema.ErrCodeValidation)
}

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{"vars": map[string]any{"n": int64(1)}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `double(vars["n"]) == 1.0`, data)
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
}

// --- Expr ---

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_StringFunctions(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `upper(input)`, map[string]any{"input": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)

	out, err = e.Evaluate(context.Background(), `trim(input)`, map[string]any{"input": "  padded  "})
	require.NoError(t, err)
	assert.Equal(t, "padded", out)
}

func TestExpr_UndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()

	// Undefined variables evaluate to nil rather than failing compilation.
	out, err := e.Evaluate(context.Background(), `missing == nil`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `upper(`, map[string]any{})
	requireErrorCode(t, err, schema.ErrCodeValidation)
}

func TestExpr_NilData(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `1 + 2`, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

// --- GoJQ ---

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQ_SingleOutput(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.input | length`, map[string]any{"input": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 5, out)
}

func TestGoJQ_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.input[]`, map[string]any{
		"input": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_NumbersNormalized(t *testing.T) {
	e := NewGoJQEngine()

	// Go ints must reach jq as float64 or arithmetic fails.
	out, err := e.Evaluate(context.Background(), `.input + 1`, map[string]any{"input": 41})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}

func TestGoJQ_StringSlicesNormalized(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.input | join(",")`, map[string]any{
		"input": []string{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.input |`, map[string]any{})
	requireErrorCode(t, err, schema.ErrCodeValidation)
}

func TestGoJQ_EnvironBlocked(t *testing.T) {
	e := NewGoJQEngine()

	t.Setenv("LOOM_SECRET", "hidden")

	out, err := e.Evaluate(context.Background(), `env.LOOM_SECRET`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.input + 1`, map[string]any{"input": "not a number"})
	requireErrorCode(t, err, schema.ErrCodeExecution)
}
