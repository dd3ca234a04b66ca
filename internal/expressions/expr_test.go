package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"a": 10, "b": 3}

	t.Run("addition", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a + b", data)
		require.NoError(t, err)
		assert.Equal(t, 13, out)
	})

	t.Run("comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a > b", data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestExpr_StepOutputs(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"orders": []any{
			map[string]any{"total": 12.5, "status": "paid"},
			map[string]any{"total": 7.5, "status": "open"},
			map[string]any{"total": 30.0, "status": "paid"},
		},
	}

	out, err := e.Evaluate(context.Background(),
		`sum(filter(orders, {.status == "paid"}), {.total})`, data)
	require.NoError(t, err)
	assert.Equal(t, 42.5, out)
}

func TestExpr_NilCoalescing(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidParameters))
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `][invalid`, map[string]any{})
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrExpression, fe.Kind)
	assert.Equal(t, map[string]any{"engine": "expr", "stage": "compile", "expression": "][invalid"}, fe.Data)
	assert.Empty(t, e.programs.programs, "failed compiles are not cached")
}

func TestExpr_RuntimeError(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"items": []any{1, 2, 3}}

	_, err := e.Evaluate(context.Background(), `items[100]`, data)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrExpression, fe.Kind)
	assert.Equal(t, "run", fe.Data.(map[string]any)["stage"])
}

func TestExpr_CancelledContext(t *testing.T) {
	e := NewExprEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, "1 + 1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpr_EvaluateScope(t *testing.T) {
	e := NewExprEngine()
	scope := Scope{
		Data: map[string]any{"orders": []any{map[string]any{"total": 4}, map[string]any{"total": 6}}},
		Run:  RunMeta{ID: "run-9", WorkflowID: "wf-1", StepID: "calc"},
	}

	out, err := e.EvaluateScope(context.Background(), `sum(data.orders, {.total}) + len(run.stepId)`, scope)
	require.NoError(t, err)
	assert.EqualValues(t, 14, out)

	out, err = e.EvaluateScope(context.Background(), `run.id`, scope)
	require.NoError(t, err)
	assert.Equal(t, "run-9", out)
}

func TestExpr_ProgramReusedAcrossDataShapes(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "x + 1", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out)

	out, err = e.Evaluate(context.Background(), "x + 1", map[string]any{"x": 1.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, out)
	assert.Len(t, e.programs.programs, 1)
}

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "x * 2", map[string]any{"x": n})
			assert.NoError(t, err)
			assert.Equal(t, n*2, out)
		}(i)
	}
	wg.Wait()
}
