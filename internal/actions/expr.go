package actions

import (
	"context"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

type evaluateExpressionAction struct {
	engine *expressions.ExprEngine
}

// NewEvaluateExpressionAction returns the evaluateExpression action, backed
// by the expr engine.
func NewEvaluateExpressionAction() Action {
	return &evaluateExpressionAction{engine: expressions.NewExprEngine()}
}

func (a *evaluateExpressionAction) Definition() schema.ActionDefinition {
	return builtinDefinition(KeyEvaluateExpression, "Evaluate expression",
		"Evaluates an expression against optional data. The data is available as `data`, run metadata as `run`.",
		[]schema.Parameter{
			{Key: "expression", Title: "Expression", DataType: schema.DataTypeString, Required: true},
			{Key: "data", Title: "Data", DataType: schema.DataTypeAny},
		},
		[]schema.Output{
			{Key: "result", Title: "Result", DataType: schema.DataTypeAny},
		},
	)
}

func (a *evaluateExpressionAction) Execute(ctx context.Context, inv Invocation) schema.ActionResult {
	expression := inv.Params.String("expression")
	if expression == "" {
		return schema.Failed(schema.ErrInvalidParameters, "evaluateExpression requires a non-empty 'expression'", nil)
	}

	result, err := a.engine.EvaluateScope(ctx, expression, inv.scope())
	if err != nil {
		return schema.FailedFrom(err)
	}
	return schema.Completed(map[string]any{"result": result})
}

// scope exposes the step's data parameter and run metadata to an expression.
func (inv Invocation) scope() expressions.Scope {
	sc := expressions.Scope{Run: expressions.RunMeta{ID: inv.RunID, WorkflowID: inv.WorkflowID, StepID: inv.StepID}}
	if data, ok := inv.Params.Get("data"); ok {
		sc.Data = expressions.DecodeData(data)
	}
	return sc
}
