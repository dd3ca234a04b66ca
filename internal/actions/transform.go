package actions

import (
	"context"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

type transformDataAction struct {
	engine *expressions.JQEngine
}

// NewTransformDataAction returns the transformData action, which runs a jq
// query over its data.
func NewTransformDataAction() Action {
	return &transformDataAction{engine: expressions.NewJQEngine()}
}

func (a *transformDataAction) Definition() schema.ActionDefinition {
	return builtinDefinition(KeyTransformData, "Transform data",
		"Runs a jq query with the data as its input. Run metadata is available as $run.",
		[]schema.Parameter{
			{Key: "query", Title: "Query", DataType: schema.DataTypeString, Required: true},
			{Key: "data", Title: "Data", DataType: schema.DataTypeAny},
		},
		[]schema.Output{
			{Key: "result", Title: "Result", DataType: schema.DataTypeAny},
		},
	)
}

func (a *transformDataAction) Execute(ctx context.Context, inv Invocation) schema.ActionResult {
	query := inv.Params.String("query")
	if query == "" {
		return schema.Failed(schema.ErrInvalidParameters, "transformData requires a non-empty 'query'", nil)
	}

	result, err := a.engine.EvaluateScope(ctx, query, inv.scope())
	if err != nil {
		return schema.FailedFrom(err)
	}
	return schema.Completed(map[string]any{"result": result})
}
