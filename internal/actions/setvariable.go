package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/stepflow/pkg/schema"
)

type setVariableAction struct{}

// NewSetVariableAction returns the setVariable action, which coerces a value
// to a data type and records it as a run variable.
func NewSetVariableAction() Action { return &setVariableAction{} }

func (a *setVariableAction) Definition() schema.ActionDefinition {
	return builtinDefinition(KeySetVariable, "Set variable",
		"Stores a value as a run variable under the given key.",
		[]schema.Parameter{
			{Key: "key", Title: "Key", DataType: schema.DataTypeString, Required: true},
			{Key: "value", Title: "Value", DataType: schema.DataTypeAny},
			{Key: "dataType", Title: "Data type", DataType: schema.DataTypeString, Default: string(schema.DataTypeString),
				Validation: json.RawMessage(`{"enum":["string","number","boolean","array","object","datetime","file","any"]}`)},
		},
		[]schema.Output{
			{Key: "key", Title: "Key", DataType: schema.DataTypeString},
			{Key: "value", Title: "Value", DataType: schema.DataTypeAny},
		},
	)
}

func (a *setVariableAction) Execute(ctx context.Context, inv Invocation) schema.ActionResult {
	key := inv.Params.String("key")
	if key == "" {
		return schema.Failed(schema.ErrInvalidParameters, "setVariable requires a non-empty 'key'", nil)
	}
	dt := schema.DataType(inv.Params.String("dataType"))
	if dt == "" {
		dt = schema.DataTypeString
	}
	if !dt.Valid() {
		return schema.Failed(schema.ErrInvalidParameters, "setVariable: unknown data type "+string(dt), nil)
	}

	raw, _ := inv.Params.Get("value")
	value, err := schema.Coerce(dt, raw)
	if err != nil {
		return schema.Failed(schema.ErrInvalidParameters, "setVariable: "+err.Error(), nil)
	}

	if inv.Variables == nil {
		return schema.Failed(schema.ErrUnknown, "setVariable: no variable recorder available", nil)
	}
	if err := inv.Variables.RecordVariable(ctx, inv.RunID, inv.StepID, key, value, dt); err != nil {
		return schema.FailedFrom(err)
	}

	return schema.Completed(map[string]any{
		"key":      key,
		"value":    value.Native(),
		"dataType": string(dt),
	})
}
