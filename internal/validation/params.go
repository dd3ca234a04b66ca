package validation

import (
	"context"
	"fmt"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

// ParameterValidator applies a definition's parameter rules to resolved
// values: showIf visibility, defaults, required, data type and the optional
// JSON Schema document.
type ParameterValidator struct {
	cel     *expressions.CELEngine
	schemas *JSONSchemaValidator
}

// NewParameterValidator creates a ParameterValidator.
func NewParameterValidator() (*ParameterValidator, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &ParameterValidator{cel: cel, schemas: NewJSONSchemaValidator()}, nil
}

// ValidateParameters returns a copy of values with defaults applied and each
// declared parameter coerced to its data type. Parameters hidden by showIf are
// not checked. Undeclared keys pass through untouched. An empty value whose
// template references did not resolve (listed in unresolved) falls back to
// the default if any and is otherwise passed on as is.
func (v *ParameterValidator) ValidateParameters(ctx context.Context, defs []schema.Parameter, values schema.Parameters, run map[string]any, unresolved map[string]bool) (schema.Parameters, error) {
	out := values.Clone()
	result := &schema.ValidationResult{}

	for _, def := range defs {
		path := def.Key

		if def.ShowIf != "" {
			env := map[string]any{"params": out.Native(), "run": run}
			visible, err := v.cel.EvaluateBool(ctx, def.ShowIf, env)
			if err != nil {
				result.AddError(path, schema.KindOf(err), fmt.Sprintf("showIf: %s", err.Error()))
				continue
			}
			if !visible {
				continue
			}
		}

		val, present := out[def.Key]
		if !present || isEmpty(val) {
			if def.Default != nil {
				val = schema.FromAny(def.Default)
				out[def.Key] = val
			} else if unresolved[def.Key] {
				result.AddWarning(path, schema.ErrInvalidParameters, "value comes from a reference that did not resolve")
				continue
			} else if def.Required {
				result.AddError(path, schema.ErrInvalidParameters, "required parameter is missing")
				continue
			} else {
				continue
			}
		}

		if def.DataType != "" && def.DataType != schema.DataTypeAny {
			coerced, err := schema.Coerce(def.DataType, val)
			if err != nil {
				result.AddError(path, schema.ErrInvalidParameters, err.Error())
				continue
			}
			val = coerced
			out[def.Key] = val
		}

		if len(def.Validation) > 0 {
			if err := v.schemas.Validate(val.Native(), def.Validation); err != nil {
				result.AddError(path, schema.ErrInvalidParameters, err.Error())
			}
		}
	}

	if err := result.ToError(); err != nil {
		return nil, err
	}
	return out, nil
}

func isEmpty(v schema.Value) bool {
	if v.IsNull() {
		return true
	}
	s, ok := v.AsString()
	return ok && s == ""
}

var _ Validator = (*ParameterValidator)(nil)
