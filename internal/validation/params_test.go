package validation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func newTestValidator(t *testing.T) *ParameterValidator {
	t.Helper()
	v, err := NewParameterValidator()
	require.NoError(t, err)
	return v
}

func TestValidateParameters_CoercesDataTypes(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{
		{Key: "count", DataType: schema.DataTypeNumber, Required: true},
		{Key: "active", DataType: schema.DataTypeBoolean},
		{Key: "tags", DataType: schema.DataTypeArray},
	}
	values := schema.Parameters{
		"count":  schema.String("5"),
		"active": schema.String("true"),
		"tags":   schema.String(`["a","b"]`),
		"extra":  schema.String("kept"),
	}

	out, err := v.ValidateParameters(context.Background(), defs, values, nil, nil)
	require.NoError(t, err)

	n, ok := out["count"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 5.0, n)
	b, ok := out["active"].AsBool()
	require.True(t, ok)
	assert.True(t, b)
	items, ok := out["tags"].AsArray()
	require.True(t, ok)
	assert.Len(t, items, 2)
	assert.Equal(t, "kept", out.String("extra"))

	_, stillString := values["count"].AsString()
	assert.True(t, stillString, "input is not mutated")
}

func TestValidateParameters_RequiredMissing(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{{Key: "to", DataType: schema.DataTypeString, Required: true}}

	_, err := v.ValidateParameters(context.Background(), defs, schema.Parameters{"to": schema.String("")}, nil, nil)
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidParameters))
	assert.Contains(t, err.Error(), "to: required parameter is missing")
}

func TestValidateParameters_DefaultApplied(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{{Key: "retries", DataType: schema.DataTypeNumber, Required: true, Default: 3}}

	out, err := v.ValidateParameters(context.Background(), defs, schema.Parameters{}, nil, nil)
	require.NoError(t, err)
	n, _ := out["retries"].AsNumber()
	assert.Equal(t, 3.0, n)
}

func TestValidateParameters_ShowIfHidesParameter(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{
		{Key: "method", DataType: schema.DataTypeString},
		{Key: "body", DataType: schema.DataTypeObject, Required: true, ShowIf: `params.method == "POST"`},
	}

	_, err := v.ValidateParameters(context.Background(), defs, schema.Parameters{"method": schema.String("GET")}, nil, nil)
	assert.NoError(t, err)

	_, err = v.ValidateParameters(context.Background(), defs, schema.Parameters{"method": schema.String("POST")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body")
}

func TestValidateParameters_JSONSchema(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{{
		Key:        "count",
		DataType:   schema.DataTypeNumber,
		Validation: json.RawMessage(`{"type":"number","maximum":10}`),
	}}

	_, err := v.ValidateParameters(context.Background(), defs, schema.Parameters{"count": schema.Number(4)}, nil, nil)
	assert.NoError(t, err)

	_, err = v.ValidateParameters(context.Background(), defs, schema.Parameters{"count": schema.Number(40)}, nil, nil)
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidParameters))
}

func TestValidateParameters_TypeMismatch(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{
		{Key: "a", DataType: schema.DataTypeNumber},
		{Key: "b", DataType: schema.DataTypeBoolean},
	}

	_, err := v.ValidateParameters(context.Background(), defs, schema.Parameters{
		"a": schema.String("five"),
		"b": schema.String("maybe"),
	}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed with 2 errors")
}

func TestValidateParameters_UnresolvedRequiredPassesThrough(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{
		{Key: "channel", DataType: schema.DataTypeString, Required: true},
		{Key: "retries", DataType: schema.DataTypeNumber, Default: 3},
	}
	values := schema.Parameters{"channel": schema.String(""), "retries": schema.String("")}
	unresolved := map[string]bool{"channel": true, "retries": true}

	out, err := v.ValidateParameters(context.Background(), defs, values, nil, unresolved)
	require.NoError(t, err)
	assert.Equal(t, "", out.String("channel"))
	n, ok := out["retries"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, float64(3), n)

	_, err = v.ValidateParameters(context.Background(), defs, values, nil, nil)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidParameters))
}

func TestValidateParameters_UnresolvedReferenceReportedAsWarning(t *testing.T) {
	v := newTestValidator(t)
	defs := []schema.Parameter{
		{Key: "channel", DataType: schema.DataTypeString, Required: true},
		{Key: "text", DataType: schema.DataTypeString, Required: true},
	}
	values := schema.Parameters{"channel": schema.String("")}

	_, err := v.ValidateParameters(context.Background(), defs, values, nil, map[string]bool{"channel": true})
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "text: required parameter is missing")
	data, ok := fe.Data.(map[string]any)
	require.True(t, ok)
	warnings, ok := data["warnings"].([]schema.ValidationIssue)
	require.True(t, ok)
	require.Len(t, warnings, 1)
	assert.Equal(t, "channel", warnings[0].Path)
}
