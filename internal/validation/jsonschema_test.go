package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestJSONSchemaValidator_EmptySchemaAcceptsAll(t *testing.T) {
	v := NewJSONSchemaValidator()
	assert.NoError(t, v.Validate("anything", nil))
}

func TestJSONSchemaValidator_Valid(t *testing.T) {
	v := NewJSONSchemaValidator()
	err := v.Validate(float64(7), []byte(`{"type":"number","minimum":1,"maximum":10}`))
	assert.NoError(t, err)
}

func TestJSONSchemaValidator_Violation(t *testing.T) {
	v := NewJSONSchemaValidator()
	err := v.Validate(float64(70), []byte(`{"type":"number","maximum":10}`))
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrValidation, fe.Kind)
	assert.NotNil(t, fe.Data)
}

func TestJSONSchemaValidator_MultipleViolations(t *testing.T) {
	v := NewJSONSchemaValidator()
	doc := []byte(`{
		"type": "object",
		"required": ["url"],
		"properties": {"method": {"type": "string"}}
	}`)
	err := v.Validate(map[string]any{"method": float64(5)}, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed with")
}

func TestJSONSchemaValidator_InvalidSchema(t *testing.T) {
	v := NewJSONSchemaValidator()
	err := v.Validate("x", []byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid validation schema")
}

func TestJSONSchemaValidator_CacheConcurrent(t *testing.T) {
	v := NewJSONSchemaValidator()
	doc := []byte(`{"type":"string","minLength":2}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Validate("ok", doc))
		}()
	}
	wg.Wait()
	assert.Len(t, v.cache, 1)
}
