package validation

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

// Validator checks resolved step parameters against their definition before
// an action runs. Uses CEL for showIf rules and JSON Schema Draft 2020-12 for
// per-parameter validation documents. Keys in unresolved hold values whose
// template references did not resolve; an empty value there is not treated
// as a missing required parameter.
type Validator interface {
	ValidateParameters(ctx context.Context, defs []schema.Parameter, values schema.Parameters, run map[string]any, unresolved map[string]bool) (schema.Parameters, error)
}
