package expressions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// Engine evaluates an expression against a map of named values. CEL uses it
// for parameter visibility; the expr and jq engines also accept a Scope.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// RunMeta identifies the step an expression is evaluated for.
type RunMeta struct {
	ID         string
	WorkflowID string
	StepID     string
}

func (m RunMeta) native() map[string]any {
	return map[string]any{"id": m.ID, "workflowId": m.WorkflowID, "stepId": m.StepID}
}

// Scope is what the data actions expose to an expression: the step's data
// parameter as data and the surrounding run as run.
type Scope struct {
	Data any
	Run  RunMeta
}

// Env returns the scope as expression variables.
func (s Scope) Env() map[string]any {
	return map[string]any{"data": plain(s.Data), "run": s.Run.native()}
}

// DecodeData converts a data parameter into plain values. References resolve
// to text, so a string holding a JSON object or array is decoded.
func DecodeData(v schema.Value) any {
	s, ok := v.AsString()
	if !ok {
		return v.Native()
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var generic any
		if err := json.Unmarshal([]byte(trimmed), &generic); err == nil {
			return generic
		}
	}
	return s
}

// plain rewrites Go integers and typed slices or maps into the JSON shapes
// the engines expect: float64 numbers, []any and map[string]any.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = item
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case schema.Value:
		return t.Native()
	default:
		return v
	}
}

// expressionError reports a failed expression. Data carries the engine, the
// stage that failed (compile or run) and the expression text.
func expressionError(engine, stage, expression string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrExpression, "%s %s error in %q: %s", engine, stage, expression, err.Error()).
		WithCause(err).
		WithData(map[string]any{"engine": engine, "stage": stage, "expression": expression})
}

func emptyExpression(engine string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrInvalidParameters, "empty %s expression", engine)
}
