package expressions

import (
	"context"

	"github.com/itchyny/gojq"
)

// JQEngine runs jq queries for the transformData action. In a Scope the query
// input is the data value itself and run metadata is bound to $run. The
// environment is empty, so $ENV and env expose nothing.
type JQEngine struct {
	programs *programCache[*gojq.Code]
}

// NewJQEngine creates a JQEngine.
func NewJQEngine() *JQEngine {
	return &JQEngine{programs: newProgramCache[*gojq.Code]()}
}

// Name returns "jq".
func (e *JQEngine) Name() string { return "jq" }

// Evaluate runs query with data as its input; $run is an empty object.
func (e *JQEngine) Evaluate(ctx context.Context, query string, data map[string]any) (any, error) {
	var input any = map[string]any{}
	if data != nil {
		input = plain(data)
	}
	return e.run(ctx, query, input, map[string]any{})
}

// EvaluateScope runs query over scope.Data with $run bound to the run
// metadata. A query that yields one value returns it, several values are
// collected into a slice and none returns nil.
func (e *JQEngine) EvaluateScope(ctx context.Context, query string, scope Scope) (any, error) {
	return e.run(ctx, query, plain(scope.Data), scope.Run.native())
}

func (e *JQEngine) run(ctx context.Context, query string, input any, run map[string]any) (any, error) {
	if query == "" {
		return nil, emptyExpression(e.Name())
	}
	code, err := e.programs.get(query, e.compile)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, input, run)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if halt, ok := err.(*gojq.HaltError); ok && halt.Value() == nil {
				break
			}
			return nil, expressionError(e.Name(), "run", query, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *JQEngine) compile(query string) (*gojq.Code, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, expressionError(e.Name(), "compile", query, err)
	}
	code, err := gojq.Compile(parsed,
		gojq.WithVariables([]string{"$run"}),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, expressionError(e.Name(), "compile", query, err)
	}
	return code, nil
}

var _ Engine = (*JQEngine)(nil)
