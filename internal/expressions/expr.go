package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine runs expr-lang expressions for the evaluateExpression action.
// Programs are compiled without a typed environment so one cached program
// serves every step that uses the same expression text; unknown variables
// evaluate to nil.
type ExprEngine struct {
	programs *programCache[*vm.Program]
}

// NewExprEngine creates an ExprEngine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newProgramCache[*vm.Program]()}
}

// Name returns "expr".
func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with the keys of env as variables.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	prg, err := e.programs.get(expression, e.compile)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, expressionError(e.Name(), "run", expression, err)
	}
	return out, nil
}

// EvaluateScope runs expression with data and run bound from scope.
func (e *ExprEngine) EvaluateScope(ctx context.Context, expression string, scope Scope) (any, error) {
	return e.Evaluate(ctx, expression, scope.Env())
}

func (e *ExprEngine) compile(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, expressionError(e.Name(), "compile", expression, err)
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
