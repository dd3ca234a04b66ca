package actions

import "github.com/rendis/stepflow/pkg/schema"

// Built-in action keys.
const (
	KeySetVariable        = "setVariable"
	KeyConditional        = "conditional"
	KeyLoop               = "loop"
	KeyEvaluateExpression = "evaluateExpression"
	KeyTransformData      = "transformData"
	KeyNoop               = "noop"
)

// DefaultMaxLoopIterations bounds while loops when no limit is configured.
const DefaultMaxLoopIterations = 1000

// BuiltinConfig tunes the built-in actions.
type BuiltinConfig struct {
	MaxLoopIterations int `mapstructure:"max_loop_iterations"`
}

// Builtins returns every built-in action. This list is the only place
// built-ins are registered.
func Builtins(cfg BuiltinConfig) []Action {
	return []Action{
		NewSetVariableAction(),
		NewConditionalAction(),
		NewLoopAction(cfg.MaxLoopIterations),
		NewEvaluateExpressionAction(),
		NewTransformDataAction(),
		NewNoopAction(),
	}
}

// NewBuiltinRegistry builds a Registry holding the built-in actions.
func NewBuiltinRegistry(cfg BuiltinConfig) (*Registry, error) {
	return NewRegistry(Builtins(cfg)...)
}

func builtinDefinition(key, title, description string, params []schema.Parameter, outputs []schema.Output) schema.ActionDefinition {
	return schema.ActionDefinition{
		ID:          key,
		ActionKey:   key,
		CategoryKey: "core",
		Title:       title,
		Description: description,
		Parameters:  params,
		Outputs:     outputs,
	}
}
