package actions

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

type noopAction struct{}

// NewNoopAction returns the noop action, which completes with its own
// parameters as output.
func NewNoopAction() Action { return &noopAction{} }

func (a *noopAction) Definition() schema.ActionDefinition {
	return builtinDefinition(KeyNoop, "No operation", "Completes immediately, echoing its parameters.", nil, nil)
}

func (a *noopAction) Execute(_ context.Context, inv Invocation) schema.ActionResult {
	return schema.Completed(inv.Params.Native())
}
