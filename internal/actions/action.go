package actions

import (
	"context"
	"log/slog"

	"github.com/rendis/stepflow/pkg/schema"
)

// Action is a built-in action implementation. Definition describes its
// parameters to the catalog; Execute never returns a Go error, failures are
// reported in the result.
type Action interface {
	Definition() schema.ActionDefinition
	Execute(ctx context.Context, inv Invocation) schema.ActionResult
}

// StepRunner executes an explicit list of steps inside an existing run,
// stopping after the first failure. Control-flow actions use it to run their
// branches and loop bodies.
type StepRunner interface {
	ExecuteMultipleActions(ctx context.Context, runID string, stepIDs []string) ([]schema.ActionResult, error)
}

// VariableRecorder appends variable rows to a run.
type VariableRecorder interface {
	RecordVariable(ctx context.Context, runID, stepID, key string, value schema.Value, dataType schema.DataType) error
}

// EventEmitter publishes control-flow events for a run.
type EventEmitter interface {
	Emit(ctx context.Context, runID, stepID, eventType string, payload map[string]any)
}

// Invocation is the data handed to an action for one step execution.
type Invocation struct {
	WorkflowID string
	RunID      string
	StepID     string
	// Params are resolved and validated.
	Params schema.Parameters
	// Children are the step's nested containers (e.g. "true", "false", "body").
	Children map[string][]string

	Runner    StepRunner
	Variables VariableRecorder
	Events    EventEmitter
	Logger    *slog.Logger
}

func (inv Invocation) emit(ctx context.Context, eventType string, payload map[string]any) {
	if inv.Events != nil {
		inv.Events.Emit(ctx, inv.RunID, inv.StepID, eventType, payload)
	}
}

func (inv Invocation) logger() *slog.Logger {
	if inv.Logger != nil {
		return inv.Logger
	}
	return slog.Default()
}

// stepIDs returns the id list stored under param, falling back to the
// step's children container.
func (inv Invocation) stepIDs(param, container string) []string {
	if ids, ok := inv.Params.StringSlice(param); ok {
		return ids
	}
	return inv.Children[container]
}

// runSteps runs ids through the invocation's runner. A failed child result
// is returned as failed so the caller can abort its own list.
func (inv Invocation) runSteps(ctx context.Context, ids []string) ([]schema.ActionResult, *schema.ActionResult) {
	if len(ids) == 0 {
		return nil, nil
	}
	if inv.Runner == nil {
		failed := schema.Failed(schema.ErrUnknown, "no step runner available", nil)
		return nil, &failed
	}
	results, err := inv.Runner.ExecuteMultipleActions(ctx, inv.RunID, ids)
	if err != nil {
		failed := schema.FailedFrom(err)
		return results, &failed
	}
	for _, r := range results {
		if r.IsFailed() {
			failed := schema.ActionResult{Status: schema.StepStatusFailed, Error: r.Error}
			return results, &failed
		}
	}
	return results, nil
}
