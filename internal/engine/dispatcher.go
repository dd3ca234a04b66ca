package engine

import (
	"context"
	"time"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/provider"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// ExecuteStep runs one action step within a run and records its output row
// and log row whatever the outcome. Action failures are reported in the
// result; the error is non-nil only when the result could not be recorded.
func (e *Engine) ExecuteStep(ctx context.Context, workflowID, runID, stepID string) (schema.ActionResult, error) {
	ctx = logging.WithStepID(logging.WithRun(ctx, workflowID, runID), stepID)
	startedAt := e.now()

	e.events.publish(ctx, streaming.StreamEvent{StepID: stepID, EventType: schema.EventStepStarted})

	result := e.dispatch(ctx, workflowID, runID, stepID)
	result.StepID = stepID

	if result.IsFailed() {
		e.logger.InfoContext(ctx, "step failed", "error_type", result.Error.Type, "error", result.Error.Message)
	} else {
		e.logger.DebugContext(ctx, "step completed")
	}

	if err := e.recorder.RecordStep(ctx, runID, stepID, result, startedAt); err != nil {
		return result, err
	}
	e.events.publish(ctx, streaming.StreamEvent{
		StepID:    stepID,
		EventType: schema.EventStepFinished,
		Payload:   map[string]any{"status": string(result.Status), "duration_ms": e.now().Sub(startedAt).Milliseconds()},
	})
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, workflowID, runID, stepID string) schema.ActionResult {
	step, err := e.store.GetActionStep(ctx, stepID)
	if err != nil {
		if schema.IsKind(err, schema.ErrNotFound) {
			return schema.Failed(schema.ErrActionStepNotFound, "action step "+stepID+" not found", nil)
		}
		return schema.FailedFrom(err)
	}
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return schema.FailedFrom(err)
	}
	if step.ConfigurationID != run.ConfigurationID {
		return schema.Failed(schema.ErrActionStepNotFound,
			"action step "+stepID+" does not belong to configuration "+run.ConfigurationID, nil)
	}

	def, err := e.catalog.ActionDefinition(ctx, step.DefinitionID)
	if err != nil {
		return schema.FailedFrom(err)
	}

	params, refs, err := e.resolver.ResolveParameters(ctx, step.Parameters, runID)
	if err != nil {
		return schema.FailedFrom(err)
	}

	if e.validator != nil {
		meta := map[string]any{"id": runID, "workflowId": workflowID, "stepId": stepID}
		params, err = e.validator.ValidateParameters(ctx, def.Parameters, params, meta, expressions.UnresolvedParams(refs))
		if err != nil {
			return schema.FailedFrom(err)
		}
	}

	if def.ProviderBacked {
		return e.callProvider(ctx, step, def, params)
	}

	return e.registry.Invoke(ctx, def.ActionKey, actions.Invocation{
		WorkflowID: workflowID,
		RunID:      runID,
		StepID:     stepID,
		Params:     params,
		Children:   step.Children,
		Runner:     e,
		Variables:  e.recorder,
		Events:     e,
		Logger:     logging.LogWith(ctx, e.logger),
	})
}

func (e *Engine) callProvider(ctx context.Context, step *schema.ActionStep, def *schema.ActionDefinition, params schema.Parameters) schema.ActionResult {
	if step.ConnectionID == "" {
		return schema.Failed(schema.ErrConnectionNotFound, "action "+def.ActionKey+" requires a connection", nil)
	}
	conn, err := e.store.GetConnection(ctx, step.ConnectionID)
	if err != nil {
		if schema.IsKind(err, schema.ErrNotFound) {
			return schema.Failed(schema.ErrConnectionNotFound, "connection "+step.ConnectionID+" not found", nil)
		}
		return schema.FailedFrom(err)
	}
	if e.provider == nil {
		return schema.Failed(schema.ErrProvider, "no action provider configured", nil)
	}

	started := time.Now()
	resp, err := e.provider.Run(ctx, provider.Call{
		ExternalUserID: conn.OwnerID,
		ActionKey:      def.ActionKey,
		Props:          params.Native(),
	})
	e.logger.DebugContext(ctx, "provider call finished", "action_key", def.ActionKey, "duration", time.Since(started))
	if err != nil {
		return schema.FailedFrom(err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "provider action " + def.ActionKey + " failed"
		}
		return schema.Failed(schema.ErrProvider, msg, resp.ErrorData)
	}
	return schema.Completed(resp.Data)
}
