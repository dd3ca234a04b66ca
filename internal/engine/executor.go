package engine

import (
	"context"
	"errors"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

type depthKey struct{}

func depthOf(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// ExecuteWorkflow runs the current configuration of a workflow. The trigger
// payload, when given, is recorded as the triggerData variable of the
// trigger step. A failing root step stops the run and becomes the run's
// error. The returned error is non-nil only for unexpected failures (store
// errors, cancellation); the run is still marked failed in that case.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, payload map[string]any) (*schema.RunResult, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.CurrentConfigurationID == "" {
		return nil, schema.NewErrorf(schema.ErrConfigurationMissing, "workflow %s has no current configuration", workflowID)
	}
	cfg, err := e.store.GetConfiguration(ctx, wf.CurrentConfigurationID)
	if err != nil {
		if schema.IsKind(err, schema.ErrNotFound) {
			return nil, schema.NewErrorf(schema.ErrConfigurationMissing,
				"configuration %s of workflow %s not found", wf.CurrentConfigurationID, workflowID).WithCause(err)
		}
		return nil, err
	}

	run, err := e.recorder.StartRun(logging.WithWorkflowID(ctx, wf.ID), wf.ID, cfg.ID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithRun(ctx, wf.ID, run.ID)
	e.logger.InfoContext(ctx, "run started", "configuration_id", cfg.ID)

	result, err := e.executeRun(ctx, run, cfg, payload)
	if err != nil {
		runErr := schema.ToActionError(err)
		// The caller's context may be the cause; the terminal status is still recorded.
		if finishErr := e.recorder.FinishRun(context.WithoutCancel(ctx), run, schema.RunStatusFailed, nil, runErr); finishErr != nil {
			e.logger.ErrorContext(ctx, "failed to record run failure", "error", finishErr)
			err = errors.Join(err, finishErr)
		}
		e.logger.ErrorContext(ctx, "run aborted", "error", err)
		return &schema.RunResult{
			RunID:      run.ID,
			WorkflowID: wf.ID,
			Status:     schema.RunStatusFailed,
			Steps:      result,
			Error:      runErr,
		}, err
	}
	return &schema.RunResult{
		RunID:      run.ID,
		WorkflowID: wf.ID,
		Status:     run.Status,
		Steps:      result,
		Error:      run.Error,
	}, nil
}

func (e *Engine) executeRun(ctx context.Context, run *schema.WorkflowRun, cfg *schema.WorkflowConfiguration, payload map[string]any) ([]schema.ActionResult, error) {
	if payload != nil && cfg.HasTrigger() {
		if err := e.recorder.RecordVariable(ctx, run.ID, cfg.TriggerStepID, schema.TriggerDataKey,
			schema.FromAny(payload), schema.DataTypeObject); err != nil {
			return nil, err
		}
	}

	steps := make([]schema.ActionResult, 0, len(cfg.ActionSteps))
	status := schema.RunStatusCompleted
	var runErr *schema.ActionError

	for _, ref := range cfg.ActionSteps {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		res, err := e.ExecuteStep(ctx, run.WorkflowID, run.ID, ref.ActionStepID)
		if err != nil {
			return steps, err
		}
		steps = append(steps, res)
		if res.IsFailed() {
			status = schema.RunStatusFailed
			runErr = res.Error
			break
		}
	}

	outputs, err := e.recorder.Outputs(ctx, run.ID)
	if err != nil {
		return steps, err
	}
	if err := e.recorder.FinishRun(ctx, run, status, outputs, runErr); err != nil {
		return steps, err
	}
	e.logger.InfoContext(ctx, "run finished", "status", string(status), "steps", len(steps))
	return steps, nil
}

// ExecuteMultipleActions runs stepIDs in order inside an existing run,
// stopping after the first failed result. It is the re-entry point used by
// control-flow actions for branches and loop bodies.
func (e *Engine) ExecuteMultipleActions(ctx context.Context, runID string, stepIDs []string) ([]schema.ActionResult, error) {
	depth := depthOf(ctx) + 1
	if depth > e.config.MaxDepth {
		return nil, schema.NewErrorf(schema.ErrInvalidTree, "step nesting exceeds %d levels", e.config.MaxDepth)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth)

	workflowID := logging.WorkflowID(ctx)
	if logging.RunID(ctx) != runID || workflowID == "" {
		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		workflowID = run.WorkflowID
	}

	results := make([]schema.ActionResult, 0, len(stepIDs))
	for _, id := range stepIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.ExecuteStep(ctx, workflowID, runID, id)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.IsFailed() {
			break
		}
	}
	return results, nil
}

// Emit publishes a control-flow event for a step.
func (e *Engine) Emit(ctx context.Context, runID, stepID, eventType string, payload map[string]any) {
	e.events.publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		StepID:    stepID,
		EventType: eventType,
		Payload:   payload,
	})
}

// RunDetails is a run with everything recorded for it.
type RunDetails struct {
	Run  *schema.WorkflowRun       `json:"run"`
	Logs []*schema.WorkflowRunLog  `json:"logs"`
	Data []*schema.WorkflowRunData `json:"data"`
}

// RunDetails loads a run, its step logs in execution order and its data rows.
func (e *Engine) RunDetails(ctx context.Context, runID string) (*RunDetails, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	logs, err := e.store.ListRunLogs(ctx, runID)
	if err != nil {
		return nil, err
	}
	data, err := e.store.ListRunData(ctx, store.RunDataFilter{RunID: runID})
	if err != nil {
		return nil, err
	}
	return &RunDetails{Run: run, Logs: logs, Data: data}, nil
}
