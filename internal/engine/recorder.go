package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// Recorder persists run lifecycle, step outputs, variables and step logs.
// Every write is a single store operation; iteration counts and log
// sequence numbers are assigned by the store.
type Recorder struct {
	store  store.Store
	fsm    *RunFSM
	events publisher
	now    func() time.Time
}

func newRecorder(s store.Store, fsm *RunFSM, events publisher, now func() time.Time) *Recorder {
	return &Recorder{store: s, fsm: fsm, events: events, now: now}
}

// StartRun creates a running WorkflowRun for the given configuration.
func (r *Recorder) StartRun(ctx context.Context, workflowID, configurationID string) (*schema.WorkflowRun, error) {
	run := &schema.WorkflowRun{
		ID:              uuid.NewString(),
		WorkflowID:      workflowID,
		ConfigurationID: configurationID,
		StartedAt:       r.now().UTC(),
	}
	if err := r.fsm.Transition(ctx, run, schema.RunStatusRunning); err != nil {
		return nil, err
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun persists run in a terminal status with its outputs and error,
// then applies the transition. A failed write leaves run untouched so the
// caller can still mark it failed.
func (r *Recorder) FinishRun(ctx context.Context, run *schema.WorkflowRun, status schema.RunStatus, outputs map[string]any, runErr *schema.ActionError) error {
	if !IsValidRunTransition(run.Status, status) {
		return r.fsm.Transition(ctx, run, status)
	}
	finished := r.now().UTC()
	if err := r.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:     &status,
		FinishedAt: &finished,
		Outputs:    outputs,
		Error:      runErr,
	}); err != nil {
		return err
	}
	run.FinishedAt = &finished
	run.Outputs = outputs
	run.Error = runErr
	return r.fsm.Transition(ctx, run, status)
}

// RecordVariable appends a variable row scoped to stepID.
func (r *Recorder) RecordVariable(ctx context.Context, runID, stepID, key string, value schema.Value, dataType schema.DataType) error {
	if key == "" {
		return schema.NewError(schema.ErrValidation, "variable key is required")
	}
	row := &schema.WorkflowRunData{
		ID:        uuid.NewString(),
		RunID:     runID,
		StepID:    stepID,
		Source:    schema.SourceVariable,
		Key:       key,
		Value:     value.Native(),
		DataType:  dataType,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.AppendRunData(ctx, row); err != nil {
		return err
	}
	r.events.publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		StepID:    stepID,
		EventType: schema.EventVariableSet,
		Payload:   map[string]any{"key": key, "iteration_count": row.IterationCount},
	})
	return nil
}

// RecordStep appends the output row and the log row of one step execution.
// Output data is stored in its plain JSON shape.
func (r *Recorder) RecordStep(ctx context.Context, runID, stepID string, result schema.ActionResult, startedAt time.Time) error {
	finished := r.now().UTC()
	output := &schema.WorkflowRunData{
		ID:        uuid.NewString(),
		RunID:     runID,
		StepID:    stepID,
		Source:    schema.SourceOutput,
		Value:     schema.FromAny(result.Data).Native(),
		DataType:  schema.DataTypeAny,
		CreatedAt: finished,
	}
	if err := r.store.AppendRunData(ctx, output); err != nil {
		return err
	}
	return r.store.AppendRunLog(ctx, &schema.WorkflowRunLog{
		ID:         uuid.NewString(),
		RunID:      runID,
		StepID:     stepID,
		Status:     result.Status,
		StartedAt:  startedAt.UTC(),
		FinishedAt: &finished,
		Error:      result.Error,
	})
}

// Outputs returns the latest output value of every step of the run.
func (r *Recorder) Outputs(ctx context.Context, runID string) (map[string]any, error) {
	rows, err := r.store.ListRunData(ctx, store.RunDataFilter{RunID: runID, Source: schema.SourceOutput})
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]any, len(rows))
	for _, row := range rows {
		outputs[row.StepID] = row.Value
	}
	return outputs, nil
}
