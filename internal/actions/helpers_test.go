package actions

import (
	"context"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// fakeRunner records every batch it is asked to run. Steps listed in fail
// produce a failed result and stop the batch.
type fakeRunner struct {
	mu      sync.Mutex
	batches [][]string
	fail    map[string]bool
}

func (f *fakeRunner) ExecuteMultipleActions(_ context.Context, _ string, stepIDs []string) ([]schema.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), stepIDs...))

	var results []schema.ActionResult
	for _, id := range stepIDs {
		if f.fail[id] {
			r := schema.Failed(schema.ErrUnknownAction, "boom "+id, nil)
			r.StepID = id
			return append(results, r), nil
		}
		r := schema.Completed(map[string]any{"ran": id})
		r.StepID = id
		results = append(results, r)
	}
	return results, nil
}

func (f *fakeRunner) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

type recordedVariable struct {
	stepID   string
	key      string
	value    schema.Value
	dataType schema.DataType
}

type fakeVariables struct {
	mu   sync.Mutex
	vars []recordedVariable
	err  error
}

func (f *fakeVariables) RecordVariable(_ context.Context, _, stepID, key string, value schema.Value, dataType schema.DataType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.vars = append(f.vars, recordedVariable{stepID: stepID, key: key, value: value, dataType: dataType})
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) Emit(_ context.Context, _, _, eventType string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func invocation(params schema.Parameters) (Invocation, *fakeRunner, *fakeVariables) {
	runner := &fakeRunner{fail: map[string]bool{}}
	vars := &fakeVariables{}
	return Invocation{
		WorkflowID: "wf-1",
		RunID:      "run-1",
		StepID:     "step-1",
		Params:     params,
		Runner:     runner,
		Variables:  vars,
	}, runner, vars
}
