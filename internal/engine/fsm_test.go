package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

func TestRunFSM_ValidTransitions(t *testing.T) {
	tests := []struct {
		from, to schema.RunStatus
		valid    bool
	}{
		{"", schema.RunStatusRunning, true},
		{"", schema.RunStatusCompleted, false},
		{schema.RunStatusRunning, schema.RunStatusCompleted, true},
		{schema.RunStatusRunning, schema.RunStatusFailed, true},
		{schema.RunStatusRunning, schema.RunStatusCancelled, true},
		{schema.RunStatusRunning, schema.RunStatusRunning, false},
		{schema.RunStatusCompleted, schema.RunStatusFailed, false},
		{schema.RunStatusFailed, schema.RunStatusRunning, false},
		{schema.RunStatusCancelled, schema.RunStatusCompleted, false},
		{"bogus", schema.RunStatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidRunTransition(tt.from, tt.to))
		})
	}
}

func TestRunFSM_TransitionUpdatesStatusAndPublishes(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	fsm := newRunFSM(publisher{hub: hub, logger: testLogger()})
	run := &schema.WorkflowRun{ID: "run-1", WorkflowID: "wf-1"}

	require.NoError(t, fsm.Transition(context.Background(), run, schema.RunStatusRunning))
	assert.Equal(t, schema.RunStatusRunning, run.Status)

	ev := <-ch
	assert.Equal(t, schema.EventRunStarted, ev.EventType)
	assert.Equal(t, "wf-1", ev.WorkflowID)
	assert.Equal(t, map[string]any{"from": "", "to": "running"}, ev.Payload)
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	fsm := newRunFSM(publisher{})
	run := &schema.WorkflowRun{ID: "run-1", Status: schema.RunStatusCompleted}

	err := fsm.Transition(context.Background(), run, schema.RunStatusFailed)
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidTransition))
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, map[string]any{"run_id": "run-1", "from": "completed", "to": "failed"}, fe.Data)
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := newRunFSM(publisher{})
	var calls []string

	fsm.OnBefore(schema.RunStatusRunning, schema.RunStatusCompleted, func(_ context.Context, run *schema.WorkflowRun, from, to schema.RunStatus) error {
		calls = append(calls, "before:"+string(run.Status))
		return nil
	})
	fsm.OnAfter(schema.RunStatusRunning, schema.RunStatusCompleted, func(_ context.Context, run *schema.WorkflowRun, from, to schema.RunStatus) error {
		calls = append(calls, "after:"+string(run.Status))
		return nil
	})
	fsm.OnAfter(schema.RunStatusRunning, schema.RunStatusFailed, func(context.Context, *schema.WorkflowRun, schema.RunStatus, schema.RunStatus) error {
		calls = append(calls, "unrelated")
		return nil
	})

	run := &schema.WorkflowRun{ID: "run-1", Status: schema.RunStatusRunning}
	require.NoError(t, fsm.Transition(context.Background(), run, schema.RunStatusCompleted))
	assert.Equal(t, []string{"before:running", "after:completed"}, calls)
}

func TestRunFSM_BeforeHookVetoes(t *testing.T) {
	fsm := newRunFSM(publisher{})
	veto := errors.New("not yet")
	fsm.OnBefore("", schema.RunStatusRunning, func(context.Context, *schema.WorkflowRun, schema.RunStatus, schema.RunStatus) error {
		return veto
	})

	run := &schema.WorkflowRun{ID: "run-1"}
	err := fsm.Transition(context.Background(), run, schema.RunStatusRunning)
	assert.ErrorIs(t, err, veto)
	assert.Equal(t, schema.RunStatus(""), run.Status)
}
