package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// TransitionHook is called before or after a run state transition. An error
// from a before hook vetoes the transition.
type TransitionHook func(ctx context.Context, run *schema.WorkflowRun, from, to schema.RunStatus) error

type runHookKey struct {
	from, to schema.RunStatus
}

// ValidRunTransitions defines the allowed run state transitions. The empty
// status is a run that has not been started. Cancelled is reachable but no
// engine path requests it.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	"":                        {schema.RunStatusRunning},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// RunFSM validates run lifecycle transitions and publishes the matching
// run event. The caller persists the new state.
type RunFSM struct {
	mu     sync.Mutex
	events publisher
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// newRunFSM creates a RunFSM publishing through events.
func newRunFSM(events publisher) *RunFSM {
	return &RunFSM{
		events: events,
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition moves run to the target status. run.Status is updated only
// when the transition is valid and no before hook objects.
func (f *RunFSM) Transition(ctx context.Context, run *schema.WorkflowRun, to schema.RunStatus) error {
	from := run.Status
	if !IsValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrInvalidTransition, "invalid run transition: %q -> %q", from, to).
			WithData(map[string]any{"run_id": run.ID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	f.mu.Lock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(ctx, run, from, to); err != nil {
			return err
		}
	}

	run.Status = to
	if eventType := runEventType(to); eventType != "" {
		f.events.publish(ctx, streaming.StreamEvent{
			WorkflowID: run.WorkflowID,
			RunID:      run.ID,
			EventType:  eventType,
			Payload:    map[string]any{"from": string(from), "to": string(to)},
		})
	}

	for _, hook := range after {
		if err := hook(ctx, run, from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidRunTransition reports whether from -> to is allowed.
func IsValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	return ok && slices.Contains(allowed, to)
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}
