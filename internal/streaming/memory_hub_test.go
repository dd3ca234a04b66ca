package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StreamEvent{}
	}
}

func assertSilent(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{
		WorkflowID: "wf-1",
		RunID:      "run-1",
		StepID:     "step-1",
		EventType:  schema.EventStepFinished,
		Payload:    map[string]any{"status": "completed"},
	}))

	got := receive(t, ch)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "step-1", got.StepID)
	assert.Equal(t, schema.EventStepFinished, got.EventType)
	assert.False(t, got.Timestamp.IsZero())
}

func TestFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter EventFilter
		event  StreamEvent
		match  bool
	}{
		{"empty filter", EventFilter{}, StreamEvent{WorkflowID: "wf-1"}, true},
		{"workflow match", EventFilter{WorkflowID: "wf-1"}, StreamEvent{WorkflowID: "wf-1"}, true},
		{"workflow mismatch", EventFilter{WorkflowID: "wf-1"}, StreamEvent{WorkflowID: "wf-2"}, false},
		{"run mismatch", EventFilter{RunID: "run-1"}, StreamEvent{RunID: "run-2"}, false},
		{"type match", EventFilter{EventTypes: []string{schema.EventRunFailed, schema.EventRunCompleted}}, StreamEvent{EventType: schema.EventRunCompleted}, true},
		{"type mismatch", EventFilter{EventTypes: []string{schema.EventRunFailed}}, StreamEvent{EventType: schema.EventStepStarted}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, matchFilter(tt.filter, tt.event))
		})
	}
}

func TestFilteredSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-2", EventType: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventRunStarted}))

	assert.Equal(t, "run-1", receive(t, ch).RunID)
	assertSilent(t, ch)
}

func activeSubscriptions(h *MemoryHub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, activeSubscriptions(hub))

	cancel()
	cancel()
	assert.Equal(t, 0, activeSubscriptions(hub))

	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventRunStarted}))
	_, open := <-ch
	assert.False(t, open)
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventLoopIteration}))
	}
	assert.Len(t, ch, defaultChannelBuffer)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StreamEvent{RunID: "run-c", EventType: schema.EventStepFinished})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-c"})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, activeSubscriptions(hub))
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
