// Package streaming fans run lifecycle events out to in-process subscribers.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is a lifecycle event emitted while a workflow run executes.
type StreamEvent struct {
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	StepID     string    `json:"step_id,omitempty"`
	EventType  string    `json:"event_type"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventFilter selects the events a subscriber receives. Empty fields match
// everything.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
