package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/streaming"
)

// publisher sends run events to a hub. A nil hub drops events. Workflow and
// run ids missing from the event are taken from the context.
type publisher struct {
	hub    streaming.EventHub
	logger *slog.Logger
}

func (p publisher) publish(ctx context.Context, event streaming.StreamEvent) {
	if p.hub == nil {
		return
	}
	if event.WorkflowID == "" {
		event.WorkflowID = logging.WorkflowID(ctx)
	}
	if event.RunID == "" {
		event.RunID = logging.RunID(ctx)
	}
	if err := p.hub.Publish(ctx, event); err != nil {
		p.logger.DebugContext(ctx, "event not published", "event_type", event.EventType, "error", err)
	}
}
