package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// ClientNotifier pushes notifications to the session watching a workflow.
type ClientNotifier interface {
	Notify(ctx context.Context, workflowID string, payload map[string]any) error
}

// RunNotifier implements ClientNotifier using MCP server notifications.
type RunNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	logger    *slog.Logger
}

// NewRunNotifier creates a notifier that pushes to MCP sessions.
func NewRunNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, logger *slog.Logger) *RunNotifier {
	return &RunNotifier{mcpServer: mcpServer, sessions: sessions, logger: logger}
}

// Notify sends a notification to the workflow's session. Best-effort:
// returns nil if no session watches the workflow.
func (n *RunNotifier) Notify(_ context.Context, workflowID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(workflowID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Forward subscribes to terminal run events on hub and notifies the
// watching session of each until ctx is done.
func (n *RunNotifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventRunCompleted, schema.EventRunFailed},
	})
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := n.Notify(ctx, ev.WorkflowID, runNotification(ev)); err != nil {
					n.logger.WarnContext(ctx, "run notification failed", "run_id", ev.RunID, "error", err)
				}
			}
		}
	}()
	return nil
}

func runNotification(ev streaming.StreamEvent) map[string]any {
	return map[string]any{
		"level":  "info",
		"logger": "stepflow",
		"data": map[string]any{
			"event_type":  ev.EventType,
			"workflow_id": ev.WorkflowID,
			"run_id":      ev.RunID,
			"payload":     ev.Payload,
			"timestamp":   ev.Timestamp,
		},
	}
}
