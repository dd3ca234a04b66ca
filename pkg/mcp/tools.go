package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/pkg/schema"
)

// handleExecute runs a workflow and returns its run result.
func (s *StepflowServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("execution is not available"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	payload := mcp.ParseStringMap(req, "payload", nil)

	s.captureSession(ctx, workflowID)

	result, runErr := s.runner.ExecuteWorkflow(ctx, workflowID, payload)
	if runErr != nil {
		if result == nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
		}
		// The run exists and is failed; report it alongside the cause.
		s.logger.WarnContext(ctx, "run aborted", "workflow_id", workflowID, "run_id", result.RunID, "error", runErr)
	}
	return marshalResult(result)
}

// handleRunStatus returns a run with its logs and data rows.
func (s *StepflowServer) handleRunStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("run status is not available"), nil
	}
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	details, err := s.runner.RunDetails(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
	}
	return marshalResult(details)
}

// handleSchedule registers a schedule for a workflow.
func (s *StepflowServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduling is not available"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	rawStart, err := req.RequireString("start_date_time")
	if err != nil {
		return mcp.NewToolResultError("start_date_time is required"), nil
	}
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return mcp.NewToolResultError("start_date_time must be an RFC 3339 date time"), nil
	}

	sreq := scheduler.Request{
		WorkflowID:   workflowID,
		StartAt:      start,
		Repeat:       req.GetBool("repeat", false),
		Interval:     req.GetInt("interval", 0),
		IntervalUnit: schema.IntervalUnit(req.GetString("interval_unit", "")),
	}
	if rawEnd := req.GetString("end_date_time", ""); rawEnd != "" {
		end, err := time.Parse(time.RFC3339, rawEnd)
		if err != nil {
			return mcp.NewToolResultError("end_date_time must be an RFC 3339 date time"), nil
		}
		sreq.EndAt = &end
	}

	s.captureSession(ctx, workflowID)

	sched, err := s.scheduler.CreateSchedule(ctx, sreq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule rejected: %v", err)), nil
	}
	return marshalResult(sched)
}

// handleMoveStep moves a step and returns the workflow's new root sequence.
func (s *StepflowServer) handleMoveStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.workflows == nil {
		return mcp.NewToolResultError("step editing is not available"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}
	parentID := req.GetString("new_parent_id", "")
	containerKey := req.GetString("container_key", "")
	index := req.GetInt("index", -1)

	forest, err := s.workflows.MoveActionStep(ctx, workflowID, stepID, parentID, containerKey, index)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("move failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"workflow_id":  workflowID,
		"action_steps": forest.References(),
	})
}

// handleDiagram renders a workflow's step tree in the requested format.
func (s *StepflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("diagrams are not available"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" {
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}

	model, err := diagram.Load(ctx, s.store, workflowID, req.GetString("run_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram failed: %v", err)), nil
	}
	if format == "mermaid" {
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
}

// captureSession maps the workflow ID to the caller's MCP session for run
// notifications.
func (s *StepflowServer) captureSession(ctx context.Context, workflowID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(workflowID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
