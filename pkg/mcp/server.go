// Package mcp exposes the workflow engine as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/steptree"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// Runner executes workflows and reads back what a run recorded. Satisfied by
// *engine.Engine.
type Runner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, payload map[string]any) (*schema.RunResult, error)
	RunDetails(ctx context.Context, runID string) (*engine.RunDetails, error)
}

// TreeEditor moves steps within a workflow's step tree. Satisfied by
// *workflows.Service.
type TreeEditor interface {
	MoveActionStep(ctx context.Context, workflowID, stepID, newParentID, containerKey string, index int) (*steptree.Forest, error)
}

// Scheduler registers schedules. Satisfied by *scheduler.Scheduler.
type Scheduler interface {
	CreateSchedule(ctx context.Context, req scheduler.Request) (*schema.ScheduledWorkflowRun, error)
}

// ServerDeps holds the dependencies for creating a StepflowServer.
type ServerDeps struct {
	Runner    Runner
	Workflows TreeEditor
	Scheduler Scheduler
	Store     store.Store
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// StepflowServer wraps an MCP server with the stepflow tool handlers.
type StepflowServer struct {
	runner    Runner
	workflows TreeEditor
	scheduler Scheduler
	store     store.Store
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *RunNotifier
	mcpServer *server.MCPServer
}

// NewStepflowServer creates a StepflowServer with all 5 tools registered.
func NewStepflowServer(deps ServerDeps) *StepflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &StepflowServer{
		runner:    deps.Runner,
		workflows: deps.Workflows,
		scheduler: deps.Scheduler,
		store:     deps.Store,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"stepflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepflow runs workflow automations. Use stepflow.execute to run a workflow now, stepflow.run_status to read what a run recorded, stepflow.schedule to run a workflow later or on an interval, stepflow.move_step to rearrange a workflow's steps, and stepflow.diagram to draw a workflow's step tree."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(mcpSrv, s.sessions, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Run completions are pushed to the session that last
// executed the workflow while serving.
func (s *StepflowServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.hub != nil {
		if err := s.notifier.Forward(ctx, s.hub); err != nil {
			return err
		}
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *StepflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *StepflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: runStatusTool(), Handler: s.handleRunStatus},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: moveStepTool(), Handler: s.handleMoveStep},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("stepflow.execute",
		mcp.WithDescription("Execute the current configuration of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithObject("payload", mcp.Description("Trigger payload recorded as the trigger step's data")),
	)
}

func runStatusTool() mcp.Tool {
	return mcp.NewTool("stepflow.run_status",
		mcp.WithDescription("Get a workflow run with its step logs and recorded data"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("stepflow.schedule",
		mcp.WithDescription("Schedule a workflow to run once or on an interval"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to schedule")),
		mcp.WithString("start_date_time", mcp.Required(), mcp.Description("First run time, RFC 3339")),
		mcp.WithBoolean("repeat", mcp.Description("Run again every interval after the first run")),
		mcp.WithString("end_date_time", mcp.Description("No runs after this time, RFC 3339")),
		mcp.WithNumber("interval", mcp.Description("Number of interval units between runs")),
		mcp.WithString("interval_unit",
			mcp.Enum("hours", "days", "weeks", "months", "years"),
			mcp.Description("Unit of interval"),
		),
	)
}

func moveStepTool() mcp.Tool {
	return mcp.NewTool("stepflow.move_step",
		mcp.WithDescription("Move a step and its subtree within a workflow's step tree"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("ID of the step to move")),
		mcp.WithString("new_parent_id", mcp.Description("Parent step ID (empty for the root sequence)")),
		mcp.WithString("container_key", mcp.Description("Child container of the parent, such as true, false or body")),
		mcp.WithNumber("index", mcp.Description("Position within the container (default: append)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("stepflow.diagram",
		mcp.WithDescription("Render a workflow's step tree as a diagram"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to render")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay the step statuses of this run")),
	)
}
