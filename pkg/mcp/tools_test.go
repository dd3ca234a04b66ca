package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/catalog"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/internal/workflows"
	"github.com/rendis/stepflow/pkg/schema"
)

type fixture struct {
	ctx context.Context
	mem *store.MemoryStore
	svc *workflows.Service
	srv *StepflowServer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemoryStore()

	reg, err := actions.NewBuiltinRegistry(actions.BuiltinConfig{})
	require.NoError(t, err)
	cat, err := catalog.NewMemoryCatalog(catalog.Definitions{
		Actions:  reg.Definitions(),
		Triggers: catalog.BuiltinTriggers(),
	})
	require.NoError(t, err)
	validator, err := validation.NewParameterValidator()
	require.NoError(t, err)

	eng, err := engine.New(engine.Deps{Store: mem, Catalog: cat, Registry: reg, Validator: validator, Logger: logger}, engine.Config{})
	require.NoError(t, err)
	sched, err := scheduler.New(mem, eng, logger, scheduler.Config{})
	require.NoError(t, err)
	svc := workflows.NewService(workflows.Deps{Store: mem, Catalog: cat, Schedules: sched, Validator: validator, Logger: logger})

	srv := NewStepflowServer(ServerDeps{Runner: eng, Workflows: svc, Scheduler: sched, Store: mem, Logger: logger})
	return &fixture{ctx: context.Background(), mem: mem, svc: svc, srv: srv}
}

func (f *fixture) workflow(t *testing.T) string {
	t.Helper()
	wf, err := f.svc.CreateWorkflow(f.ctx, "owner-1", "Greeter")
	require.NoError(t, err)
	return wf.ID
}

func (f *fixture) addStep(t *testing.T, wfID, definitionID string, params schema.Parameters) string {
	t.Helper()
	step, err := f.svc.AddActionStep(f.ctx, wfID, "", "", -1, workflows.NewStep{DefinitionID: definitionID, Parameters: params})
	require.NoError(t, err)
	return step.ID
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func decode(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(text.Text), out))
}

// --- Tests ---

func TestExecuteTool(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)
	f.addStep(t, wfID, actions.KeySetVariable, schema.Parameters{
		"key":   schema.String("greeting"),
		"value": schema.String("hello"),
	})

	result, err := f.srv.handleExecute(f.ctx, buildRequest("stepflow.execute", map[string]any{
		"workflow_id": wfID,
		"payload":     map[string]any{"name": "ada"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var run schema.RunResult
	decode(t, result, &run)
	assert.Equal(t, wfID, run.WorkflowID)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.NotEmpty(t, run.RunID)
}

func TestExecuteToolErrors(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleExecute(f.ctx, buildRequest("stepflow.execute", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.srv.handleExecute(f.ctx, buildRequest("stepflow.execute", map[string]any{"workflow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	bare := NewStepflowServer(ServerDeps{})
	result, err = bare.handleExecute(f.ctx, buildRequest("stepflow.execute", map[string]any{"workflow_id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteToolFailedRun(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)
	stepID := f.addStep(t, wfID, actions.KeyNoop, nil)
	require.NoError(t, f.mem.DeleteActionStep(f.ctx, stepID))

	result, err := f.srv.handleExecute(f.ctx, buildRequest("stepflow.execute", map[string]any{"workflow_id": wfID}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var run schema.RunResult
	decode(t, result, &run)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
}

func TestRunStatusTool(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)
	stepID := f.addStep(t, wfID, actions.KeyNoop, nil)

	exec, err := f.srv.handleExecute(f.ctx, buildRequest("stepflow.execute", map[string]any{"workflow_id": wfID}))
	require.NoError(t, err)
	var run schema.RunResult
	decode(t, exec, &run)

	result, err := f.srv.handleRunStatus(f.ctx, buildRequest("stepflow.run_status", map[string]any{"run_id": run.RunID}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var details engine.RunDetails
	decode(t, result, &details)
	require.NotNil(t, details.Run)
	assert.Equal(t, run.RunID, details.Run.ID)
	assert.Equal(t, schema.RunStatusCompleted, details.Run.Status)
	require.Len(t, details.Logs, 1)
	assert.Equal(t, stepID, details.Logs[0].StepID)
}

func TestRunStatusToolErrors(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleRunStatus(f.ctx, buildRequest("stepflow.run_status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.srv.handleRunStatus(f.ctx, buildRequest("stepflow.run_status", map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScheduleTool(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)

	result, err := f.srv.handleSchedule(f.ctx, buildRequest("stepflow.schedule", map[string]any{
		"workflow_id":     wfID,
		"start_date_time": start.Format(time.RFC3339),
		"repeat":          true,
		"interval":        float64(2),
		"interval_unit":   "days",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	scheds, err := f.mem.ListSchedules(f.ctx, wfID)
	require.NoError(t, err)
	require.Len(t, scheds, 1)
	assert.True(t, scheds[0].NextRunAt.Equal(start))
	assert.True(t, scheds[0].Repeat)
	assert.Equal(t, 2, scheds[0].Interval)
	assert.Equal(t, schema.IntervalDays, scheds[0].IntervalUnit)
}

func TestScheduleToolRejections(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing workflow", map[string]any{"start_date_time": future}},
		{"missing start", map[string]any{"workflow_id": wfID}},
		{"bad start", map[string]any{"workflow_id": wfID, "start_date_time": "tomorrow"}},
		{"past start", map[string]any{"workflow_id": wfID, "start_date_time": "2001-01-01T00:00:00Z"}},
		{"bad end", map[string]any{"workflow_id": wfID, "start_date_time": future, "repeat": true, "end_date_time": "later"}},
		{"repeat without unit", map[string]any{"workflow_id": wfID, "start_date_time": future, "repeat": true, "interval": float64(1)}},
		{"unknown workflow", map[string]any{"workflow_id": "nope", "start_date_time": future}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := f.srv.handleSchedule(f.ctx, buildRequest("stepflow.schedule", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}

	scheds, err := f.mem.ListSchedules(f.ctx, wfID)
	require.NoError(t, err)
	assert.Empty(t, scheds)
}

func TestMoveStepTool(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)
	first := f.addStep(t, wfID, actions.KeyNoop, nil)
	second := f.addStep(t, wfID, actions.KeyNoop, nil)

	result, err := f.srv.handleMoveStep(f.ctx, buildRequest("stepflow.move_step", map[string]any{
		"workflow_id": wfID,
		"step_id":     second,
		"index":       float64(0),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		WorkflowID  string                       `json:"workflow_id"`
		ActionSteps []schema.ActionStepReference `json:"action_steps"`
	}
	decode(t, result, &out)
	assert.Equal(t, wfID, out.WorkflowID)
	require.Len(t, out.ActionSteps, 2)
	assert.Equal(t, second, out.ActionSteps[0].ActionStepID)
	assert.Equal(t, first, out.ActionSteps[1].ActionStepID)
}

func TestMoveStepToolErrors(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)

	result, err := f.srv.handleMoveStep(f.ctx, buildRequest("stepflow.move_step", map[string]any{"workflow_id": wfID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.srv.handleMoveStep(f.ctx, buildRequest("stepflow.move_step", map[string]any{
		"workflow_id": wfID, "step_id": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramTool(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)
	stepID := f.addStep(t, wfID, actions.KeyNoop, nil)

	result, err := f.srv.handleDiagram(f.ctx, buildRequest("stepflow.diagram", map[string]any{
		"workflow_id": wfID,
		"format":      "ascii",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "=== Greeter ===")
	assert.Contains(t, text.Text, "1. noop")

	result, err = f.srv.handleDiagram(f.ctx, buildRequest("stepflow.diagram", map[string]any{
		"workflow_id": wfID,
		"format":      "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text, ok = result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "graph TD")
	assert.Contains(t, text.Text, stepIDSafe(stepID))
}

func TestDiagramToolErrors(t *testing.T) {
	f := newFixture(t)
	wfID := f.workflow(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing workflow", map[string]any{"format": "ascii"}},
		{"missing format", map[string]any{"workflow_id": wfID}},
		{"bad format", map[string]any{"workflow_id": wfID, "format": "image"}},
		{"unknown workflow", map[string]any{"workflow_id": "nope", "format": "ascii"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := f.srv.handleDiagram(f.ctx, buildRequest("stepflow.diagram", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func stepIDSafe(id string) string {
	return "n_" + strings.ReplaceAll(id, "-", "_")
}
