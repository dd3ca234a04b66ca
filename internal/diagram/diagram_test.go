package diagram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/steptree"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// cond(true: [a], false: [b]) then loop(body: [c])
func testForest(t *testing.T) *steptree.Forest {
	t.Helper()
	f, err := steptree.Build([]schema.ActionStepReference{
		{ActionStepID: "cond", Children: map[string][]schema.ActionStepReference{
			"true":  {{ActionStepID: "a"}},
			"false": {{ActionStepID: "b"}},
		}},
		{ActionStepID: "loop", Children: map[string][]schema.ActionStepReference{
			"body": {{ActionStepID: "c"}},
		}},
	})
	require.NoError(t, err)
	return f
}

func testSteps() map[string]*schema.ActionStep {
	return map[string]*schema.ActionStep{
		"cond": {ID: "cond", DefinitionID: actions.KeyConditional, Title: "Is late"},
		"a":    {ID: "a", DefinitionID: actions.KeySetVariable},
		"b":    {ID: "b", DefinitionID: actions.KeyNoop},
		"loop": {ID: "loop", DefinitionID: actions.KeyLoop},
		"c":    {ID: "c", DefinitionID: "slack-send", Title: "Notify"},
	}
}

func TestBuild(t *testing.T) {
	trigger := &schema.TriggerStep{ID: "trig", DefinitionID: "manual"}
	model := Build("Digest", testForest(t), testSteps(), trigger, nil)

	require.NotNil(t, model.Trigger)
	assert.Equal(t, NodeKindTrigger, model.Trigger.Kind)
	require.Len(t, model.Nodes, 2)

	cond := model.Nodes[0]
	assert.Equal(t, NodeKindConditional, cond.Kind)
	assert.Equal(t, "Is late\n(conditional)", cond.Label)
	require.Len(t, cond.Children, 2)
	assert.Equal(t, "false", cond.Children[0].Label)
	assert.Equal(t, "true", cond.Children[1].Label)
	assert.Equal(t, "a", cond.Children[1].Nodes[0].ID)

	loop := model.Nodes[1]
	assert.Equal(t, NodeKindLoop, loop.Kind)
	require.Len(t, loop.Children, 1)
	assert.Equal(t, "body", loop.Children[0].Label)
}

func TestBuild_MissingStepIsBareID(t *testing.T) {
	steps := testSteps()
	delete(steps, "b")

	model := Build("", testForest(t), steps, nil, nil)
	b := model.Nodes[0].Children[0].Nodes[0]
	assert.Equal(t, "b", b.Label)
	assert.Equal(t, NodeKindAction, b.Kind)
}

func TestBuild_StatusOverlay(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	done := start.Add(40 * time.Millisecond)
	logs := []*schema.WorkflowRunLog{
		{StepID: "c", Status: schema.StepStatusCompleted, StartedAt: start, FinishedAt: &done, Sequence: 1},
		{StepID: "c", Status: schema.StepStatusFailed, StartedAt: start, FinishedAt: &done, Sequence: 2,
			Error: &schema.ActionError{Message: "boom", Type: schema.ErrProvider}},
		{StepID: "loop", Status: schema.StepStatusFailed, StartedAt: start, Sequence: 3},
	}

	model := Build("", testForest(t), testSteps(), nil, logs)
	c := model.Nodes[1].Children[0].Nodes[0]
	require.NotNil(t, c.Status)
	assert.Equal(t, "failed", c.Status.Status)
	assert.Equal(t, 2, c.Status.Executions)
	assert.Equal(t, int64(40), c.Status.DurationMs)
	assert.Equal(t, "boom", c.Status.Error)
	assert.Nil(t, model.Nodes[0].Status)
}

func TestRenderMermaid(t *testing.T) {
	logs := []*schema.WorkflowRunLog{{StepID: "a", Status: schema.StepStatusCompleted}}
	trigger := &schema.TriggerStep{ID: "trig", DefinitionID: "manual"}
	out := RenderMermaid(Build("Digest", testForest(t), testSteps(), trigger, logs))

	assert.Contains(t, out, "graph TD\n")
	assert.Contains(t, out, "%% Digest")
	assert.Contains(t, out, `n_trig(("manual"))`)
	assert.Contains(t, out, `n_cond{"Is late"}`)
	assert.Contains(t, out, `n_loop[["loop"]]`)
	assert.Contains(t, out, "n_trig --> n_cond")
	assert.Contains(t, out, "n_cond --> n_loop")
	assert.Contains(t, out, "n_cond -->|true| n_a")
	assert.Contains(t, out, "n_loop -->|body| n_c")
	assert.Contains(t, out, `subgraph n_cond_false["false"]`)
	assert.Contains(t, out, "class n_a completed")
}

func TestRenderASCII(t *testing.T) {
	logs := []*schema.WorkflowRunLog{
		{StepID: "c", Status: schema.StepStatusCompleted},
		{StepID: "c", Status: schema.StepStatusCompleted},
	}
	out := RenderASCII(Build("Digest", testForest(t), testSteps(), nil, logs))

	expected := "=== Digest ===\n\n" +
		"trigger: (none)\n" +
		"1. if Is late (conditional)\n" +
		"   [false]\n" +
		"     1. noop\n" +
		"   [true]\n" +
		"     1. setVariable\n" +
		"2. loop loop\n" +
		"   [body]\n" +
		"     1. Notify (slack-send) [OK] x2\n"
	assert.Equal(t, expected, out)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.CreateConfiguration(ctx, &schema.WorkflowConfiguration{
		ID: "cfg-1", WorkflowID: "wf-1", TriggerStepID: "trig",
		ActionSteps: []schema.ActionStepReference{{ActionStepID: "s1"}},
	}))
	require.NoError(t, mem.CreateWorkflow(ctx, &schema.Workflow{ID: "wf-1", Title: "Digest", OwnerID: "o", CurrentConfigurationID: "cfg-1"}))
	require.NoError(t, mem.CreateTriggerStep(ctx, &schema.TriggerStep{ID: "trig", ConfigurationID: "cfg-1", DefinitionID: "manual"}))
	require.NoError(t, mem.CreateActionStep(ctx, &schema.ActionStep{ID: "s1", ConfigurationID: "cfg-1", DefinitionID: actions.KeyNoop}))

	model, err := Load(ctx, mem, "wf-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Digest", model.Title)
	require.NotNil(t, model.Trigger)
	require.Len(t, model.Nodes, 1)
	assert.Equal(t, actions.KeyNoop, model.Nodes[0].Label)

	_, err = Load(ctx, mem, "missing", "")
	assert.True(t, schema.IsKind(err, schema.ErrNotFound))
}
