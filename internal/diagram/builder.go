package diagram

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/steptree"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// Build constructs a Model from a step forest. steps supplies the stored
// step for each forest id; a missing entry is drawn as a bare id. logs,
// when given, overlay the latest recorded status of each step.
func Build(title string, forest *steptree.Forest, steps map[string]*schema.ActionStep, trigger *schema.TriggerStep, logs []*schema.WorkflowRunLog) *Model {
	overlays := overlayIndex(logs)

	model := &Model{Title: title}
	if trigger != nil {
		model.Trigger = &Node{ID: trigger.ID, Label: triggerLabel(trigger), Kind: NodeKindTrigger}
		if ov, ok := overlays[trigger.ID]; ok {
			model.Trigger.Status = ov
		}
	}
	for _, id := range forest.RootIDs() {
		model.Nodes = append(model.Nodes, buildNode(id, forest, steps, overlays))
	}
	return model
}

func buildNode(id string, forest *steptree.Forest, steps map[string]*schema.ActionStep, overlays map[string]*StatusOverlay) *Node {
	node := &Node{ID: id, Label: id, Kind: NodeKindAction}
	if step, ok := steps[id]; ok {
		node.Label = stepLabel(step)
		node.Kind = stepKind(step.DefinitionID)
	}
	if ov, ok := overlays[id]; ok {
		node.Status = ov
	}

	children, _ := forest.Children(id)
	for _, key := range slices.Sorted(maps.Keys(children)) {
		sg := &SubGraph{Label: key}
		for _, childID := range children[key] {
			sg.Nodes = append(sg.Nodes, buildNode(childID, forest, steps, overlays))
		}
		node.Children = append(node.Children, sg)
	}
	return node
}

func stepKind(definitionID string) NodeKind {
	switch definitionID {
	case actions.KeyConditional:
		return NodeKindConditional
	case actions.KeyLoop:
		return NodeKindLoop
	default:
		return NodeKindAction
	}
}

func stepLabel(step *schema.ActionStep) string {
	if step.Title != "" {
		return fmt.Sprintf("%s\n(%s)", step.Title, step.DefinitionID)
	}
	return step.DefinitionID
}

func triggerLabel(trigger *schema.TriggerStep) string {
	if trigger.Title != "" {
		return trigger.Title
	}
	return trigger.DefinitionID
}

// overlayIndex keeps the latest log of each step and counts its executions.
func overlayIndex(logs []*schema.WorkflowRunLog) map[string]*StatusOverlay {
	out := make(map[string]*StatusOverlay, len(logs))
	for _, l := range logs {
		ov, ok := out[l.StepID]
		if !ok {
			ov = &StatusOverlay{}
			out[l.StepID] = ov
		}
		ov.Executions++
		ov.Status = string(l.Status)
		ov.DurationMs = 0
		if l.FinishedAt != nil {
			ov.DurationMs = l.FinishedAt.Sub(l.StartedAt).Milliseconds()
		}
		ov.Error = ""
		if l.Error != nil {
			ov.Error = l.Error.Message
		}
	}
	return out
}

// Load builds the Model of a workflow's current configuration. A non-empty
// runID overlays that run's step statuses.
func Load(ctx context.Context, s store.Store, workflowID, runID string) (*Model, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.GetConfiguration(ctx, wf.CurrentConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("diagram: load configuration: %w", err)
	}
	forest, err := steptree.Build(cfg.ActionSteps)
	if err != nil {
		return nil, fmt.Errorf("diagram: build tree: %w", err)
	}

	steps := make(map[string]*schema.ActionStep, forest.Len())
	for _, id := range forest.IDs() {
		step, err := s.GetActionStep(ctx, id)
		if err != nil {
			if schema.IsKind(err, schema.ErrNotFound) {
				continue
			}
			return nil, err
		}
		steps[id] = step
	}

	var trigger *schema.TriggerStep
	if cfg.HasTrigger() {
		if trigger, err = s.GetTriggerStep(ctx, cfg.TriggerStepID); err != nil && !schema.IsKind(err, schema.ErrNotFound) {
			return nil, err
		}
	}

	var logs []*schema.WorkflowRunLog
	if runID != "" {
		if logs, err = s.ListRunLogs(ctx, runID); err != nil {
			return nil, err
		}
	}

	title := wf.Title
	if title == "" {
		title = wf.ID
	}
	return Build(title, forest, steps, trigger, logs), nil
}
