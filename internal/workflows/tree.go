package workflows

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/steptree"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// NewStep describes an action step to add to a configuration.
type NewStep struct {
	DefinitionID string            `json:"definitionId"`
	Parameters   schema.Parameters `json:"parameters,omitempty"`
	Title        string            `json:"title,omitempty"`
	Comment      string            `json:"comment,omitempty"`
	ConnectionID string            `json:"connectionId,omitempty"`
}

func (s *Service) forest(cfg *schema.WorkflowConfiguration) (*steptree.Forest, error) {
	f, err := steptree.Build(cfg.ActionSteps)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Tree returns the step forest of a workflow's current configuration.
func (s *Service) Tree(ctx context.Context, workflowID string) (*steptree.Forest, error) {
	_, cfg, err := s.Current(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.forest(cfg)
}

func (s *Service) newActionStep(ctx context.Context, cfgID string, in NewStep) (*schema.ActionStep, error) {
	if _, err := s.catalog.ActionDefinition(ctx, in.DefinitionID); err != nil {
		return nil, err
	}
	return &schema.ActionStep{
		ID:              uuid.NewString(),
		ConfigurationID: cfgID,
		DefinitionID:    in.DefinitionID,
		Parameters:      in.Parameters.Clone(),
		Title:           in.Title,
		Comment:         in.Comment,
		ConnectionID:    in.ConnectionID,
	}, nil
}

// AddActionStep creates a step and inserts it under parentID's container at
// index. An empty parentID targets the root sequence; a negative index
// appends.
func (s *Service) AddActionStep(ctx context.Context, workflowID, parentID, containerKey string, index int, in NewStep) (*schema.ActionStep, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	_, cfg, err := s.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	forest, err := s.forest(cfg)
	if err != nil {
		return nil, err
	}
	step, err := s.newActionStep(ctx, cfg.ID, in)
	if err != nil {
		return nil, err
	}
	if err := forest.Insert(step.ID, parentID, containerKey, index); err != nil {
		return nil, err
	}
	if err := forest.Validate(); err != nil {
		return nil, err
	}
	step.ParentID = parentID
	if err := s.store.CreateActionStep(ctx, step); err != nil {
		return nil, err
	}
	if err := s.persistTree(ctx, cfg.ID, forest); err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "action step added",
		slog.String("workflow_id", workflowID), slog.String("step_id", step.ID), slog.String("parent_id", parentID))
	return step, nil
}

// RemoveActionStep removes a step and its whole subtree. It returns the
// removed step ids.
func (s *Service) RemoveActionStep(ctx context.Context, workflowID, stepID string) ([]string, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	_, cfg, err := s.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	forest, err := s.forest(cfg)
	if err != nil {
		return nil, err
	}
	removed, err := forest.Remove(stepID)
	if err != nil {
		return nil, err
	}
	if err := s.persistTree(ctx, cfg.ID, forest); err != nil {
		return nil, err
	}
	for _, id := range removed {
		if err := s.store.DeleteActionStep(ctx, id); err != nil && !schema.IsKind(err, schema.ErrNotFound) {
			return nil, err
		}
	}
	return removed, nil
}

// ReplaceActionStep swaps a step for a new one in the same position. The
// new step inherits the old step's children.
func (s *Service) ReplaceActionStep(ctx context.Context, workflowID, stepID string, in NewStep) (*schema.ActionStep, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	_, cfg, err := s.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	forest, err := s.forest(cfg)
	if err != nil {
		return nil, err
	}
	step, err := s.newActionStep(ctx, cfg.ID, in)
	if err != nil {
		return nil, err
	}
	if err := forest.Replace(stepID, step.ID); err != nil {
		return nil, err
	}
	step.ParentID, _, _ = forest.Parent(step.ID)
	step.Children, _ = forest.Children(step.ID)
	if err := s.store.CreateActionStep(ctx, step); err != nil {
		return nil, err
	}
	if err := s.persistTree(ctx, cfg.ID, forest); err != nil {
		return nil, err
	}
	if err := s.store.DeleteActionStep(ctx, stepID); err != nil && !schema.IsKind(err, schema.ErrNotFound) {
		return nil, err
	}
	return step, nil
}

// MoveActionStep relocates a step with its subtree under newParentID's
// container at index. The set of step ids is unchanged by a move.
func (s *Service) MoveActionStep(ctx context.Context, workflowID, stepID, newParentID, containerKey string, index int) (*steptree.Forest, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	_, cfg, err := s.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	forest, err := s.forest(cfg)
	if err != nil {
		return nil, err
	}
	before := forest.Len()
	if err := forest.Move(stepID, newParentID, containerKey, index); err != nil {
		return nil, err
	}
	if err := forest.Validate(); err != nil {
		return nil, err
	}
	if forest.Len() != before {
		return nil, schema.NewErrorf(schema.ErrInvalidTree, "move changed the step count from %d to %d", before, forest.Len())
	}
	if err := s.persistTree(ctx, cfg.ID, forest); err != nil {
		return nil, err
	}
	return forest, nil
}

// persistTree writes the forest back: the configuration's root references
// and the parent id and children of every step whose stored placement
// differs.
func (s *Service) persistTree(ctx context.Context, cfgID string, forest *steptree.Forest) error {
	refs := forest.References()
	if err := s.store.UpdateConfiguration(ctx, cfgID, store.ConfigurationUpdate{
		ActionSteps: refs,
		ClearSteps:  len(refs) == 0,
	}); err != nil {
		return err
	}

	for _, id := range forest.IDs() {
		step, err := s.store.GetActionStep(ctx, id)
		if err != nil {
			return err
		}
		parentID, _, _ := forest.Parent(id)
		children, _ := forest.Children(id)

		var update store.ActionStepUpdate
		if step.ParentID != parentID {
			update.ParentID = &parentID
		}
		if !sameChildren(step.Children, children) {
			if children == nil {
				children = map[string][]string{}
			}
			update.Children = &children
		}
		if update.ParentID == nil && update.Children == nil {
			continue
		}
		if err := s.store.UpdateActionStep(ctx, id, update); err != nil {
			return err
		}
	}
	return nil
}

func sameChildren(a, b map[string][]string) bool {
	return maps.EqualFunc(nonEmpty(a), nonEmpty(b), slices.Equal[[]string])
}

func nonEmpty(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return out
}
