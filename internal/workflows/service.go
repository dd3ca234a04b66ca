// Package workflows manages workflow lifecycle: creation, versions,
// access, triggers and edits of the current configuration's step tree.
package workflows

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/catalog"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// ScheduleRegistrar registers and removes schedules. Satisfied by
// *scheduler.Scheduler.
type ScheduleRegistrar interface {
	CreateSchedule(ctx context.Context, req scheduler.Request) (*schema.ScheduledWorkflowRun, error)
	Schedules(ctx context.Context, workflowID string) ([]*schema.ScheduledWorkflowRun, error)
	DeleteWorkflowSchedules(ctx context.Context, workflowID string) error
}

// Deps are the collaborators of a Service. Schedules and Validator are
// optional: without a registrar schedule triggers are rejected, without a
// validator trigger parameters are stored as given.
type Deps struct {
	Store     store.Store
	Catalog   catalog.Catalog
	Schedules ScheduleRegistrar
	Validator validation.Validator
	Logger    *slog.Logger
}

// Service implements the workflow lifecycle operations.
type Service struct {
	store     store.Store
	catalog   catalog.Catalog
	schedules ScheduleRegistrar
	validator validation.Validator
	logger    *slog.Logger
	now       func() time.Time

	// treeMu serializes read-modify-write cycles on step trees.
	treeMu sync.Mutex
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     deps.Store,
		catalog:   deps.Catalog,
		schedules: deps.Schedules,
		validator: deps.Validator,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateWorkflow creates a disabled workflow with an empty current
// configuration whose trigger is not set yet.
func (s *Service) CreateWorkflow(ctx context.Context, ownerID, title string) (*schema.Workflow, error) {
	if ownerID == "" {
		return nil, schema.NewError(schema.ErrValidation, "owner id is required")
	}
	now := s.now().UTC()
	wf := &schema.Workflow{
		ID:        uuid.NewString(),
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cfg := &schema.WorkflowConfiguration{
		ID:            uuid.NewString(),
		WorkflowID:    wf.ID,
		TriggerStepID: schema.MissingTriggerStepID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	wf.CurrentConfigurationID = cfg.ID

	if err := s.store.CreateConfiguration(ctx, cfg); err != nil {
		return nil, err
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "workflow created", slog.String("workflow_id", wf.ID), slog.String("owner_id", ownerID))
	return wf, nil
}

// Get returns a workflow.
func (s *Service) Get(ctx context.Context, workflowID string) (*schema.Workflow, error) {
	return s.store.GetWorkflow(ctx, workflowID)
}

// Current returns a workflow and its current configuration.
func (s *Service) Current(ctx context.Context, workflowID string) (*schema.Workflow, *schema.WorkflowConfiguration, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf.CurrentConfigurationID == "" {
		return nil, nil, schema.NewErrorf(schema.ErrConfigurationMissing, "workflow %s has no current configuration", workflowID)
	}
	cfg, err := s.store.GetConfiguration(ctx, wf.CurrentConfigurationID)
	if err != nil {
		if schema.IsKind(err, schema.ErrNotFound) {
			return nil, nil, schema.NewErrorf(schema.ErrConfigurationMissing,
				"configuration %s of workflow %s not found", wf.CurrentConfigurationID, workflowID).WithCause(err)
		}
		return nil, nil, err
	}
	return wf, cfg, nil
}

// editable loads a live workflow and its current configuration.
func (s *Service) editable(ctx context.Context, workflowID string) (*schema.Workflow, *schema.WorkflowConfiguration, error) {
	wf, cfg, err := s.Current(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf.Deleted {
		return nil, nil, schema.NewErrorf(schema.ErrValidation, "workflow %s is deleted", workflowID)
	}
	return wf, cfg, nil
}

// PublishVersion snapshots the current configuration: the trigger step and
// every action step are copied under fresh ids into a new configuration,
// which becomes current. The previous configuration id is appended to the
// workflow's versions.
func (s *Service) PublishVersion(ctx context.Context, workflowID, title, notes string) (*schema.WorkflowConfiguration, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	wf, cur, err := s.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	forest, err := s.forest(cur)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next := &schema.WorkflowConfiguration{
		ID:            uuid.NewString(),
		WorkflowID:    wf.ID,
		TriggerStepID: schema.MissingTriggerStepID,
		VersionTitle:  title,
		VersionNotes:  notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if cur.HasTrigger() {
		trig, err := s.store.GetTriggerStep(ctx, cur.TriggerStepID)
		if err != nil {
			return nil, err
		}
		trig.ID = uuid.NewString()
		trig.ConfigurationID = next.ID
		if err := s.store.CreateTriggerStep(ctx, trig); err != nil {
			return nil, err
		}
		next.TriggerStepID = trig.ID
	}

	renamed := make(map[string]string, forest.Len())
	for _, id := range forest.IDs() {
		renamed[id] = uuid.NewString()
	}
	for oldID, newID := range renamed {
		if err := forest.Replace(oldID, newID); err != nil {
			return nil, err
		}
	}
	for oldID, newID := range renamed {
		step, err := s.store.GetActionStep(ctx, oldID)
		if err != nil {
			return nil, err
		}
		step.ID = newID
		step.ConfigurationID = next.ID
		step.ParentID, _, _ = forest.Parent(newID)
		step.Children, _ = forest.Children(newID)
		step.Parameters = renameStepLists(step.Parameters, renamed)
		if err := s.store.CreateActionStep(ctx, step); err != nil {
			return nil, err
		}
	}
	next.ActionSteps = forest.References()

	if err := s.store.CreateConfiguration(ctx, next); err != nil {
		return nil, err
	}
	versions := append(slices.Clone(wf.Versions), cur.ID)
	if err := s.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{
		CurrentConfigurationID: &next.ID,
		Versions:               versions,
	}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "workflow version published",
		slog.String("workflow_id", wf.ID),
		slog.String("configuration_id", next.ID),
		slog.String("previous_configuration_id", cur.ID),
	)
	return next, nil
}

// stepListParams are the parameters that hold step id lists.
var stepListParams = []string{"trueActionStepIds", "falseActionStepIds", "actionStepIds"}

// renameStepLists rewrites the step id list parameters of a copied step so
// they point at the copies. Lists naming no copied step are left as stored.
func renameStepLists(params schema.Parameters, renamed map[string]string) schema.Parameters {
	out := params.Clone()
	for _, key := range stepListParams {
		ids, ok := out.StringSlice(key)
		if !ok {
			continue
		}
		changed := false
		items := make([]schema.Value, len(ids))
		for i, id := range ids {
			if newID, ok := renamed[id]; ok {
				id, changed = newID, true
			}
			items[i] = schema.String(id)
		}
		if changed {
			out[key] = schema.Array(items...)
		}
	}
	return out
}

// SetEnabled enables or disables a workflow. Disabled workflows are skipped
// by the scheduler but can still be run by hand.
func (s *Service) SetEnabled(ctx context.Context, workflowID string, enabled bool) error {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Deleted && enabled {
		return schema.NewErrorf(schema.ErrValidation, "workflow %s is deleted", workflowID)
	}
	return s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{Enabled: &enabled})
}

// SoftDelete marks a workflow deleted and disabled and removes its
// schedules. The workflow and its runs stay readable.
func (s *Service) SoftDelete(ctx context.Context, workflowID string) error {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return err
	}
	deleted, enabled := true, false
	if err := s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{Deleted: &deleted, Enabled: &enabled}); err != nil {
		return err
	}
	if s.schedules != nil {
		if err := s.schedules.DeleteWorkflowSchedules(ctx, workflowID); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "workflow deleted", slog.String("workflow_id", workflowID))
	return nil
}

// SetAccess replaces the editor and viewer lists. Nil leaves a list as is;
// an empty slice clears it.
func (s *Service) SetAccess(ctx context.Context, workflowID string, editors, viewers []string) error {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return err
	}
	return s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{EditorIDs: editors, ViewerIDs: viewers})
}

// CanView reports whether userID may read the workflow.
func CanView(wf *schema.Workflow, userID string) bool {
	return CanEdit(wf, userID) || slices.Contains(wf.ViewerIDs, userID)
}

// CanEdit reports whether userID may change the workflow.
func CanEdit(wf *schema.Workflow, userID string) bool {
	return wf.OwnerID == userID || slices.Contains(wf.EditorIDs, userID)
}
