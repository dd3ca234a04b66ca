package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// MemoryStore is an in-process Store. It backs tests and ephemeral runs
// (db_path ":memory:").
type MemoryStore struct {
	mu             sync.Mutex
	workflows      map[string]*schema.Workflow
	configurations map[string]*schema.WorkflowConfiguration
	triggerSteps   map[string]*schema.TriggerStep
	actionSteps    map[string]*schema.ActionStep
	connections    map[string]*schema.Connection
	runs           map[string]*schema.WorkflowRun
	runData        []*schema.WorkflowRunData
	runLogs        []*schema.WorkflowRunLog
	schedules      map[string]*schema.ScheduledWorkflowRun
	workflowOrder  []string
	runOrder       []string
	logSeq         map[string]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:      make(map[string]*schema.Workflow),
		configurations: make(map[string]*schema.WorkflowConfiguration),
		triggerSteps:   make(map[string]*schema.TriggerStep),
		actionSteps:    make(map[string]*schema.ActionStep),
		connections:    make(map[string]*schema.Connection),
		runs:           make(map[string]*schema.WorkflowRun),
		schedules:      make(map[string]*schema.ScheduledWorkflowRun),
		logSeq:         make(map[string]int64),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

// --- Workflows ---

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *schema.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workflows[wf.ID]; exists {
		return storeConflict("workflow", wf.ID)
	}
	cp := copyWorkflow(wf)
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	m.workflows[wf.ID] = cp
	m.workflowOrder = append(m.workflowOrder, wf.ID)
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	return copyWorkflow(wf), nil
}

func (m *MemoryStore) UpdateWorkflow(_ context.Context, id string, update WorkflowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return storeNotFound("workflow", id)
	}
	if update.Title != nil {
		wf.Title = *update.Title
	}
	if update.Enabled != nil {
		wf.Enabled = *update.Enabled
	}
	if update.Deleted != nil {
		wf.Deleted = *update.Deleted
	}
	if update.CurrentConfigurationID != nil {
		wf.CurrentConfigurationID = *update.CurrentConfigurationID
	}
	if update.Versions != nil {
		wf.Versions = append([]string(nil), update.Versions...)
	}
	if update.EditorIDs != nil {
		wf.EditorIDs = append([]string(nil), update.EditorIDs...)
	}
	if update.ViewerIDs != nil {
		wf.ViewerIDs = append([]string(nil), update.ViewerIDs...)
	}
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.Workflow
	for _, id := range m.workflowOrder {
		wf := m.workflows[id]
		if wf.Deleted && !filter.IncludeDeleted {
			continue
		}
		if filter.OwnerID != "" && wf.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Enabled != nil && wf.Enabled != *filter.Enabled {
			continue
		}
		result = append(result, copyWorkflow(wf))
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// --- Configurations ---

func (m *MemoryStore) CreateConfiguration(_ context.Context, cfg *schema.WorkflowConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.configurations[cfg.ID]; exists {
		return storeConflict("configuration", cfg.ID)
	}
	cp := copyConfiguration(cfg)
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	m.configurations[cfg.ID] = cp
	return nil
}

func (m *MemoryStore) GetConfiguration(_ context.Context, id string) (*schema.WorkflowConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configurations[id]
	if !ok {
		return nil, storeNotFound("configuration", id)
	}
	return copyConfiguration(cfg), nil
}

func (m *MemoryStore) UpdateConfiguration(_ context.Context, id string, update ConfigurationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configurations[id]
	if !ok {
		return storeNotFound("configuration", id)
	}
	if update.TriggerStepID != nil {
		cfg.TriggerStepID = *update.TriggerStepID
	}
	if update.ActionSteps != nil || update.ClearSteps {
		cfg.ActionSteps = copyRefs(update.ActionSteps)
	}
	if update.VersionTitle != nil {
		cfg.VersionTitle = *update.VersionTitle
	}
	if update.VersionNotes != nil {
		cfg.VersionNotes = *update.VersionNotes
	}
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Trigger steps ---

func (m *MemoryStore) CreateTriggerStep(_ context.Context, step *schema.TriggerStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.triggerSteps[step.ID]; exists {
		return storeConflict("trigger_step", step.ID)
	}
	cp := *step
	cp.Parameters = step.Parameters.Clone()
	m.triggerSteps[step.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTriggerStep(_ context.Context, id string) (*schema.TriggerStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.triggerSteps[id]
	if !ok {
		return nil, storeNotFound("trigger_step", id)
	}
	cp := *step
	cp.Parameters = step.Parameters.Clone()
	return &cp, nil
}

func (m *MemoryStore) DeleteTriggerStep(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggerSteps[id]; !ok {
		return storeNotFound("trigger_step", id)
	}
	delete(m.triggerSteps, id)
	return nil
}

// --- Action steps ---

func (m *MemoryStore) CreateActionStep(_ context.Context, step *schema.ActionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.actionSteps[step.ID]; exists {
		return storeConflict("action_step", step.ID)
	}
	m.actionSteps[step.ID] = copyActionStep(step)
	return nil
}

func (m *MemoryStore) GetActionStep(_ context.Context, id string) (*schema.ActionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.actionSteps[id]
	if !ok {
		return nil, storeNotFound("action_step", id)
	}
	return copyActionStep(step), nil
}

func (m *MemoryStore) UpdateActionStep(_ context.Context, id string, update ActionStepUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.actionSteps[id]
	if !ok {
		return storeNotFound("action_step", id)
	}
	if update.Parameters != nil {
		step.Parameters = update.Parameters.Clone()
	}
	if update.Title != nil {
		step.Title = *update.Title
	}
	if update.Comment != nil {
		step.Comment = *update.Comment
	}
	if update.ConnectionID != nil {
		step.ConnectionID = *update.ConnectionID
	}
	if update.ParentID != nil {
		step.ParentID = *update.ParentID
	}
	if update.Children != nil {
		step.Children = copyChildren(*update.Children)
	}
	return nil
}

func (m *MemoryStore) DeleteActionStep(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actionSteps[id]; !ok {
		return storeNotFound("action_step", id)
	}
	delete(m.actionSteps, id)
	return nil
}

func (m *MemoryStore) ListActionSteps(_ context.Context, configurationID string) ([]*schema.ActionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.ActionStep
	for _, step := range m.actionSteps {
		if step.ConfigurationID == configurationID {
			result = append(result, copyActionStep(step))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- Connections ---

func (m *MemoryStore) CreateConnection(_ context.Context, conn *schema.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conn
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	m.connections[conn.ID] = &cp
	return nil
}

func (m *MemoryStore) GetConnection(_ context.Context, id string) (*schema.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[id]
	if !ok {
		return nil, storeNotFound("connection", id)
	}
	cp := *conn
	return &cp, nil
}

// --- Runs ---

func (m *MemoryStore) CreateRun(_ context.Context, run *schema.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return storeConflict("run", run.ID)
	}
	cp := *run
	cp.StartedAt = timeOrNow(cp.StartedAt)
	m.runs[run.ID] = &cp
	m.runOrder = append(m.runOrder, run.ID)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*schema.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, id string, update RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.FinishedAt != nil {
		t := *update.FinishedAt
		run.FinishedAt = &t
	}
	if update.Outputs != nil {
		run.Outputs = update.Outputs
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*schema.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.WorkflowRun
	// Newest first.
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		run := m.runs[m.runOrder[i]]
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		cp := *run
		result = append(result, &cp)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// --- Run data ---

func (m *MemoryStore) AppendRunData(_ context.Context, data *schema.WorkflowRunData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := 0
	for _, d := range m.runData {
		if d.RunID == data.RunID && d.StepID == data.StepID && d.Source == data.Source {
			next = d.IterationCount + 1
		}
	}
	data.IterationCount = next
	data.CreatedAt = timeOrNow(data.CreatedAt)
	cp := *data
	m.runData = append(m.runData, &cp)
	return nil
}

func (m *MemoryStore) LatestRunData(_ context.Context, runID, stepID string) (*schema.WorkflowRunData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runData) - 1; i >= 0; i-- {
		d := m.runData[i]
		if d.RunID == runID && d.StepID == stepID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storeNotFound("run_data", runID+"/"+stepID)
}

func (m *MemoryStore) ListRunData(_ context.Context, filter RunDataFilter) ([]*schema.WorkflowRunData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.WorkflowRunData
	for _, d := range m.runData {
		if d.RunID != filter.RunID {
			continue
		}
		if filter.StepID != "" && d.StepID != filter.StepID {
			continue
		}
		if filter.Source != "" && d.Source != filter.Source {
			continue
		}
		if filter.Key != "" && d.Key != filter.Key {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	return result, nil
}

// --- Run logs ---

func (m *MemoryStore) AppendRunLog(_ context.Context, log *schema.WorkflowRunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logSeq[log.RunID]++
	log.Sequence = m.logSeq[log.RunID]
	cp := *log
	m.runLogs = append(m.runLogs, &cp)
	return nil
}

func (m *MemoryStore) ListRunLogs(_ context.Context, runID string) ([]*schema.WorkflowRunLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.WorkflowRunLog
	for _, l := range m.runLogs {
		if l.RunID == runID {
			cp := *l
			result = append(result, &cp)
		}
	}
	return result, nil
}

// --- Schedules ---

func (m *MemoryStore) CreateSchedule(_ context.Context, s *schema.ScheduledWorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.schedules[s.ID]; exists {
		return storeConflict("schedule", s.ID)
	}
	cp := *s
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, id string) (*schema.ScheduledWorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, storeNotFound("schedule", id)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateScheduleNextRun(_ context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return storeNotFound("schedule", id)
	}
	s.NextRunAt = next.UTC()
	return nil
}

func (m *MemoryStore) ListDueSchedules(_ context.Context, now time.Time) ([]*schema.ScheduledWorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.ScheduledWorkflowRun
	for _, s := range m.schedules {
		if IsDue(s, now) {
			cp := *s
			result = append(result, &cp)
		}
	}
	sortSchedules(result)
	return result, nil
}

func (m *MemoryStore) ListSchedules(_ context.Context, workflowID string) ([]*schema.ScheduledWorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.ScheduledWorkflowRun
	for _, s := range m.schedules {
		if workflowID == "" || s.WorkflowID == workflowID {
			cp := *s
			result = append(result, &cp)
		}
	}
	sortSchedules(result)
	return result, nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return storeNotFound("schedule", id)
	}
	delete(m.schedules, id)
	return nil
}

// IsDue reports whether a schedule should fire at now: its next run time
// and start time have elapsed and its end time, if any, has not passed.
func IsDue(s *schema.ScheduledWorkflowRun, now time.Time) bool {
	if s.NextRunAt.After(now) {
		return false
	}
	if s.StartAt != nil && s.StartAt.After(now) {
		return false
	}
	if s.EndAt != nil && !s.EndAt.After(now) {
		return false
	}
	return true
}

func sortSchedules(list []*schema.ScheduledWorkflowRun) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].NextRunAt.Equal(list[j].NextRunAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].NextRunAt.Before(list[j].NextRunAt)
	})
}

// --- copy helpers ---

func copyWorkflow(wf *schema.Workflow) *schema.Workflow {
	cp := *wf
	cp.EditorIDs = append([]string(nil), wf.EditorIDs...)
	cp.ViewerIDs = append([]string(nil), wf.ViewerIDs...)
	cp.Versions = append([]string(nil), wf.Versions...)
	return &cp
}

func copyConfiguration(cfg *schema.WorkflowConfiguration) *schema.WorkflowConfiguration {
	cp := *cfg
	cp.ActionSteps = copyRefs(cfg.ActionSteps)
	return &cp
}

func copyRefs(refs []schema.ActionStepReference) []schema.ActionStepReference {
	if refs == nil {
		return []schema.ActionStepReference{}
	}
	out := make([]schema.ActionStepReference, len(refs))
	for i, r := range refs {
		out[i] = schema.ActionStepReference{ActionStepID: r.ActionStepID}
		if r.Children != nil {
			out[i].Children = make(map[string][]schema.ActionStepReference, len(r.Children))
			for k, v := range r.Children {
				out[i].Children[k] = copyRefs(v)
			}
		}
	}
	return out
}

func copyActionStep(step *schema.ActionStep) *schema.ActionStep {
	cp := *step
	cp.Parameters = step.Parameters.Clone()
	cp.Children = copyChildren(step.Children)
	return &cp
}

func copyChildren(children map[string][]string) map[string][]string {
	if children == nil {
		return nil
	}
	out := make(map[string][]string, len(children))
	for k, v := range children {
		out[k] = append([]string(nil), v...)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
