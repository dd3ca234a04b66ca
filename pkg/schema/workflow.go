package schema

import "time"

// MissingTriggerStepID marks a configuration whose trigger has not been set.
const MissingTriggerStepID = "missing"

// TriggerDataKey names the variable holding the payload a run was triggered with.
const TriggerDataKey = "triggerData"

// Workflow is the long-lived automation owned by a user. It is never
// physically removed; Deleted marks a soft delete.
type Workflow struct {
	ID                     string    `json:"id"`
	Title                  string    `json:"title,omitempty"`
	OwnerID                string    `json:"owner_id"`
	EditorIDs              []string  `json:"editor_ids,omitempty"`
	ViewerIDs              []string  `json:"viewer_ids,omitempty"`
	Enabled                bool      `json:"enabled"`
	Deleted                bool      `json:"deleted"`
	CurrentConfigurationID string    `json:"current_configuration_id,omitempty"`
	Versions               []string  `json:"versions,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// ActionStepReference is one entry of a configuration's ordered root
// sequence. Children mirrors the nested containers of the referenced step.
type ActionStepReference struct {
	ActionStepID string                           `json:"actionStepId"`
	Children     map[string][]ActionStepReference `json:"children,omitempty"`
}

// WorkflowConfiguration is one version of a workflow's trigger and step tree.
type WorkflowConfiguration struct {
	ID            string                `json:"id"`
	WorkflowID    string                `json:"workflow_id"`
	TriggerStepID string                `json:"trigger_step_id,omitempty"`
	ActionSteps   []ActionStepReference `json:"action_steps"`
	VersionTitle  string                `json:"version_title,omitempty"`
	VersionNotes  string                `json:"version_notes,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// HasTrigger reports whether the configuration references a real trigger step.
func (c *WorkflowConfiguration) HasTrigger() bool {
	return c.TriggerStepID != "" && c.TriggerStepID != MissingTriggerStepID
}

// TriggerStep binds a trigger definition to concrete parameters.
type TriggerStep struct {
	ID              string     `json:"id"`
	ConfigurationID string     `json:"configuration_id"`
	DefinitionID    string     `json:"definition_id"`
	Parameters      Parameters `json:"parameters,omitempty"`
	Title           string     `json:"title,omitempty"`
	Comment         string     `json:"comment,omitempty"`
	ConnectionID    string     `json:"connection_id,omitempty"`
}

// ActionStep binds an action definition to concrete parameters. Children
// maps a container key (e.g. a conditional's "true" branch) to the ordered
// ids of the steps nested under it.
type ActionStep struct {
	ID              string              `json:"id"`
	ConfigurationID string              `json:"configuration_id"`
	DefinitionID    string              `json:"definition_id"`
	Parameters      Parameters          `json:"parameters,omitempty"`
	RemoteOptions   map[string]any      `json:"remote_options,omitempty"`
	Title           string              `json:"title,omitempty"`
	Comment         string              `json:"comment,omitempty"`
	ConnectionID    string              `json:"connection_id,omitempty"`
	ParentID        string              `json:"parent_id,omitempty"`
	Children        map[string][]string `json:"children,omitempty"`
}

// Connection is a linked third-party account used by provider-backed actions.
type Connection struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Provider  string    `json:"provider"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatus is the lifecycle state of a WorkflowRun.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusCancelled is reserved; no engine path sets it.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// WorkflowRun is one execution of a workflow's current configuration.
type WorkflowRun struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	ConfigurationID string         `json:"configuration_id"`
	Status          RunStatus      `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	Outputs         map[string]any `json:"outputs,omitempty"`
	Error           *ActionError   `json:"error,omitempty"`
}

// DataSource distinguishes user variables from step outputs.
type DataSource string

const (
	SourceVariable DataSource = "variable"
	SourceOutput   DataSource = "output"
)

// WorkflowRunData is an append-only value produced during a run.
// IterationCount is a 0-based sequence per (run, step, source).
type WorkflowRunData struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	StepID         string     `json:"step_id,omitempty"`
	Source         DataSource `json:"source"`
	Key            string     `json:"key,omitempty"`
	Value          any        `json:"value"`
	DataType       DataType   `json:"data_type,omitempty"`
	IterationCount int        `json:"iteration_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StepStatus is the state recorded in a WorkflowRunLog entry.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// WorkflowRunLog is an append-only record of one step execution.
type WorkflowRunLog struct {
	ID         string       `json:"id"`
	RunID      string       `json:"run_id"`
	StepID     string       `json:"step_id"`
	Status     StepStatus   `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Error      *ActionError `json:"error,omitempty"`
	Sequence   int64        `json:"sequence"`
}

// IntervalUnit is the recurrence unit of a schedule.
type IntervalUnit string

const (
	IntervalHours  IntervalUnit = "hours"
	IntervalDays   IntervalUnit = "days"
	IntervalWeeks  IntervalUnit = "weeks"
	IntervalMonths IntervalUnit = "months"
	IntervalYears  IntervalUnit = "years"
)

// Valid reports whether u is a known unit.
func (u IntervalUnit) Valid() bool {
	switch u {
	case IntervalHours, IntervalDays, IntervalWeeks, IntervalMonths, IntervalYears:
		return true
	}
	return false
}

// ScheduledWorkflowRun is a pending (possibly recurring) scheduled execution.
type ScheduledWorkflowRun struct {
	ID           string       `json:"id"`
	WorkflowID   string       `json:"workflow_id"`
	NextRunAt    time.Time    `json:"next_run_date_time"`
	Repeat       bool         `json:"repeat"`
	StartAt      *time.Time   `json:"start_date_time,omitempty"`
	EndAt        *time.Time   `json:"end_date_time,omitempty"`
	Interval     int          `json:"interval,omitempty"`
	IntervalUnit IntervalUnit `json:"interval_unit,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Payload converts the schedule into the trigger payload of the run it fires.
func (s *ScheduledWorkflowRun) Payload() map[string]any {
	p := map[string]any{
		"scheduleId":      s.ID,
		"workflowId":      s.WorkflowID,
		"nextRunDateTime": s.NextRunAt.UTC().Format(time.RFC3339),
		"repeat":          s.Repeat,
	}
	if s.StartAt != nil {
		p["startDateTime"] = s.StartAt.UTC().Format(time.RFC3339)
	}
	if s.EndAt != nil {
		p["endDateTime"] = s.EndAt.UTC().Format(time.RFC3339)
	}
	if s.Interval > 0 {
		p["interval"] = float64(s.Interval)
		p["intervalUnit"] = string(s.IntervalUnit)
	}
	return p
}
