package store

import (
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	OwnerID        string `json:"owner_id,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a workflow.
type WorkflowUpdate struct {
	Title                  *string  `json:"title,omitempty"`
	Enabled                *bool    `json:"enabled,omitempty"`
	Deleted                *bool    `json:"deleted,omitempty"`
	CurrentConfigurationID *string  `json:"current_configuration_id,omitempty"`
	Versions               []string `json:"versions,omitempty"`
	EditorIDs              []string `json:"editor_ids,omitempty"`
	ViewerIDs              []string `json:"viewer_ids,omitempty"`
}

// ConfigurationUpdate specifies mutable fields of a configuration.
type ConfigurationUpdate struct {
	TriggerStepID *string                      `json:"trigger_step_id,omitempty"`
	ActionSteps   []schema.ActionStepReference `json:"action_steps,omitempty"`
	ClearSteps    bool                         `json:"clear_steps,omitempty"`
	VersionTitle  *string                      `json:"version_title,omitempty"`
	VersionNotes  *string                      `json:"version_notes,omitempty"`
}

// ActionStepUpdate specifies mutable fields of an action step.
type ActionStepUpdate struct {
	Parameters   schema.Parameters    `json:"parameters,omitempty"`
	Title        *string              `json:"title,omitempty"`
	Comment      *string              `json:"comment,omitempty"`
	ConnectionID *string              `json:"connection_id,omitempty"`
	ParentID     *string              `json:"parent_id,omitempty"`
	Children     *map[string][]string `json:"children,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status     *schema.RunStatus   `json:"status,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Outputs    map[string]any      `json:"outputs,omitempty"`
	Error      *schema.ActionError `json:"error,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     *schema.RunStatus `json:"status,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

// RunDataFilter specifies criteria for listing run data.
type RunDataFilter struct {
	RunID  string            `json:"run_id"`
	StepID string            `json:"step_id,omitempty"`
	Source schema.DataSource `json:"source,omitempty"`
	Key    string            `json:"key,omitempty"`
}
