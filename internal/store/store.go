package store

import (
	"context"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// Store defines the persistence layer contract of the engine.
// All implementations must be safe for concurrent use. Every mutation is a
// single atomic document operation.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)

	// Configurations
	CreateConfiguration(ctx context.Context, cfg *schema.WorkflowConfiguration) error
	GetConfiguration(ctx context.Context, id string) (*schema.WorkflowConfiguration, error)
	UpdateConfiguration(ctx context.Context, id string, update ConfigurationUpdate) error

	// Trigger steps
	CreateTriggerStep(ctx context.Context, step *schema.TriggerStep) error
	GetTriggerStep(ctx context.Context, id string) (*schema.TriggerStep, error)
	DeleteTriggerStep(ctx context.Context, id string) error

	// Action steps
	CreateActionStep(ctx context.Context, step *schema.ActionStep) error
	GetActionStep(ctx context.Context, id string) (*schema.ActionStep, error)
	UpdateActionStep(ctx context.Context, id string, update ActionStepUpdate) error
	DeleteActionStep(ctx context.Context, id string) error
	ListActionSteps(ctx context.Context, configurationID string) ([]*schema.ActionStep, error)

	// Connections
	CreateConnection(ctx context.Context, conn *schema.Connection) error
	GetConnection(ctx context.Context, id string) (*schema.Connection, error)

	// Runs
	CreateRun(ctx context.Context, run *schema.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*schema.WorkflowRun, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowRun, error)

	// Run data (append-only). AppendRunData assigns IterationCount atomically.
	AppendRunData(ctx context.Context, data *schema.WorkflowRunData) error
	LatestRunData(ctx context.Context, runID, stepID string) (*schema.WorkflowRunData, error)
	ListRunData(ctx context.Context, filter RunDataFilter) ([]*schema.WorkflowRunData, error)

	// Run logs (append-only). AppendRunLog assigns Sequence.
	AppendRunLog(ctx context.Context, log *schema.WorkflowRunLog) error
	ListRunLogs(ctx context.Context, runID string) ([]*schema.WorkflowRunLog, error)

	// Schedules
	CreateSchedule(ctx context.Context, s *schema.ScheduledWorkflowRun) error
	GetSchedule(ctx context.Context, id string) (*schema.ScheduledWorkflowRun, error)
	UpdateScheduleNextRun(ctx context.Context, id string, next time.Time) error
	ListDueSchedules(ctx context.Context, now time.Time) ([]*schema.ScheduledWorkflowRun, error)
	ListSchedules(ctx context.Context, workflowID string) ([]*schema.ScheduledWorkflowRun, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
