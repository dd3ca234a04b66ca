package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultSweepSchedule runs RunDueSchedules every 15 minutes.
const DefaultSweepSchedule = "*/15 * * * *"

// WorkflowRunner is the interface the scheduler uses to run workflows.
// Satisfied by the engine (avoids import cycle).
type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, payload map[string]any) (*schema.RunResult, error)
}

// Config holds scheduler settings.
type Config struct {
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// Request registers a schedule for a workflow.
type Request struct {
	WorkflowID   string              `json:"workflowId"`
	Repeat       bool                `json:"repeat"`
	StartAt      time.Time           `json:"startDateTime"`
	EndAt        *time.Time          `json:"endDateTime,omitempty"`
	Interval     int                 `json:"interval,omitempty"`
	IntervalUnit schema.IntervalUnit `json:"intervalUnit,omitempty"`
}

// SweepResult summarizes one RunDueSchedules pass.
type SweepResult struct {
	Due     int `json:"due"`
	Fired   int `json:"fired"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Scheduler fires due ScheduledWorkflowRun rows on a cron sweep.
type Scheduler struct {
	store  store.Store
	runner WorkflowRunner
	logger *slog.Logger
	parser cron.Parser
	spec   string
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	initial sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently firing (dedup)
}

// New creates a Scheduler. The sweep schedule is validated up front.
func New(s store.Store, runner WorkflowRunner, logger *slog.Logger, cfg Config) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	spec := cfg.SweepSchedule
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, schema.NewErrorf(schema.ErrValidation, "invalid sweep schedule %q: %s", spec, err.Error()).WithCause(err)
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		logger:   logger,
		parser:   parser,
		spec:     spec,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}, nil
}

// CreateSchedule validates req and stores a new schedule whose first run is
// req.StartAt. A start time that is not in the future fails with
// ScheduleInPast.
func (s *Scheduler) CreateSchedule(ctx context.Context, req Request) (*schema.ScheduledWorkflowRun, error) {
	if req.WorkflowID == "" {
		return nil, schema.NewError(schema.ErrValidation, "workflow id is required")
	}
	if req.StartAt.IsZero() {
		return nil, schema.NewError(schema.ErrValidation, "start time is required")
	}
	now := s.now().UTC()
	if !req.StartAt.After(now) {
		return nil, schema.NewErrorf(schema.ErrScheduleInPast, "start time %s is not in the future", req.StartAt.UTC().Format(time.RFC3339)).
			WithData(map[string]any{"startDateTime": req.StartAt.UTC().Format(time.RFC3339), "now": now.Format(time.RFC3339)})
	}
	if req.EndAt != nil && !req.EndAt.After(req.StartAt) {
		return nil, schema.NewError(schema.ErrValidation, "end time must be after start time")
	}
	if req.Repeat {
		if req.Interval <= 0 {
			return nil, schema.NewError(schema.ErrValidation, "repeating schedules need a positive interval")
		}
		if !req.IntervalUnit.Valid() {
			return nil, schema.NewErrorf(schema.ErrValidation, "unknown interval unit %q", req.IntervalUnit)
		}
	}
	if _, err := s.store.GetWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, err
	}

	start := req.StartAt.UTC()
	sched := &schema.ScheduledWorkflowRun{
		ID:         uuid.NewString(),
		WorkflowID: req.WorkflowID,
		NextRunAt:  start,
		Repeat:     req.Repeat,
		StartAt:    &start,
		CreatedAt:  now,
	}
	if req.EndAt != nil {
		end := req.EndAt.UTC()
		sched.EndAt = &end
	}
	if req.Repeat {
		sched.Interval = req.Interval
		sched.IntervalUnit = req.IntervalUnit
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "schedule created",
		slog.String("schedule_id", sched.ID),
		slog.String("workflow_id", sched.WorkflowID),
		slog.Time("next_run_at", sched.NextRunAt),
	)
	return sched, nil
}

// Schedules lists the schedules of a workflow ordered by next run.
func (s *Scheduler) Schedules(ctx context.Context, workflowID string) ([]*schema.ScheduledWorkflowRun, error) {
	return s.store.ListSchedules(ctx, workflowID)
}

// DeleteWorkflowSchedules removes every schedule of a workflow.
func (s *Scheduler) DeleteWorkflowSchedules(ctx context.Context, workflowID string) error {
	list, err := s.store.ListSchedules(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, sched := range list {
		if err := s.store.DeleteSchedule(ctx, sched.ID); err != nil && !schema.IsKind(err, schema.ErrNotFound) {
			return err
		}
	}
	return nil
}

// RunDueSchedules fires every due schedule once, sequentially. Run failures
// are logged and counted; only store errors are returned.
func (s *Scheduler) RunDueSchedules(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	due, err := s.store.ListDueSchedules(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due schedules: %w", err)
	}

	result := SweepResult{Due: len(due)}
	for _, sched := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !s.tryAcquire(sched.ID) {
			result.Skipped++
			continue // already firing (dedup)
		}
		fired, runErr, err := s.fire(ctx, sched)
		s.release(sched.ID)
		if err != nil {
			return result, err
		}
		switch {
		case !fired:
			result.Skipped++
		case runErr != nil:
			result.Failed++
		default:
			result.Fired++
		}
	}
	if result.Due > 0 {
		s.logger.InfoContext(ctx, "schedule sweep finished",
			slog.Int("due", result.Due),
			slog.Int("fired", result.Fired),
			slog.Int("failed", result.Failed),
			slog.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

// fire runs one schedule's workflow and advances or deletes the row. Rows of
// disabled or deleted workflows are left untouched. The row is re-read first:
// one that another sweep already fired (deleted or moved to a new next-run
// time) is skipped.
func (s *Scheduler) fire(ctx context.Context, listed *schema.ScheduledWorkflowRun) (fired bool, runErr error, err error) {
	logger := s.logger.With(slog.String("schedule_id", listed.ID), slog.String("workflow_id", listed.WorkflowID))

	sched, err := s.store.GetSchedule(ctx, listed.ID)
	if err != nil {
		if schema.IsKind(err, schema.ErrNotFound) {
			logger.DebugContext(ctx, "schedule already fired")
			return false, nil, nil
		}
		return false, nil, err
	}
	if !sched.NextRunAt.Equal(listed.NextRunAt) {
		logger.DebugContext(ctx, "schedule already advanced", slog.Time("next_run_at", sched.NextRunAt))
		return false, nil, nil
	}

	wf, err := s.store.GetWorkflow(ctx, sched.WorkflowID)
	if err != nil {
		if schema.IsKind(err, schema.ErrNotFound) {
			logger.WarnContext(ctx, "dropping schedule of unknown workflow")
			return false, nil, s.deleteSchedule(ctx, sched.ID)
		}
		return false, nil, err
	}
	if wf.Deleted || !wf.Enabled {
		logger.InfoContext(ctx, "skipping schedule of inactive workflow",
			slog.Bool("enabled", wf.Enabled), slog.Bool("deleted", wf.Deleted))
		return false, nil, nil
	}

	logger.InfoContext(ctx, "running scheduled workflow", slog.Time("next_run_at", sched.NextRunAt))
	res, runErr := s.runner.ExecuteWorkflow(ctx, sched.WorkflowID, sched.Payload())
	switch {
	case runErr != nil:
		logger.ErrorContext(ctx, "scheduled workflow execution failed", slog.String("error", runErr.Error()))
	case res != nil && res.Status == schema.RunStatusFailed:
		logger.WarnContext(ctx, "scheduled run failed", slog.String("run_id", res.RunID))
	}

	return true, runErr, s.advance(ctx, sched)
}

// advance moves a repeating schedule to its next occurrence, counted from
// the previous next-run time. Non-repeating schedules and schedules whose
// next occurrence falls after their end time are deleted.
func (s *Scheduler) advance(ctx context.Context, sched *schema.ScheduledWorkflowRun) error {
	if !sched.Repeat || sched.Interval <= 0 {
		return s.deleteSchedule(ctx, sched.ID)
	}
	next, err := NextOccurrence(sched.NextRunAt, sched.Interval, sched.IntervalUnit)
	if err != nil {
		return err
	}
	if sched.EndAt != nil && next.After(*sched.EndAt) {
		return s.deleteSchedule(ctx, sched.ID)
	}
	return s.store.UpdateScheduleNextRun(ctx, sched.ID, next)
}

func (s *Scheduler) deleteSchedule(ctx context.Context, id string) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil && !schema.IsKind(err, schema.ErrNotFound) {
		return err
	}
	return nil
}

// NextOccurrence adds interval units to from. Months and years follow
// time.AddDate normalization.
func NextOccurrence(from time.Time, interval int, unit schema.IntervalUnit) (time.Time, error) {
	switch unit {
	case schema.IntervalHours:
		return from.Add(time.Duration(interval) * time.Hour), nil
	case schema.IntervalDays:
		return from.AddDate(0, 0, interval), nil
	case schema.IntervalWeeks:
		return from.AddDate(0, 0, 7*interval), nil
	case schema.IntervalMonths:
		return from.AddDate(0, interval, 0), nil
	case schema.IntervalYears:
		return from.AddDate(interval, 0, 0), nil
	default:
		return time.Time{}, schema.NewErrorf(schema.ErrValidation, "unknown interval unit %q", unit)
	}
}

// tryAcquire returns true and marks the schedule as in-flight if it is not already firing.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Start runs one sweep immediately to catch up on missed schedules and then
// sweeps on the configured cron schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	s.cron = c

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.sweep(ctx)
	}()
	c.Start()
	s.logger.Info("scheduler started", slog.String("sweep_schedule", s.spec))
	return nil
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunDueSchedules(ctx); err != nil {
		s.logger.ErrorContext(ctx, "schedule sweep failed", slog.String("error", err.Error()))
	}
}

// Stop halts the cron and waits for running sweeps to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}
	<-s.cron.Stop().Done()
	s.initial.Wait()
	s.cron = nil

	s.logger.Info("scheduler stopped")
	return nil
}
