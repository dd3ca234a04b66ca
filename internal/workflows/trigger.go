package workflows

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// SetTrigger replaces the trigger of a workflow's current configuration.
// A schedule trigger registers a schedule built from its parameters; the
// workflow's previous schedules are removed only after the new one is
// accepted, so a rejected start time (ScheduleInPast) changes nothing.
func (s *Service) SetTrigger(ctx context.Context, workflowID, definitionID string, params schema.Parameters) (*schema.TriggerStep, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	wf, cfg, err := s.editable(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	def, err := s.catalog.TriggerDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if s.validator != nil {
		meta := map[string]any{"workflowId": wf.ID, "configurationId": cfg.ID}
		params, err = s.validator.ValidateParameters(ctx, def.Parameters, params, meta, nil)
		if err != nil {
			return nil, err
		}
	}

	var previous []*schema.ScheduledWorkflowRun
	if s.schedules != nil {
		if previous, err = s.schedules.Schedules(ctx, wf.ID); err != nil {
			return nil, err
		}
	}

	var created *schema.ScheduledWorkflowRun
	if def.TriggerKey == schema.TriggerSchedule {
		if s.schedules == nil {
			return nil, schema.NewError(schema.ErrConfigurationMissing, "schedule triggers need a scheduler")
		}
		req, err := scheduleRequest(wf.ID, params)
		if err != nil {
			return nil, err
		}
		if created, err = s.schedules.CreateSchedule(ctx, req); err != nil {
			return nil, err
		}
	}

	step := &schema.TriggerStep{
		ID:              uuid.NewString(),
		ConfigurationID: cfg.ID,
		DefinitionID:    def.ID,
		Parameters:      params.Clone(),
	}
	if err := s.store.CreateTriggerStep(ctx, step); err != nil {
		return nil, err
	}
	if err := s.store.UpdateConfiguration(ctx, cfg.ID, store.ConfigurationUpdate{TriggerStepID: &step.ID}); err != nil {
		return nil, err
	}
	if cfg.HasTrigger() {
		if err := s.store.DeleteTriggerStep(ctx, cfg.TriggerStepID); err != nil && !schema.IsKind(err, schema.ErrNotFound) {
			return nil, err
		}
	}
	for _, old := range previous {
		if err := s.store.DeleteSchedule(ctx, old.ID); err != nil && !schema.IsKind(err, schema.ErrNotFound) {
			return nil, err
		}
	}

	attrs := []any{slog.String("workflow_id", wf.ID), slog.String("trigger", def.TriggerKey)}
	if created != nil {
		attrs = append(attrs, slog.String("schedule_id", created.ID))
	}
	s.logger.InfoContext(ctx, "trigger set", attrs...)
	return step, nil
}

// scheduleRequest reads the schedule trigger parameters. Date times may be
// datetime values or RFC 3339 strings.
func scheduleRequest(workflowID string, params schema.Parameters) (scheduler.Request, error) {
	req := scheduler.Request{WorkflowID: workflowID}

	start, ok, err := timeParam(params, "startDateTime")
	if err != nil {
		return req, err
	}
	if !ok {
		return req, schema.NewError(schema.ErrInvalidParameters, "startDateTime is required")
	}
	req.StartAt = start

	if v, ok := params.Get("repeat"); ok {
		if b, err := schema.Coerce(schema.DataTypeBoolean, v); err == nil {
			req.Repeat, _ = b.AsBool()
		} else {
			req.Repeat = v.Truthy()
		}
	}
	if !req.Repeat {
		return req, nil
	}

	end, ok, err := timeParam(params, "endDateTime")
	if err != nil {
		return req, err
	}
	if ok {
		req.EndAt = &end
	}
	if v, ok := params.Get("interval"); ok {
		n, err := schema.Coerce(schema.DataTypeNumber, v)
		if err != nil {
			return req, schema.NewError(schema.ErrInvalidParameters, "interval must be a number").WithCause(err)
		}
		f, _ := n.AsNumber()
		if f != math.Trunc(f) {
			return req, schema.NewErrorf(schema.ErrInvalidParameters, "interval must be a whole number, got %v", f)
		}
		req.Interval = int(f)
	}
	req.IntervalUnit = schema.IntervalUnit(params.String("intervalUnit"))
	return req, nil
}

func timeParam(params schema.Parameters, key string) (time.Time, bool, error) {
	v, ok := params.Get(key)
	if !ok || v.IsNull() {
		return time.Time{}, false, nil
	}
	if s, isStr := v.AsString(); isStr && s == "" {
		return time.Time{}, false, nil
	}
	dt, err := schema.Coerce(schema.DataTypeDateTime, v)
	if err != nil {
		return time.Time{}, false, schema.NewErrorf(schema.ErrInvalidParameters, "%s must be an RFC 3339 date time", key).WithCause(err)
	}
	t, _ := dt.AsDateTime()
	return t, true, nil
}
