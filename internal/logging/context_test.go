package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", WorkflowID(ctx))
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", StepID(ctx))

	ctx = WithStepID(WithRun(ctx, "wf-1", "run-1"), "step-1")
	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "step-1", StepID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithStepID(WithRun(context.Background(), "wf-abc", "run-9"), "step-x")
	LogWith(ctx, logger).Info("test message")

	out := buf.String()
	assert.Contains(t, out, "workflow_id=wf-abc")
	assert.Contains(t, out, "run_id=run-9")
	assert.Contains(t, out, "step_id=step-x")
}

func TestLogWith_OnlyPresentKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(WithWorkflowID(context.Background(), "wf-only"), logger).Info("partial")

	out := buf.String()
	assert.Contains(t, out, "workflow_id=wf-only")
	assert.NotContains(t, out, "run_id")
	assert.NotContains(t, out, "step_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")

	logger.InfoContext(WithRun(context.Background(), "wf-auto", "run-auto"), "auto inject")
	out := buf.String()
	assert.Contains(t, out, `"workflow_id":"wf-auto"`)
	assert.Contains(t, out, `"run_id":"run-auto"`)
	assert.NotContains(t, out, "step_id")

	buf.Reset()
	logger.InfoContext(context.Background(), "bare")
	assert.NotContains(t, buf.String(), "workflow_id")
}

func TestCorrelationHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}).WithGroup("g"))

	logger.InfoContext(WithRunID(context.Background(), "run-attr"), "with attrs", "k", "v")
	out := buf.String()
	assert.Contains(t, out, `"component":"engine"`)
	assert.Contains(t, out, "run-attr")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
