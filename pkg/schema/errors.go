package schema

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so they can be persisted alongside run data.
type ErrorKind string

// Error kinds surfaced by the engine. The first group is part of the
// persisted run contract; the second group is internal plumbing.
const (
	ErrActionStepNotFound       ErrorKind = "action_step_not_found"
	ErrActionDefinitionNotFound ErrorKind = "action_definition_not_found"
	ErrConnectionNotFound       ErrorKind = "connection_not_found"
	ErrUnknownAction            ErrorKind = "unknown_action"
	ErrUnknown                  ErrorKind = "unknown_error"
	ErrScheduleInPast           ErrorKind = "ScheduleInPast"
	ErrConfigurationMissing     ErrorKind = "ConfigurationMissing"

	ErrNotFound          ErrorKind = "not_found"
	ErrValidation        ErrorKind = "validation_error"
	ErrStore             ErrorKind = "store_error"
	ErrInvalidTransition ErrorKind = "invalid_transition"
	ErrInvalidTree       ErrorKind = "invalid_tree"
	ErrInvalidParameters ErrorKind = "invalid_parameters"
	ErrProvider          ErrorKind = "provider_error"
	ErrLoopLimitExceeded ErrorKind = "loop_limit_exceeded"
	ErrExpression        ErrorKind = "expression_error"
)

// FlowError is the structured error type returned across package boundaries.
type FlowError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	StepID  string    `json:"step_id,omitempty"`
	Data    any       `json:"data,omitempty"`
	Cause   error     `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Kind, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(kind ErrorKind, message string) *FlowError {
	return &FlowError{Kind: kind, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(kind ErrorKind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithData attaches arbitrary error data.
func (e *FlowError) WithData(data any) *FlowError {
	e.Data = data
	return e
}

// ActionError returns the persisted form of the error.
func (e *FlowError) ActionError() *ActionError {
	return &ActionError{Message: e.Message, Type: e.Kind, Data: e.Data}
}

// KindOf returns the kind of err if it is (or wraps) a FlowError, or
// ErrUnknown otherwise.
func KindOf(err error) ErrorKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrUnknown
}

// IsKind reports whether err is a FlowError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ActionError is the serializable error attached to an ActionResult and to a
// failed WorkflowRun.
type ActionError struct {
	Message string    `json:"errorMessage"`
	Type    ErrorKind `json:"errorType"`
	Data    any       `json:"errorData,omitempty"`
}

// ToActionError converts any error into its persisted form.
func ToActionError(err error) *ActionError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.ActionError()
	}
	return &ActionError{Message: err.Error(), Type: ErrUnknown}
}
