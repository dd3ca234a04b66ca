package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single validation problem located by parameter path.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Kind     ErrorKind          `json:"kind"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues found while validating parameters.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path string, kind ErrorKind, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Kind: kind, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path string, kind ErrorKind, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Kind: kind, Message: message, Severity: SeverityWarning,
	})
}

// ToError converts the result to an invalid_parameters FlowError, or nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Path + ": " + r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("parameter validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrInvalidParameters, msg).
		WithData(map[string]any{
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}
