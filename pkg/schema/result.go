package schema

// ActionResult is what every action implementation returns.
type ActionResult struct {
	StepID string       `json:"step_id,omitempty"`
	Status StepStatus   `json:"status"`
	Data   any          `json:"data,omitempty"`
	Error  *ActionError `json:"error,omitempty"`
}

// Completed builds a successful result.
func Completed(data any) ActionResult {
	return ActionResult{Status: StepStatusCompleted, Data: data}
}

// Failed builds a failed result from a kind and message.
func Failed(kind ErrorKind, message string, data any) ActionResult {
	return ActionResult{
		Status: StepStatusFailed,
		Error:  &ActionError{Message: message, Type: kind, Data: data},
	}
}

// FailedFrom builds a failed result from an error.
func FailedFrom(err error) ActionResult {
	return ActionResult{Status: StepStatusFailed, Error: ToActionError(err)}
}

// IsFailed reports whether the result failed.
func (r ActionResult) IsFailed() bool {
	return r.Status == StepStatusFailed
}

// RunResult is returned by workflow execution.
type RunResult struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	Status     RunStatus      `json:"status"`
	Steps      []ActionResult `json:"steps,omitempty"`
	Error      *ActionError   `json:"error,omitempty"`
}
