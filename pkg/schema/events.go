package schema

// Run lifecycle event types published while a workflow executes.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"

	EventStepStarted  = "step.started"
	EventStepFinished = "step.finished"

	EventVariableSet = "variable.set"

	EventConditionEvaluated = "condition.evaluated"
	EventLoopIteration      = "loop.iteration"
)
