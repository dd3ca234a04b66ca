// Package diagram renders a workflow's step tree as Mermaid or plain text,
// optionally overlaid with the step statuses of one run.
package diagram

// NodeKind classifies a diagram node by the step it stands for.
type NodeKind string

const (
	NodeKindTrigger     NodeKind = "trigger"
	NodeKindAction      NodeKind = "action"
	NodeKindConditional NodeKind = "conditional"
	NodeKindLoop        NodeKind = "loop"
)

// Model is the intermediate representation used by all renderers. Nodes is
// the root sequence in execution order.
type Model struct {
	Title   string
	Trigger *Node
	Nodes   []*Node
}

// Node represents a single step in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // one per child container, sorted by key
}

// SubGraph holds the ordered steps of one child container.
type SubGraph struct {
	Label string
	Nodes []*Node
}

// StatusOverlay carries the recorded state of a step in one run.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	Executions int
	DurationMs int64
	Error      string
}
