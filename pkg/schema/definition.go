package schema

import "encoding/json"

// Parameter describes one input of an action or trigger definition.
type Parameter struct {
	Key        string          `json:"parameterKey" yaml:"parameterKey"`
	Title      string          `json:"title" yaml:"title"`
	DataType   DataType        `json:"dataType" yaml:"dataType"`
	InputType  string          `json:"inputType,omitempty" yaml:"inputType,omitempty"`
	Required   bool            `json:"required" yaml:"required"`
	ShowIf     string          `json:"showIf,omitempty" yaml:"showIf,omitempty"`
	Default    any             `json:"default,omitempty" yaml:"default,omitempty"`
	Validation json.RawMessage `json:"validation,omitempty" yaml:"-"`
}

// Output describes one value an action produces.
type Output struct {
	Key      string   `json:"outputKey" yaml:"outputKey"`
	Title    string   `json:"title" yaml:"title"`
	DataType DataType `json:"dataType" yaml:"dataType"`
}

// ActionDefinition is the catalog entry an ActionStep points at.
type ActionDefinition struct {
	ID             string      `json:"id" yaml:"id"`
	ActionKey      string      `json:"actionKey" yaml:"actionKey"`
	CategoryKey    string      `json:"categoryKey" yaml:"categoryKey"`
	Title          string      `json:"title" yaml:"title"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters     []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Outputs        []Output    `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	ProviderBacked bool        `json:"isProviderBacked,omitempty" yaml:"isProviderBacked,omitempty"`
}

// TriggerDefinition is the catalog entry a TriggerStep points at.
type TriggerDefinition struct {
	ID          string      `json:"id" yaml:"id"`
	TriggerKey  string      `json:"triggerKey" yaml:"triggerKey"`
	CategoryKey string      `json:"categoryKey" yaml:"categoryKey"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Outputs     []Output    `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Built-in trigger keys.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)
