// Package catalog serves action and trigger definitions to the engine.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	goyaml "gopkg.in/yaml.v3"

	"github.com/rendis/stepflow/pkg/schema"
)

// Catalog is the read-only definition lookup the engine depends on.
type Catalog interface {
	ActionDefinition(ctx context.Context, id string) (*schema.ActionDefinition, error)
	TriggerDefinition(ctx context.Context, id string) (*schema.TriggerDefinition, error)
}

// Definitions is the on-disk shape of a catalog file.
type Definitions struct {
	Actions  []schema.ActionDefinition  `json:"actions,omitempty" yaml:"actions,omitempty"`
	Triggers []schema.TriggerDefinition `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// Merge returns d followed by other.
func (d Definitions) Merge(other Definitions) Definitions {
	return Definitions{
		Actions:  append(append([]schema.ActionDefinition(nil), d.Actions...), other.Actions...),
		Triggers: append(append([]schema.TriggerDefinition(nil), d.Triggers...), other.Triggers...),
	}
}

// LoadFile reads a YAML catalog file. The document is normalised through
// JSON so nested validation schemas keep their JSON form.
func LoadFile(path string) (Definitions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("error reading catalog file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML (or JSON) catalog document.
func Parse(raw []byte) (Definitions, error) {
	var generic any
	if err := goyaml.Unmarshal(raw, &generic); err != nil {
		return Definitions{}, fmt.Errorf("error unmarshalling catalog YAML: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return Definitions{}, fmt.Errorf("error normalising catalog: %w", err)
	}
	var defs Definitions
	if err := json.Unmarshal(asJSON, &defs); err != nil {
		return Definitions{}, fmt.Errorf("error decoding catalog: %w", err)
	}
	return defs, nil
}

// BuiltinTriggers returns the manual and schedule trigger definitions.
func BuiltinTriggers() []schema.TriggerDefinition {
	return []schema.TriggerDefinition{
		{
			ID:          schema.TriggerManual,
			TriggerKey:  schema.TriggerManual,
			CategoryKey: "core",
			Title:       "Manual",
			Description: "Runs the workflow when it is started by hand or through the API.",
		},
		{
			ID:          schema.TriggerSchedule,
			TriggerKey:  schema.TriggerSchedule,
			CategoryKey: "core",
			Title:       "Schedule",
			Description: "Runs the workflow at a start time, optionally repeating at an interval.",
			Parameters: []schema.Parameter{
				{Key: "startDateTime", Title: "Start", DataType: schema.DataTypeDateTime, Required: true},
				{Key: "repeat", Title: "Repeat", DataType: schema.DataTypeBoolean, Default: false},
				{Key: "endDateTime", Title: "End", DataType: schema.DataTypeDateTime, ShowIf: "has(params.repeat) && params.repeat == true"},
				{Key: "interval", Title: "Every", DataType: schema.DataTypeNumber, ShowIf: "has(params.repeat) && params.repeat == true",
					Validation: json.RawMessage(`{"type":"integer","minimum":1}`)},
				{Key: "intervalUnit", Title: "Unit", DataType: schema.DataTypeString, ShowIf: "has(params.repeat) && params.repeat == true",
					Validation: json.RawMessage(`{"enum":["hours","days","weeks","months","years"]}`)},
			},
		},
	}
}

// MemoryCatalog is an immutable in-memory Catalog.
type MemoryCatalog struct {
	actions  map[string]*schema.ActionDefinition
	triggers map[string]*schema.TriggerDefinition
}

// NewMemoryCatalog indexes defs by id. Duplicate ids are rejected.
func NewMemoryCatalog(defs Definitions) (*MemoryCatalog, error) {
	c := &MemoryCatalog{
		actions:  make(map[string]*schema.ActionDefinition, len(defs.Actions)),
		triggers: make(map[string]*schema.TriggerDefinition, len(defs.Triggers)),
	}
	for i := range defs.Actions {
		def := defs.Actions[i]
		if def.ID == "" {
			def.ID = def.ActionKey
		}
		if def.ID == "" {
			return nil, schema.NewErrorf(schema.ErrValidation, "action definition at index %d has no id", i)
		}
		if _, exists := c.actions[def.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrValidation, "duplicate action definition %q", def.ID)
		}
		c.actions[def.ID] = &def
	}
	for i := range defs.Triggers {
		def := defs.Triggers[i]
		if def.ID == "" {
			def.ID = def.TriggerKey
		}
		if def.ID == "" {
			return nil, schema.NewErrorf(schema.ErrValidation, "trigger definition at index %d has no id", i)
		}
		if _, exists := c.triggers[def.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrValidation, "duplicate trigger definition %q", def.ID)
		}
		c.triggers[def.ID] = &def
	}
	return c, nil
}

// ActionDefinition returns the action definition with the given id.
func (c *MemoryCatalog) ActionDefinition(_ context.Context, id string) (*schema.ActionDefinition, error) {
	def, ok := c.actions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrActionDefinitionNotFound, "action definition %q not found", id)
	}
	cp := *def
	return &cp, nil
}

// TriggerDefinition returns the trigger definition with the given id.
func (c *MemoryCatalog) TriggerDefinition(_ context.Context, id string) (*schema.TriggerDefinition, error) {
	def, ok := c.triggers[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrNotFound, "trigger definition %q not found", id)
	}
	cp := *def
	return &cp, nil
}

// Actions lists action definitions sorted by id.
func (c *MemoryCatalog) Actions() []schema.ActionDefinition {
	out := make([]schema.ActionDefinition, 0, len(c.actions))
	for _, def := range c.actions {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ Catalog = (*MemoryCatalog)(nil)
