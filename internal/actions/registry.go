package actions

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/stepflow/pkg/schema"
)

// Registry maps action keys to built-in implementations. It is built once
// from an explicit list and never mutated afterwards, so it is safe for
// concurrent use without locking.
type Registry struct {
	actions map[string]Action
	keys    []string
}

// NewRegistry indexes actions by their definition's action key. Empty and
// duplicate keys are rejected.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{actions: make(map[string]Action, len(actions))}
	for i, a := range actions {
		if a == nil {
			return nil, schema.NewErrorf(schema.ErrValidation, "action at index %d is nil", i)
		}
		key := a.Definition().ActionKey
		if key == "" {
			return nil, schema.NewErrorf(schema.ErrValidation, "action at index %d has an empty key", i)
		}
		if _, exists := r.actions[key]; exists {
			return nil, schema.NewErrorf(schema.ErrValidation, "action %q already registered", key)
		}
		r.actions[key] = a
		r.keys = append(r.keys, key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// Get retrieves an action by key.
func (r *Registry) Get(key string) (Action, error) {
	a, ok := r.actions[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrUnknownAction, "action %q not registered", key)
	}
	return a, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.actions[key]
	return ok
}

// Keys returns the registered action keys, sorted.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Definitions returns the definitions of all registered actions, sorted by key.
func (r *Registry) Definitions() []schema.ActionDefinition {
	defs := make([]schema.ActionDefinition, 0, len(r.keys))
	for _, key := range r.keys {
		defs = append(defs, r.actions[key].Definition())
	}
	return defs
}

// Invoke runs the action registered under key. An unregistered key yields
// an unknown_action result; a panic inside the action yields unknown_error.
func (r *Registry) Invoke(ctx context.Context, key string, inv Invocation) (result schema.ActionResult) {
	a, err := r.Get(key)
	if err != nil {
		return schema.FailedFrom(err)
	}
	defer func() {
		if p := recover(); p != nil {
			inv.logger().Error("action panicked", "action", key, "step_id", inv.StepID, "panic", p)
			result = schema.Failed(schema.ErrUnknown, fmt.Sprintf("action %q panicked: %v", key, p), nil)
		}
	}()
	return a.Execute(ctx, inv)
}
