// Package engine executes workflow runs: it walks a configuration's step
// tree, dispatches each step to a built-in action or the external provider,
// and records outputs, variables and logs.
package engine

import (
	"log/slog"
	"time"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/catalog"
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/provider"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultMaxDepth bounds how deeply control-flow actions may nest
// ExecuteMultipleActions calls.
const DefaultMaxDepth = 64

// Config holds engine settings.
type Config struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// Deps are the collaborators of an Engine. Store, Catalog and Registry are
// required. A nil Provider fails provider-backed steps, a nil Validator
// skips parameter validation and a nil Hub drops events.
type Deps struct {
	Store     store.Store
	Catalog   catalog.Catalog
	Registry  *actions.Registry
	Provider  provider.Provider
	Validator validation.Validator
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Engine is the step tree executor and action dispatcher. It is safe for
// concurrent use by different runs; steps of one run execute sequentially.
type Engine struct {
	store     store.Store
	catalog   catalog.Catalog
	registry  *actions.Registry
	provider  provider.Provider
	validator validation.Validator
	resolver  *expressions.Resolver
	recorder  *Recorder
	fsm       *RunFSM
	events    publisher
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// New creates an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.Registry == nil {
		return nil, schema.NewError(schema.ErrValidation, "engine requires a store, a catalog and an action registry")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	events := publisher{hub: deps.Hub, logger: logger}
	fsm := newRunFSM(events)
	e := &Engine{
		store:     deps.Store,
		catalog:   deps.Catalog,
		registry:  deps.Registry,
		provider:  deps.Provider,
		validator: deps.Validator,
		resolver:  expressions.NewResolver(deps.Store, logger),
		fsm:       fsm,
		events:    events,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	e.recorder = newRecorder(deps.Store, fsm, events, func() time.Time { return e.now() })
	return e, nil
}

// FSM exposes the run state machine so callers can attach hooks.
func (e *Engine) FSM() *RunFSM { return e.fsm }

// Recorder exposes the run recorder.
func (e *Engine) Recorder() *Recorder { return e.recorder }

var (
	_ actions.StepRunner       = (*Engine)(nil)
	_ actions.EventEmitter     = (*Engine)(nil)
	_ actions.VariableRecorder = (*Recorder)(nil)
)
