package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/catalog"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/provider"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/internal/workflows"
	"github.com/rendis/stepflow/pkg/mcp"
)

// app holds the wired components shared by the commands.
type app struct {
	logger    *slog.Logger
	store     store.Store
	hub       *streaming.MemoryHub
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	workflows *workflows.Service
	close     func() error
}

// openStore opens the configured store and applies pending migrations.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, func() error, error) {
	if cfg.DBPath == memoryDBPath {
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
	s, err := store.NewLibSQLStore(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return s, s.Close, nil
}

// loadCatalog merges the configured catalog file with the built-in triggers
// and the registry's built-in action definitions.
func loadCatalog(cfg Config, registry *actions.Registry) (*catalog.MemoryCatalog, error) {
	defs := catalog.Definitions{
		Actions:  registry.Definitions(),
		Triggers: catalog.BuiltinTriggers(),
	}
	if cfg.CatalogPath != "" {
		fromFile, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		defs = defs.Merge(fromFile)
	}
	return catalog.NewMemoryCatalog(defs)
}

// newProvider returns the external action provider, or nil when no base url
// is configured.
func newProvider(cfg Config) (provider.Provider, error) {
	if cfg.Provider.BaseURL == "" {
		return nil, nil
	}
	httpProvider, err := provider.NewHTTPProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return provider.NewBreaker(httpProvider, cfg.Breaker), nil
}

func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logOut, cfg.LogLevel)

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*app, error) {
		_ = closeStore()
		return nil, err
	}

	registry, err := actions.NewBuiltinRegistry(actions.BuiltinConfig{MaxLoopIterations: cfg.MaxLoopIterations})
	if err != nil {
		return fail(err)
	}
	cat, err := loadCatalog(cfg, registry)
	if err != nil {
		return fail(err)
	}
	validator, err := validation.NewParameterValidator()
	if err != nil {
		return fail(err)
	}
	prov, err := newProvider(cfg)
	if err != nil {
		return fail(err)
	}

	hub := streaming.NewMemoryHub()
	eng, err := engine.New(engine.Deps{
		Store:     st,
		Catalog:   cat,
		Registry:  registry,
		Provider:  prov,
		Validator: validator,
		Hub:       hub,
		Logger:    logger,
	}, engine.Config{MaxDepth: cfg.MaxDepth})
	if err != nil {
		return fail(err)
	}
	sched, err := scheduler.New(st, eng, logger, scheduler.Config{SweepSchedule: cfg.SweepSchedule})
	if err != nil {
		return fail(err)
	}
	svc := workflows.NewService(workflows.Deps{
		Store:     st,
		Catalog:   cat,
		Schedules: sched,
		Validator: validator,
		Logger:    logger,
	})

	return &app{
		logger:    logger,
		store:     st,
		hub:       hub,
		engine:    eng,
		scheduler: sched,
		workflows: svc,
		close:     closeStore,
	}, nil
}

func (a *app) mcpServer() *mcp.StepflowServer {
	return mcp.NewStepflowServer(mcp.ServerDeps{
		Runner:    a.engine,
		Workflows: a.workflows,
		Scheduler: a.scheduler,
		Store:     a.store,
		Hub:       a.hub,
		Logger:    a.logger,
	})
}
