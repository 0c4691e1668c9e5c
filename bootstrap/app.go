package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"entitycore/api"
	"entitycore/config"
	"entitycore/core"
	"entitycore/service"
	"entitycore/storage"
	"entitycore/util/goroutine"

	"go.uber.org/zap"
)

// App holds all application components.
type App struct {
	Config   *config.Config
	Manifest *config.Manifest
	Logger   *zap.Logger
	Sugar    *zap.SugaredLogger

	IDs          *core.IdentifierRegistry
	Engine       *core.TransitionEngine
	Invalidation *core.InvalidationRegistry
	Cache        core.QueryCache
	Breaker      *core.CircuitBreaker
	Store        storage.EntityStore
	Service      *service.EntityServiceImpl
	API          *api.API

	cancel    context.CancelFunc
	serviceWg sync.WaitGroup
}

// NewApp wires every component described by cfg and manifest. Nothing runs
// in the background until Start is called. On error, everything opened so
// far is closed again.
func NewApp(ctx context.Context, cfg *config.Config, manifest *config.Manifest, logger *zap.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if manifest == nil {
		manifest = config.DefaultManifest()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	ctx, cancel := context.WithCancel(ctx)
	app := &App{
		Config:   cfg,
		Manifest: manifest,
		Logger:   logger,
		Sugar:    sugar,
		cancel:   cancel,
	}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	app.Engine, err = InitEngine(cfg, manifest, sugar)
	if err != nil {
		return nil, err
	}

	app.IDs, err = InitIdentifiers(cfg, manifest, sugar)
	if err != nil {
		return nil, err
	}

	app.Cache, err = InitCache(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Breaker, err = InitBreaker(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize circuit breaker: %w", err)
	}

	app.Invalidation = core.NewInvalidationRegistry(ctx,
		core.NewBreakingEvictor(app.Cache, app.Breaker),
		core.InvalidationConfig{
			Workers:       cfg.Invalidation.Workers,
			QueueSize:     cfg.Invalidation.QueueSize,
			EvictTimeout:  cfg.Invalidation.EvictTimeout,
			SubmitTimeout: cfg.Invalidation.SubmitTimeout,
		}, sugar)
	RegisterTriggers(app.Invalidation, manifest)

	app.Store, err = InitStore(cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Service = service.NewEntityService(app.IDs, app.Engine, app.Invalidation, app.Store, app.Cache, cfg.Cache.TTL, sugar)
	for _, es := range manifest.Entities {
		if es.Machine == "" {
			continue
		}
		if err := app.Service.BindEntityType(es.Type, es.Machine); err != nil {
			return nil, err
		}
	}

	if cfg.API.Enabled {
		app.API = api.NewAPI(app.Service, app.Engine, app.Breaker, cfg, sugar)
	}

	if unresolved := app.Invalidation.Unresolved(); len(unresolved) > 0 {
		sugar.Warnw("Some cache triggers have no entity type and will never be flushed",
			"count", len(unresolved))
	}
	sugar.Infow("entitycore initialized",
		"machines", len(app.Engine.Keys()),
		"entity_types", len(app.IDs.Entries()),
		"triggers", len(app.Invalidation.Triggers()))

	return app, nil
}

// InitEngine registers the built-in lifecycles and every machine declared in
// the manifest.
func InitEngine(cfg *config.Config, manifest *config.Manifest, sugar *zap.SugaredLogger) (*core.TransitionEngine, error) {
	engine := core.NewTransitionEngine(cfg.Transitions.Strict, sugar)

	defs := append(core.BuiltinLifecycles(), manifest.MachineDefinitions()...)
	for _, def := range defs {
		m, err := core.NewMachine(def, core.WithMachineLogger(sugar))
		if err != nil {
			return nil, fmt.Errorf("failed to build machine %s: %w", def.Key, err)
		}
		if err := engine.Register(m); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// InitIdentifiers registers one ID generator per manifest entity. A pair that
// is already fully registered is skipped; a half-registered pair fails.
func InitIdentifiers(cfg *config.Config, manifest *config.Manifest, sugar *zap.SugaredLogger) (*core.IdentifierRegistry, error) {
	ids := core.NewIdentifierRegistry(cfg.Identifiers.SequenceWidth, cfg.Identifiers.Seed, sugar)
	for _, es := range manifest.Entities {
		if ids.Exists(es.Prefix, es.Type) {
			continue
		}
		if err := ids.Register(es.Prefix, es.Type); err != nil {
			return nil, fmt.Errorf("failed to register identifier prefix: %w", err)
		}
	}
	return ids, nil
}

// RegisterTriggers records the manifest's cache dependencies, per entity
// first and then the standalone entries.
func RegisterTriggers(registry *core.InvalidationRegistry, manifest *config.Manifest) {
	for _, es := range manifest.Entities {
		for _, name := range es.Triggers {
			registry.RegisterTrigger(es.Type, name)
		}
	}
	for _, ts := range manifest.Triggers {
		registry.RegisterTrigger(ts.EntityType, ts.Name)
	}
}

// Start starts all background services.
func (a *App) Start() error {
	if err := a.Invalidation.Start(); err != nil {
		return fmt.Errorf("failed to start invalidation workers: %w", err)
	}
	a.Sugar.Info("Invalidation workers started")

	if a.API != nil {
		ln, err := net.Listen("tcp", a.Config.API.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.Config.API.Addr, err)
		}
		a.serviceWg.Add(1)
		goroutine.Go("api-server", a.Sugar, func() {
			defer a.serviceWg.Done()
			if err := a.API.Serve(ln); err != nil {
				a.Sugar.Errorw("API server stopped", "error", err)
			}
		})
	}
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received or ctx is done.
func (a *App) WaitForShutdown(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case <-c:
	case <-ctx.Done():
	}
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")
	a.close()
	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

// close releases components in reverse order of construction. Pending
// flushes drain before the cache they evict from is closed.
func (a *App) close() {
	if a.API != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.API.ShutdownTimeout)
		if err := a.API.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
		a.serviceWg.Wait()
	}
	if a.Invalidation != nil {
		a.Invalidation.Stop()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Errorw("Failed to close entity store", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Sugar.Errorw("Failed to close query cache", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
}
