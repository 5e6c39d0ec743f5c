package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/compression"
	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/events"
	"github.com/skribblez2718/penny-sub000/internal/gateway"
	"github.com/skribblez2718/penny-sub000/internal/hooks"
	"github.com/skribblez2718/penny-sub000/internal/impasse"
	"github.com/skribblez2718/penny-sub000/internal/logging"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/remediation"
	"github.com/skribblez2718/penny-sub000/internal/resolver"
	"github.com/skribblez2718/penny-sub000/internal/secrets"
	"github.com/skribblez2718/penny-sub000/internal/sqlitestore"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
	"github.com/skribblez2718/penny-sub000/internal/telemetry"
)

// appOptions are the global flags shared by every command.
type appOptions struct {
	configPath   string
	workflowsDir string
	storeBackend string
	storePath    string
	logLevel     string

	// events enables NATS publication regardless of the config file.
	events bool

	// worker replaces the configured transport. Tests use it.
	worker gateway.Worker
}

// app holds the wired engine and everything that must be closed with it.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *phasegraph.Registry
	engine    *engine.Engine
	publisher *events.Publisher

	closers []io.Closer
}

// newApp loads configuration and wires the engine.
//
// Initialization order:
//  1. Configuration (defaults, file, PENNY_* env, flags)
//  2. Logger and telemetry
//  3. Workflow registry
//  4. Task and artifact stores
//  5. Worker gateway with scrubbing and bounds
//  6. Event publisher and lifecycle hooks (when configured)
//  7. Engine
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}
	success := false
	defer func() {
		if !success {
			_ = a.Close() //nolint:errcheck // cleanup in error path
		}
	}()

	a.logger, err = initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := a.telemetry.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded, continuing without export", zap.String("error", h.Error))
	}

	a.registry, err = loadRegistry(cfg.Workflows.Dir)
	if err != nil {
		return nil, err
	}

	tasks, artifacts, err := a.openStores(cfg.Store)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(cfg, opts.worker, a.logger)
	if err != nil {
		return nil, err
	}

	compressor, err := compression.New(compression.Config{
		Budget:           cfg.Compression.Budget,
		SummarySentences: cfg.Compression.SummarySentences,
	}, compression.WithStore(artifacts), compression.WithLogger(a.logger.Underlying()))
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithConflictReloads(cfg.Engine.ConflictReloads),
	}
	var sinks engine.MultiSink
	if cfg.Events.Enabled {
		a.publisher, err = events.Connect(cfg.Events, a.logger.Underlying())
		if err != nil {
			return nil, fmt.Errorf("failed to connect event bus: %w", err)
		}
		a.closers = append(a.closers, a.publisher)
		sinks = append(sinks, a.publisher)
	}
	if len(cfg.Hooks.Commands) > 0 {
		hm, err := hooks.FromConfig(cfg.Hooks, a.logger.Underlying())
		if err != nil {
			return nil, fmt.Errorf("failed to configure hooks: %w", err)
		}
		sinks = append(sinks, hm)
	}
	if len(sinks) > 0 {
		engineOpts = append(engineOpts, engine.WithEventSink(sinks))
	}

	a.engine, err = engine.New(engine.Deps{
		Registry:   a.registry,
		Tasks:      tasks,
		Artifacts:  artifacts,
		Gateway:    gw,
		Resolver:   resolver.New(artifacts, resolver.WithLogger(a.logger.Underlying())),
		Compressor: compressor,
		Monitor: impasse.New(impasse.Config{
			ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
			DuplicateThreshold:  cfg.Engine.DuplicateThreshold,
		}, a.logger.Underlying()),
		Dispatcher: remediation.NewDispatcher(cfg.Engine.RetryCeiling),
	}, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	a.logger.Debug(ctx, "engine ready",
		zap.Strings("workflows", a.registry.List()),
		zap.String("store", cfg.Store.Backend),
		zap.String("gateway", cfg.Gateway.Mode),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Int("hooks", len(cfg.Hooks.Commands)))

	success = true
	return a, nil
}

// Close releases stores, the event connection and telemetry.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
	return errors.Join(errs...)
}

func applyFlags(cfg *config.Config, opts appOptions) {
	if opts.workflowsDir != "" {
		cfg.Workflows.Dir = opts.workflowsDir
	}
	if opts.storeBackend != "" {
		cfg.Store.Backend = opts.storeBackend
	}
	if opts.storePath != "" {
		cfg.Store.Path = opts.storePath
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.events {
		cfg.Events.Enabled = true
	}
}

// initLogger builds the structured logger. Console output goes to stderr so
// stdout stays free for command output and the MCP transport.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lc.Output.Stderr = true
	return logging.NewLogger(lc, nil)
}

// loadRegistry registers every definition in dir. A missing directory
// yields an empty registry.
func loadRegistry(dir string) (*phasegraph.Registry, error) {
	reg := phasegraph.NewRegistry()
	path, err := config.ExpandPath(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return reg, nil
	}
	if err := reg.LoadDir(path); err != nil {
		return nil, fmt.Errorf("failed to load workflows from %s: %w", path, err)
	}
	return reg, nil
}

func (a *app) openStores(sc config.StoreConfig) (taskstate.Store, artifact.Store, error) {
	if sc.Backend == "memory" {
		return taskstate.NewMemoryStore(), artifact.NewMemoryStore(), nil
	}

	root, err := config.ExpandPath(sc.Path)
	if err != nil {
		return nil, nil, err
	}

	switch sc.Backend {
	case "sqlite":
		db, err := sqlitestore.Open(filepath.Join(root, "penny.db"), sqlitestore.WithLogger(a.logger.Underlying()))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.closers = append(a.closers, db)
		return db, db.Artifacts(), nil
	default:
		tasks, err := taskstate.NewFileStore(filepath.Join(root, "tasks"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open task store: %w", err)
		}
		a.closers = append(a.closers, tasks)
		artifacts, err := artifact.NewFileStore(filepath.Join(root, "artifacts"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open artifact store: %w", err)
		}
		return tasks, artifacts, nil
	}
}

func newGateway(cfg *config.Config, worker gateway.Worker, logger *logging.Logger) (*gateway.Gateway, error) {
	if worker == nil {
		w, err := gateway.WorkerFromConfig(cfg.Gateway)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker transport: %w", err)
		}
		worker = w
	}

	scrubber, err := secrets.New(secrets.FromSettings(cfg.Secrets))
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	gw, err := gateway.New(worker,
		gateway.WithTimeout(cfg.Gateway.Timeout.Duration()),
		gateway.WithBounds(artifact.Bounds{
			Min: cfg.Artifact.QuadrantMinTokens,
			Max: cfg.Artifact.QuadrantMaxTokens,
		}),
		gateway.WithScrubber(scrubber),
		gateway.WithLogger(logger.Underlying()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	return gw, nil
}
