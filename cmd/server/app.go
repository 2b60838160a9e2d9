package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/tunesmith-api/internal/api"
	"github.com/phrazzld/tunesmith-api/internal/config"
	"github.com/phrazzld/tunesmith-api/internal/events"
	"github.com/phrazzld/tunesmith-api/internal/generation"
	"github.com/phrazzld/tunesmith-api/internal/platform/metrics"
	"github.com/phrazzld/tunesmith-api/internal/platform/postgres"
	"github.com/phrazzld/tunesmith-api/internal/platform/provider"
	"github.com/phrazzld/tunesmith-api/internal/service"
	"github.com/phrazzld/tunesmith-api/internal/store"
	"github.com/phrazzld/tunesmith-api/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config

	logger  *slog.Logger
	db      *sql.DB
	health  api.Pinger
	metrics *metrics.Metrics

	jobStore store.JobStore
	provider generation.Provider

	slots        *task.SlotManager
	queue        *task.TaskQueue
	pool         *task.WorkerPool
	orchestrator *service.Orchestrator
	events       *events.InMemoryEventEmitter
}

// newApplication wires the Postgres store and the HTTP provider client into
// a new application.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	jobs := postgres.NewPostgresJobStore(db, logger)

	client, err := provider.NewClient(logger, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider client: %w", err)
	}
	logger.Info("provider client initialized", "timeout", cfg.Provider.Timeout.String())

	app, err := buildApplication(cfg, logger, jobs, client)
	if err != nil {
		return nil, err
	}
	app.db = db
	app.health = db
	return app, nil
}

// buildApplication assembles the job pipeline around an existing store and
// provider. Nothing is started until Run or start is called.
func buildApplication(
	cfg *config.Config,
	logger *slog.Logger,
	jobs store.JobStore,
	prov generation.Provider,
) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		metrics:  metrics.New(),
		jobStore: jobs,
		provider: prov,
	}

	var err error
	app.slots, err = task.NewSlotManager(cfg.Jobs.MaxConcurrent, app.metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create slot manager: %w", err)
	}

	// Every queued task already holds a slot, so capacity bounds the queue.
	app.queue = task.NewTaskQueue(cfg.Jobs.MaxConcurrent+cfg.Jobs.WorkerCount, logger)
	app.pool = task.NewWorkerPool(app.queue, task.WorkerPoolConfig{
		WorkerCount: cfg.Jobs.WorkerCount,
	}, logger)
	app.pool.SetErrorHandler(func(t task.Task, err error) {
		logger.Error("poll task failed", "task_id", t.ID(), "task_type", t.Type(), "error", err)
	})

	poller := task.NewPoller(prov, jobs, task.PollerConfigFrom(cfg.Polling), app.metrics, logger)

	app.orchestrator, err = service.NewOrchestrator(
		prov,
		jobs,
		app.slots,
		app.queue,
		poller,
		app.metrics,
		service.OrchestratorConfigFrom(cfg.Jobs),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.events = events.NewInMemoryEventEmitter(logger)
	app.events.RegisterHandler(newJobEventLogger(logger))
	app.orchestrator.SetEventEmitter(app.events)

	logger.Info("application initialized",
		"slot_capacity", app.slots.Capacity(),
		"worker_count", app.pool.WorkerCount())
	return app, nil
}

// start launches the workers, resumes jobs left active by a previous run and
// begins the periodic orphan sweep.
func (app *application) start(ctx context.Context) error {
	app.pool.Start()

	resumed, err := app.orchestrator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover active jobs: %w", err)
	}
	app.logger.Info("startup recovery finished", "resumed", resumed)

	app.orchestrator.Start()
	return nil
}

// Run starts the background machinery and serves HTTP until ctx is
// cancelled or the server fails.
func (app *application) Run(ctx context.Context) error {
	if err := app.start(ctx); err != nil {
		app.cleanup()
		return err
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.orchestrator != nil {
		app.orchestrator.Stop()
	}
	if app.pool != nil {
		app.pool.Stop()
	}
	if app.queue != nil {
		app.queue.Close()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
