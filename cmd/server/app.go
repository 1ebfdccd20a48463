package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjtutim/hrdb-sub001/internal/config"
	"github.com/sjtutim/hrdb-sub001/internal/events"
	"github.com/sjtutim/hrdb-sub001/internal/generation"
	"github.com/sjtutim/hrdb-sub001/internal/match"
	"github.com/sjtutim/hrdb-sub001/internal/parsing"
	"github.com/sjtutim/hrdb-sub001/internal/platform/blobstore"
	"github.com/sjtutim/hrdb-sub001/internal/platform/gemini"
	"github.com/sjtutim/hrdb-sub001/internal/platform/metrics"
	"github.com/sjtutim/hrdb-sub001/internal/platform/postgres"
	"github.com/sjtutim/hrdb-sub001/internal/service"
	"github.com/sjtutim/hrdb-sub001/internal/store"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	candidateStore store.CandidateStore
	jobStore       store.JobStore
	resultStore    store.MatchResultStore

	blobs blobstore.Store
	llm   *gemini.Client

	progress    *task.ProgressStore
	executors   map[task.Kind]task.Executor
	supervisor  *task.Supervisor
	taskService *service.TaskService

	eventEmitter events.EventEmitter
}

// newApplication creates an application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before initialization.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.candidateStore = postgres.NewCandidateStore(db)
	app.jobStore = postgres.NewJobStore(db)
	app.resultStore = postgres.NewMatchResultStore(db)

	ledgers := make(map[task.Kind]task.Ledger, len(task.Kinds()))
	for _, kind := range task.Kinds() {
		ts, err := postgres.NewTaskStore(db, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to create task store: %w", err)
		}
		ledgers[kind] = ts
	}

	var err error
	app.blobs, err = blobstore.NewFileStore(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	app.llm, err = gemini.NewClient(ctx, logger.With("component", "llm_client"), cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	logger.Info("LLM client initialized", "model", cfg.LLM.ModelName)

	app.progress = task.NewProgressStore(time.Duration(cfg.Tasks.ProgressTTLMinutes) * time.Minute)

	evaluator := match.NewEvaluator(app.llm, logger)
	app.executors = map[task.Kind]task.Executor{
		task.KindParse: parsing.NewService(app.blobs, app.llm, app.candidateStore, logger),
		task.KindMatch: match.NewService(
			evaluator,
			app.candidateStore,
			app.jobStore,
			app.resultStore,
			ledgers[task.KindMatch],
			app.progress,
			cfg.Tasks.BatchConcurrency,
			logger,
		),
		task.KindGeneration: generation.NewService(app.llm, logger),
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	schedulers := make(map[task.Kind]*task.Scheduler, len(ledgers))
	for kind, ledger := range ledgers {
		schedulers[kind] = task.NewScheduler(ledger, app.executors[kind], schedulerConfig(cfg.Tasks, kind), logger, collector)
	}
	app.supervisor = task.NewSupervisor(schedulers, logger)

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewDispatchHandler(app.supervisor, logger))
	app.eventEmitter = emitter

	app.taskService, err = service.NewTaskService(
		app.supervisor,
		app.jobStore,
		app.candidateStore,
		app.eventEmitter,
		cfg.Tasks.DailyRunAt,
		cfg.Tasks.Timezone,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// schedulerConfig builds one kind's scheduler settings from the configured
// task options, keeping the kind-specific recovery action from the defaults.
func schedulerConfig(tasks config.TasksConfig, kind task.Kind) task.SchedulerConfig {
	cfg := task.DefaultSchedulerConfig(kind)
	cfg.PollInterval = time.Duration(tasks.PollIntervalSeconds) * time.Second

	switch kind {
	case task.KindParse:
		cfg.StuckAfter = time.Duration(tasks.ParseStuckAfterMinutes) * time.Minute
	case task.KindGeneration:
		cfg.StuckAfter = time.Duration(tasks.GenerationStuckAfterMinutes) * time.Minute
	case task.KindMatch:
		cfg.StuckAfter = time.Duration(tasks.MatchStuckAfterMinutes) * time.Minute
	}
	return cfg
}

// Run starts the poll schedulers and the HTTP server, handling lifecycle
// and cleanup.
func (app *application) Run(ctx context.Context) error {
	app.supervisor.Start()

	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.supervisor != nil {
		app.supervisor.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
