package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/handlers"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/logs"
	"github.com/ternarybob/genieops/internal/services/browser"
	"github.com/ternarybob/genieops/internal/services/events"
	"github.com/ternarybob/genieops/internal/services/formreader"
	"github.com/ternarybob/genieops/internal/services/llm"
	"github.com/ternarybob/genieops/internal/services/pdf"
	"github.com/ternarybob/genieops/internal/services/report"
	"github.com/ternarybob/genieops/internal/services/scheduler"
	"github.com/ternarybob/genieops/internal/services/transform"
	"github.com/ternarybob/genieops/internal/services/workflow"
	"github.com/ternarybob/genieops/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService *scheduler.Service
	LogConsumer      *logs.Consumer // Log consumer for arbor context channel

	// Browser and workflow
	BrowserPool     *browser.Pool
	Interpreter     *formreader.Interpreter
	Submitter       *workflow.Submitter
	WorkflowManager *workflow.Manager
	JobService      *workflow.JobService

	// Reporting
	PDFService    *pdf.Service
	ReportService *report.Service

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	WSHandler         *handlers.WebSocketHandler
	JobHandler        *handlers.JobHandler
	WorkflowHandler   *handlers.WorkflowHandler
	CatalogHandler    *handlers.CatalogHandler
	SubmissionHandler *handlers.SubmissionHandler
}

// New initializes the application with all dependencies. Browser workers
// and the workflow manager are not running until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// WebSocket handler subscribes to the event bus, so both come first
	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	// Create log consumer for arbor context channel
	// Consumer stores per-submission logs and publishes submission_log events
	logConsumer := logs.NewConsumer(
		app.StorageManager.SubmissionLogStorage(),
		app.EventService,
		app.Logger,
		app.Config.Logging.MinEventLevel,
	)
	if err := logConsumer.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start log consumer: %w", err)
	}
	app.LogConsumer = logConsumer
	app.Logger.SetChannel("context", logConsumer.GetChannel())

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Int("pool_size", cfg.Browser.PoolSize).
		Str("isolation", cfg.Browser.Isolation).
		Bool("workflow_enabled", cfg.Workflow.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger) and imports the
// optional catalog file
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.ctx, a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = storageManager
	return nil
}

// initServices builds the services in dependency order:
// browser pool, form interpreter, submitter, workflow manager, jobs,
// reports, scheduler
func (a *App) initServices() error {
	cfg := a.Config

	if cfg.Browser.PoolSize != cfg.Workflow.MaxConcurrent {
		a.Logger.Warn().
			Int("pool_size", cfg.Browser.PoolSize).
			Int("max_concurrent", cfg.Workflow.MaxConcurrent).
			Msg("Browser pool size differs from workflow concurrency")
	}

	// 1. Browser worker pool
	var spawner browser.Spawner
	if cfg.Browser.Isolation == "inprocess" {
		browserCfg := cfg.Browser
		spawner = browser.NewInProcessSpawner(func(index int) *browser.Worker {
			return browser.NewWorker(browser.DefaultWorkerOptions(index, &browserCfg, a.Logger), a.Logger)
		}, a.Logger)
	} else {
		spawner = browser.NewProcessSpawner(&cfg.Browser, cfg.Logging.Level, a.Logger)
	}
	a.BrowserPool = browser.NewPool(browser.PoolOptionsFromConfig(&cfg.Browser), spawner, a.Logger)

	// 2. Form interpreter with the optional LLM backend
	backend, err := llm.NewBackend(a.ctx, cfg, a.Logger)
	if err != nil {
		// DOM-only analysis still works without a backend
		a.Logger.Warn().Err(err).Msg("Failed to create form interpreter backend, using DOM-only analysis")
		backend = nil
	}
	a.Interpreter = formreader.NewInterpreter(&cfg.FormReader, &cfg.LLM, backend, a.Logger)

	// 3. Submission pipeline
	a.Submitter = workflow.NewSubmitter(
		a.BrowserPool,
		a.Interpreter,
		transform.NewService(0, a.Logger),
		workflow.SubmitterOptionsFromConfig(&cfg.FormReader),
		a.Logger,
	)

	// 4. Workflow manager
	progress := workflow.NewProgressTracker(common.ParseDuration(cfg.Workflow.ProgressRetention, time.Hour))
	a.WorkflowManager = workflow.NewManager(
		a.StorageManager,
		a.Submitter,
		a.BrowserPool,
		a.EventService,
		progress,
		workflow.ManagerOptionsFromConfig(&cfg.Workflow, &cfg.Storage),
		a.Logger,
	)
	a.WSHandler.SetProgressSource(a.WorkflowManager)

	// 5. Jobs and reports
	a.JobService = workflow.NewJobService(a.StorageManager, a.Logger)
	a.PDFService = pdf.NewService(a.Logger)
	a.ReportService = report.NewService(a.JobService, a.StorageManager, a.PDFService, a.Logger)

	// 6. Scheduler (retry sweep)
	a.SchedulerService = scheduler.NewService(a.Logger)
	if cfg.Workflow.RetrySweepSchedule != "" {
		if err := a.SchedulerService.RegisterJob(
			scheduler.JobRetrySweep,
			cfg.Workflow.RetrySweepSchedule,
			"Requeue failed submissions with retries left",
			scheduler.RetrySweep(a.WorkflowManager, cfg.Workflow.RetrySweepMaxAgeHours, a.Logger),
		); err != nil {
			return fmt.Errorf("failed to register retry sweep: %w", err)
		}
	}

	return nil
}

// initHandlers creates the HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.WorkflowManager, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.WorkflowManager, a.Logger)
	a.WorkflowHandler = handlers.NewWorkflowHandler(a.WorkflowManager, a.Logger)
	a.CatalogHandler = handlers.NewCatalogHandler(a.StorageManager, a.ReportService, a.Logger)
	a.SubmissionHandler = handlers.NewSubmissionHandler(a.StorageManager, a.Logger)
}

// Start launches the browser pool, then the workflow manager and the
// scheduler. A pool that fails verification aborts startup.
func (a *App) Start() error {
	a.WSHandler.Start(a.ctx)

	if err := a.BrowserPool.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start browser pool: %w", err)
	}

	if a.Config.Workflow.Enabled {
		if err := a.WorkflowManager.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start workflow manager: %w", err)
		}
	} else {
		a.Logger.Info().Msg("Workflow polling disabled, submissions run only on request")
	}

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close stops everything in reverse dependency order. In-flight
// submissions finish before the browser pool is shut down.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WorkflowManager != nil {
		if err := a.WorkflowManager.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop workflow manager")
		}
	}

	if a.BrowserPool != nil {
		if err := a.BrowserPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop browser pool")
		}
	}

	// Cancel background goroutines (throttle flush, pool monitors)
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
