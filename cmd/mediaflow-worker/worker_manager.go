package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/mediaflow/pkg/cmd"
	"github.com/dukex/mediaflow/pkg/definitions"
	"github.com/dukex/mediaflow/pkg/dispatcher"
	"github.com/dukex/mediaflow/pkg/engine"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/otelhelper"
	"github.com/dukex/mediaflow/pkg/scheduler"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/dukex/mediaflow/pkg/web"
	"github.com/dukex/mediaflow/pkg/workspace"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 30 * time.Second

// systemUser runs the scheduled cleanup.
var systemUser = security.User{Username: "mediaflow-system", Roles: []string{security.GlobalAdminRole}}

type Config struct {
	Host              string
	DatabaseURL       string
	EventBus          string
	KafkaBrokers      []string
	JobStoreURL       string
	IndexURL          string
	UsersFile         string
	DefinitionsPath   string
	DefinitionsRescan string
	CleanupSchedule   string
	CleanupLifetime   int
	WorkspacePath     string
	Workers           int
	Port              int
	Tracing           bool
}

type WorkerManager struct {
	logger *slog.Logger
	config Config
}

func NewWorkerManager(logger *slog.Logger, config Config) *WorkerManager {
	return &WorkerManager{
		logger: logger,
		config: config,
	}
}

// Run wires the engine to its collaborators and blocks until SIGINT or SIGTERM.
func (w *WorkerManager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := w.tracer(ctx)
	if err != nil {
		return err
	}

	defer func() {
		err := shutdownTracing(context.WithoutCancel(ctx))
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
		}
	}()

	users, err := security.LoadDirectory(w.config.UsersFile)
	if err != nil {
		return err
	}

	ws, err := workspace.New(w.logger, w.config.WorkspacePath)
	if err != nil {
		return err
	}

	store := cmd.NewPersistence(ctx, w.logger, w.config.DatabaseURL)
	defer func() {
		err := store.Close(context.WithoutCancel(ctx))
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(w.config.EventBus, w.config.KafkaBrokers, w.logger)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	jobStore, pingJobs, closeJobs := cmd.NewJobStore(ctx, w.logger, w.config.JobStoreURL)
	defer w.close("job store", closeJobs)

	index, closeIndex := cmd.NewIndex(ctx, w.config.IndexURL)
	defer w.close("index", closeIndex)

	handlers := cmd.NewRegistry(w.logger, ws)

	defs := definitions.NewRegistry(w.logger, users)
	defs.ValidateOperationsWith(handlers)
	scanner := definitions.NewScanner(w.logger, defs, w.config.DefinitionsPath)

	err = scanner.Scan(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "Some workflow definitions could not be loaded", "error", err)
	}

	jobs := dispatcher.New(w.logger, jobStore, eventBus, dispatcher.Options{
		Host:    w.config.Host,
		Workers: w.config.Workers,
		Tracer:  tracer,
	})

	eng, err := engine.New(w.logger, engine.Options{
		Store:       store,
		Definitions: defs,
		Handlers:    handlers,
		Dispatcher:  jobs,
		Users:       users,
		Index:       index,
		Workspace:   ws,
		Publisher:   eventBus,
		Tracer:      tracer,
		Host:        w.config.Host,
	})
	if err != nil {
		return err
	}

	err = jobs.RegisterProducer(eng)
	if err != nil {
		return err
	}

	err = jobs.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	defer func() {
		jobs.Close()
		eng.WaitForListeners()
	}()

	tasks, err := w.schedule(scanner, eng)
	if err != nil {
		return err
	}

	tasks.Start()
	defer tasks.Stop()

	server := web.NewServer(web.NewOpsHandlers(w.logger, w.config.Host, eng, map[string]web.HealthChecker{
		"store": store,
		"jobs":  web.HealthFunc(pingJobs),
	}))

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- server.Start(w.config.Port)
	}()

	w.logger.InfoContext(ctx, "Worker started", "port", w.config.Port, "definitions", defs.Len(), "tasks", tasks.Tasks())

	select {
	case <-ctx.Done():
		w.logger.InfoContext(ctx, "Shutting down worker")
	case err = <-serverErr:
		w.logger.ErrorContext(ctx, "Operational HTTP server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return errors.Join(err, server.Shutdown(shutdownCtx))
}

func (w *WorkerManager) schedule(scanner *definitions.Scanner, eng *engine.Engine) (*scheduler.Scheduler, error) {
	tasks := scheduler.New(w.logger)

	err := tasks.Add("definitions-rescan", w.config.DefinitionsRescan, scanner.Scan)
	if err != nil {
		return nil, err
	}

	if w.config.CleanupLifetime <= 0 {
		return tasks, nil
	}

	err = tasks.Add("workflow-cleanup", w.config.CleanupSchedule, func(ctx context.Context) error {
		ctx = security.WithUser(ctx, systemUser)

		var errs []error

		for _, state := range []models.WorkflowState{models.WorkflowStateSucceeded, models.WorkflowStateFailed, models.WorkflowStateStopped} {
			_, err := eng.CleanupWorkflowInstances(ctx, w.config.CleanupLifetime, state)
			errs = append(errs, err)
		}

		return errors.Join(errs...)
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

// nolint:ireturn // tracing is optional
func (w *WorkerManager) tracer(ctx context.Context) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	if !w.config.Tracing {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "mediaflow-worker", w.config.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	return tracer, shutdown, nil
}

func (w *WorkerManager) close(name string, closer cmd.Closer) {
	err := closer()
	if err != nil {
		w.logger.Error("Failed to close "+name, "error", err)
	}
}
