package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/eventbus"
	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/otelhelper"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/registry"
	"github.com/gymops/automation/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Engine is everything needed to run executions, shared by the API and the worker.
type Engine struct {
	Config      *config.Config
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Registry    *registry.Registry
	Ledger      *ledger.Ledger
	Executor    *workflow.Executor
	Tracer      trace.Tracer

	logger   *slog.Logger
	shutdown otelhelper.ShutdownFunc
}

// NewEngine connects persistence and the event bus and registers the built-in nodes.
// Close releases whatever was opened, also after a partial failure.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	engine := &Engine{Config: cfg, logger: logger, Tracer: otelhelper.NoopTracer()}

	if cfg.Tracing {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}

		engine.Tracer = tracer
		engine.shutdown = shutdown
	}

	store, err := NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		_ = engine.Close(ctx)

		return nil, err
	}

	engine.Persistence = store

	bus, err := NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName, logger)
	if err != nil {
		_ = engine.Close(ctx)

		return nil, err
	}

	engine.EventBus = bus

	reg := registry.New(logger)

	err = reg.RegisterDefaultNodes(registry.Dependencies{
		Logger: logger,
		AI:     NewAIProvider(cfg, logger),
		Sender: NewSender(cfg, logger),
		Leads:  store.LeadRepository(),
	})
	if err != nil {
		_ = engine.Close(ctx)

		return nil, fmt.Errorf("register nodes: %w", err)
	}

	engine.Registry = reg
	engine.Ledger = ledger.New(store.ExecutionRepository(), bus, logger)

	opts := []workflow.ExecutorOption{workflow.WithTracer(engine.Tracer)}
	if cfg.NodeTimeout > 0 {
		opts = append(opts, workflow.WithNodeTimeout(cfg.NodeTimeout))
	}

	engine.Executor = workflow.NewExecutor(reg, engine.Ledger, logger, opts...)

	return engine, nil
}

// NewDispatcher builds a dispatcher in the given mode with the configured bounds.
func (e *Engine) NewDispatcher(mode workflow.DispatchMode) (*workflow.Dispatcher, error) {
	return workflow.NewDispatcher(e.Executor, e.Ledger, e.EventBus, workflow.DispatcherConfig{
		Mode:             mode,
		MaxConcurrent:    e.Config.MaxConcurrent,
		ExecutionTimeout: e.Config.ExecutionTimeout,
	}, e.logger)
}

// NewWorker returns a worker running queued executions through an inline dispatcher.
func (e *Engine) NewWorker() (*workflow.Worker, *workflow.Dispatcher, error) {
	inline, err := e.NewDispatcher(workflow.DispatchInline)
	if err != nil {
		return nil, nil, err
	}

	worker := workflow.NewWorker(
		inline,
		e.Ledger,
		e.Persistence.WorkflowRepository(),
		e.Persistence.EventRepository(),
		e.logger,
	)

	return worker, inline, nil
}

func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	if e.EventBus != nil {
		if err := e.EventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if e.Persistence != nil {
		if err := e.Persistence.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close persistence: %w", err))
		}
	}

	if e.shutdown != nil {
		if err := e.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}

	return errors.Join(errs...)
}
