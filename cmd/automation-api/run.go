package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gymops/automation/pkg/cmd"
	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/eventstore"
	"github.com/gymops/automation/pkg/log"
	"github.com/gymops/automation/pkg/maintenance"
	"github.com/gymops/automation/pkg/ratelimit"
	"github.com/gymops/automation/pkg/services"
	"github.com/gymops/automation/pkg/validation"
	"github.com/gymops/automation/pkg/web"
	"github.com/gymops/automation/pkg/workflow"
	"github.com/urfave/cli/v3"
)

const (
	sweepSchedule  = "@every 1m"
	reaperSchedule = "@every 5m"
)

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the webhook API",
		Flags:   cmd.Flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := cmd.ConfigFromCommand(command, serviceName)
			if err != nil {
				return err
			}

			log.SetupWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stderr)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAPI(ctx, cfg, log.WithModule("api"))
		},
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.InfoContext(ctx, "Initializing automation API",
		"dispatch_mode", cfg.DispatchMode,
		"event_bus", cfg.EventBus,
		"rate_limit_store", cfg.RateLimitStore)

	engine, err := cmd.NewEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		if err := engine.Close(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "Failed to close engine", "error", err)
		}
	}()

	mode := workflow.DispatchInline
	if cfg.QueueDispatch() {
		mode = workflow.DispatchQueue
	}

	dispatcher, err := engine.NewDispatcher(mode)
	if err != nil {
		return err
	}

	// An in-process bus never reaches a separate worker, so the API runs one itself.
	var embedded *workflow.Dispatcher

	if cfg.QueueDispatch() && cfg.EventBus == config.EventBusGoChannel {
		worker, inline, err := engine.NewWorker()
		if err != nil {
			return err
		}

		if err := worker.Register(engine.EventBus); err != nil {
			return fmt.Errorf("register worker: %w", err)
		}

		if err := engine.EventBus.Subscribe(ctx); err != nil {
			return err
		}

		embedded = inline

		logger.InfoContext(ctx, "Running queued executions in process")
	}

	limits, err := cmd.NewRateLimitStore(ctx, cfg.RateLimitStore, cfg.RedisURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := limits.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close rate limit store", "error", err)
		}
	}()

	validator, err := validation.NewDefault()
	if err != nil {
		return fmt.Errorf("init validator: %w", err)
	}

	store := engine.Persistence

	ingestor := services.NewIngestor(services.IngestDependencies{
		Webhooks:   store.WebhookRepository(),
		Limiter:    ratelimit.NewLimiter(limits.Store),
		Validator:  validator,
		Events:     eventstore.New(store.EventRepository(), logger),
		Matcher:    workflow.NewMatcher(store.WorkflowRepository(), logger),
		Ledger:     engine.Ledger,
		Dispatcher: dispatcher,
		Publisher:  engine.EventBus,
		Leads:      cmd.NewLeadFetcher(cfg, logger),
		Tracer:     engine.Tracer,
		Logger:     logger,
		Security:   log.Security(),
	}, services.IngestConfig{
		RateLimitWindow:   cfg.RateLimitWindow,
		RateLimitMax:      cfg.RateLimitMax,
		FacebookAppSecret: cfg.FacebookAppSecret,
	})

	if cfg.FacebookAppSecret == "" {
		logger.WarnContext(ctx, "Facebook app secret not set, Lead Ads notifications will be rejected")
	}

	scheduler := maintenance.NewScheduler(logger)

	if limits.Memory != nil {
		if err := scheduler.AddSweep(sweepSchedule, limits.Memory); err != nil {
			return err
		}
	}

	if cfg.StaleExecutionAfter > 0 {
		reaper := maintenance.NewReaper(engine.Ledger, cfg.StaleExecutionAfter, logger)
		if err := scheduler.AddReaper(reaperSchedule, reaper); err != nil {
			return err
		}
	}

	scheduler.Start()

	app := web.NewApp(web.AppConfig{
		Name: serviceName,
		Handlers: web.NewAPIHandlers(
			ingestor,
			services.NewExecutions(engine.Ledger, store.EventRepository(), dispatcher),
			engine.Registry,
			cfg.FacebookVerifyToken,
			logger,
		),
		Ready:      store.HealthCheck,
		RequestLog: true,
	})

	listenErr := make(chan error, 1)

	go func() {
		logger.InfoContext(ctx, "Listening", "port", cfg.Port)

		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err = <-listenErr:
		if err != nil {
			logger.ErrorContext(ctx, "Server stopped", "error", err)
		}
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if shutdownErr := app.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", shutdownErr))
	}

	if stopErr := scheduler.Stop(shutdownCtx); stopErr != nil {
		errs = append(errs, stopErr)
	}

	if waitErr := dispatcher.Wait(shutdownCtx); waitErr != nil {
		errs = append(errs, fmt.Errorf("wait for executions: %w", waitErr))
	}

	if embedded != nil {
		if waitErr := embedded.Wait(shutdownCtx); waitErr != nil {
			errs = append(errs, fmt.Errorf("wait for queued executions: %w", waitErr))
		}
	}

	return errors.Join(append(errs, err)...)
}
