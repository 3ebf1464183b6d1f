package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/cmd"
	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "automation-worker"

func main() {
	flags := append(cmd.Flags(), &cli.StringFlag{
		Name:    "worker-id",
		Aliases: []string{"id"},
		Usage:   "Custom worker ID (auto-generated if not provided)",
		Sources: cli.EnvVars("WORKER_ID"),
	})

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Run queued workflow executions",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := cmd.ConfigFromCommand(command, serviceName)
			if err != nil {
				return err
			}

			log.SetupWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stderr)

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("automation-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing automation worker")

			if cfg.EventBus == config.EventBusGoChannel {
				logger.WarnContext(ctx, "The in-process event bus only carries requests published by this process")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := cmd.NewEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}

			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
				defer cancel()

				if err := engine.Close(closeCtx); err != nil {
					logger.ErrorContext(ctx, "Failed to close engine", "error", err)
				}
			}()

			worker, dispatcher, err := engine.NewWorker()
			if err != nil {
				return err
			}

			if err := worker.Register(engine.EventBus); err != nil {
				return err
			}

			if err := engine.EventBus.Subscribe(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Waiting for execution requests")

			<-ctx.Done()

			logger.InfoContext(ctx, "Shutting down, waiting for running executions")

			waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()

			return dispatcher.Wait(waitCtx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
