package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gymops/automation/pkg/cmd"
	"github.com/gymops/automation/pkg/log"
	"github.com/gymops/automation/pkg/registry"
	"github.com/gymops/automation/pkg/seed"
	"github.com/urfave/cli/v3"
)

func SeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load webhook and workflow definitions from a JSON or YAML file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Definitions file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only validate the definitions",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("seed")

			defs, err := seed.Load(command.String("file"))
			if err != nil {
				return err
			}

			reg := registry.New(logger)
			if err := reg.RegisterDefaultNodes(registry.Dependencies{Logger: logger}); err != nil {
				return err
			}

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			seeder := seed.New(store, reg, logger)

			if command.Bool("dry-run") {
				if err := seeder.Check(defs); err != nil {
					return err
				}

				fmt.Fprintf(os.Stdout, "%d webhook(s) and %d workflow(s) are valid\n", len(defs.Webhooks), len(defs.Workflows))

				return nil
			}

			summary, err := seeder.Apply(ctx, defs)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "seeded %d webhook(s) and %d workflow(s)\n", summary.Webhooks, summary.Workflows)

			return nil
		},
	}
}
