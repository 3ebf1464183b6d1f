package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

const serviceName = "automation-api"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Receive webhooks and run the matching automation workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
			SeedCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
