// Package log provides a node that writes a message to the service log.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/gymops/automation/pkg/template"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

type Node struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Node {
	return &Node{logger: logger.With("module", "log_node")}
}

func (n *Node) Capability() models.Capability {
	return models.CapabilityLog
}

func (n *Node) Name() string {
	return "Log"
}

func (n *Node) Description() string {
	return "Writes a templated message to the automation log. Useful while building and debugging workflows."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log, supports {{path}} expressions",
			},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
		"required": []string{"message"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	if _, ok := config["message"]; !ok {
		return fmt.Errorf("%w: missing required field 'message'", protocol.ErrInvalidConfig)
	}

	if level := protocol.StringField(config, "level"); level != "" {
		if _, ok := levels[level]; !ok {
			return fmt.Errorf("%w: invalid log level '%s' (must be debug, info, warn, or error)", protocol.ErrInvalidConfig, level)
		}
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, input protocol.Input) (protocol.Output, error) {
	message := template.Stringify(input.Config["message"])

	levelName := protocol.StringField(input.Config, "level")

	level, ok := levels[levelName]
	if !ok {
		levelName = "info"
		level = slog.LevelInfo
	}

	n.logger.Log(ctx, level, message,
		"execution_id", input.ExecutionID,
		"workflow_id", input.WorkflowID,
		"tenant_id", input.TenantID,
		"node_id", input.NodeID,
	)

	return protocol.Output{
		Data: map[string]any{
			"message": message,
			"level":   levelName,
			"logged":  true,
		},
	}, nil
}
