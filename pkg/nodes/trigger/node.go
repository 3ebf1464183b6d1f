// Package trigger provides the entry node of every workflow graph.
package trigger

import (
	"context"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
)

// Node exposes the inbound event payload as its output so later nodes can
// reference it as {{<trigger node id>.field}} as well as {{trigger.field}}.
type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) Capability() models.Capability {
	return models.CapabilityTrigger
}

func (n *Node) Name() string {
	return "Trigger"
}

func (n *Node) Description() string {
	return "Entry point of a workflow. Emits the sanitized inbound event payload."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (n *Node) Validate(map[string]any) error {
	return nil
}

func (n *Node) Execute(_ context.Context, input protocol.Input) (protocol.Output, error) {
	payload, _ := input.Scope["trigger"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	return protocol.Output{Data: payload, Port: models.PortSuccess}, nil
}
