// Package sendmessage provides a node that delivers email, SMS or WhatsApp messages.
package sendmessage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gymops/automation/pkg/messaging"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
)

type Node struct {
	sender messaging.Sender
}

func New(sender messaging.Sender) *Node {
	return &Node{sender: sender}
}

func (n *Node) Capability() models.Capability {
	return models.CapabilitySendMessage
}

func (n *Node) Name() string {
	return "Send Message"
}

func (n *Node) Description() string {
	return "Sends an email, SMS or WhatsApp message through the configured messaging gateway."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type": "string",
				"enum": []string{string(messaging.ChannelEmail), string(messaging.ChannelSMS), string(messaging.ChannelWhatsApp)},
			},
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient address or phone number, e.g. {{trigger.email}}",
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Email subject",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Message text, supports {{path}} expressions",
			},
		},
		"required": []string{"channel", "to", "body"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	channel, err := protocol.RequireString(config, "channel")
	if err != nil {
		return err
	}

	if !messaging.Channel(channel).IsValid() {
		return fmt.Errorf("%w: unknown channel '%s'", protocol.ErrInvalidConfig, channel)
	}

	if _, err := protocol.RequireString(config, "to"); err != nil {
		return err
	}

	if _, err := protocol.RequireString(config, "body"); err != nil {
		return err
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, input protocol.Input) (protocol.Output, error) {
	if err := n.Validate(input.Config); err != nil {
		return protocol.Output{}, err
	}

	msg := messaging.Message{
		Channel:  messaging.Channel(strings.ToLower(protocol.StringField(input.Config, "channel"))),
		TenantID: input.TenantID,
		To:       protocol.StringField(input.Config, "to"),
		Subject:  protocol.StringField(input.Config, "subject"),
		Body:     protocol.StringField(input.Config, "body"),
		Metadata: map[string]string{
			"execution_id": input.ExecutionID,
			"workflow_id":  input.WorkflowID,
			"node_id":      input.NodeID,
		},
	}

	receipt, err := n.sender.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, messaging.ErrInvalidMessage) {
			return protocol.Output{}, fmt.Errorf("%w: %w", protocol.ErrInvalidConfig, err)
		}

		return protocol.Output{}, fmt.Errorf("failed to send %s message: %w", msg.Channel, err)
	}

	return protocol.Output{
		Data: map[string]any{
			"message_id": receipt.ID,
			"channel":    string(receipt.Channel),
			"status":     receipt.Status,
			"to":         msg.To,
		},
	}, nil
}
