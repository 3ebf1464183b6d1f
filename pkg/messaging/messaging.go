// Package messaging is the outbound message collaborator used by send_message nodes.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrRejected       = errors.New("message rejected by gateway")
	ErrUnavailable    = errors.New("message gateway unavailable")
)

type Message struct {
	Channel  Channel           `json:"channel"`
	TenantID string            `json:"tenant_id"`
	To       string            `json:"to"`
	Subject  string            `json:"subject,omitempty"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields every channel needs.
func (m Message) Validate() error {
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidMessage, m.Channel)
	}

	if m.To == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}

	if m.Body == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}

	return nil
}

type Receipt struct {
	ID      string    `json:"id"`
	Channel Channel   `json:"channel"`
	Status  string    `json:"status"`
	SentAt  time.Time `json:"sent_at"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}
