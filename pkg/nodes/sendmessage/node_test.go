package sendmessage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gymops/automation/pkg/messaging"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []messaging.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg messaging.Message) (*messaging.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	s.sent = append(s.sent, msg)

	return &messaging.Receipt{ID: "msg-1", Channel: msg.Channel, Status: "queued", SentAt: time.Now()}, nil
}

func TestNode_Execute_SendsResolvedMessage(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	node := New(sender)
	assert.Equal(t, models.CapabilitySendMessage, node.Capability())

	out, err := node.Execute(context.Background(), protocol.Input{
		ExecutionID: "exec-1",
		TenantID:    "gym-1",
		NodeID:      "welcome",
		Config: map[string]any{
			"channel": "email",
			"to":      "ana@example.com",
			"subject": "Welcome",
			"body":    "Hi Ana",
		},
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, messaging.ChannelEmail, sender.sent[0].Channel)
	assert.Equal(t, "gym-1", sender.sent[0].TenantID)
	assert.Equal(t, "exec-1", sender.sent[0].Metadata["execution_id"])

	data := out.Data.(map[string]any)
	assert.Equal(t, "msg-1", data["message_id"])
	assert.Equal(t, "queued", data["status"])
}

func TestNode_Execute_EmptyRecipientIsConfigError(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}

	_, err := New(sender).Execute(context.Background(), protocol.Input{Config: map[string]any{
		"channel": "sms",
		"to":      "",
		"body":    "hello",
	}})
	require.ErrorIs(t, err, protocol.ErrInvalidConfig)
	assert.Empty(t, sender.sent)
}

func TestNode_Execute_GatewayFailure(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{err: messaging.ErrUnavailable}

	_, err := New(sender).Execute(context.Background(), protocol.Input{Config: map[string]any{
		"channel": "whatsapp",
		"to":      "+5511999990000",
		"body":    "hello",
	}})
	require.ErrorIs(t, err, messaging.ErrUnavailable)
	assert.False(t, errors.Is(err, protocol.ErrInvalidConfig))
}

func TestNode_Validate(t *testing.T) {
	t.Parallel()

	node := New(&recordingSender{})

	require.NoError(t, node.Validate(map[string]any{"channel": "email", "to": "{{trigger.email}}", "body": "hi"}))
	require.ErrorIs(t, node.Validate(map[string]any{"channel": "fax", "to": "x", "body": "hi"}), protocol.ErrInvalidConfig)
	require.ErrorIs(t, node.Validate(map[string]any{"channel": "email", "body": "hi"}), protocol.ErrInvalidConfig)
	require.ErrorIs(t, node.Validate(map[string]any{"channel": "email", "to": "x"}), protocol.ErrInvalidConfig)
}
