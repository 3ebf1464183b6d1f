package events

import (
	"encoding/json"
	"testing"

	"github.com/gymops/automation/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	event := NewBaseEvent(ExecutionStartedEvent, "t1", "wf-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ExecutionStartedEvent, event.Type)
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)
}

func TestNew_KnownTypes(t *testing.T) {
	t.Parallel()

	typed := []interface{ GetType() EventType }{
		EventRecorded{},
		ExecutionRequested{},
		ExecutionStarted{},
		ExecutionCompleted{},
		ExecutionFailed{},
		ExecutionCancelled{},
		NodeExecuted{},
	}

	for _, event := range typed {
		value, ok := New(event.GetType())
		require.True(t, ok, event.GetType())

		decoded, ok := value.(interface{ GetType() EventType })
		require.True(t, ok)
		assert.Equal(t, event.GetType(), decoded.GetType())
	}

	_, ok := New("unknown")
	assert.False(t, ok)
}

func TestNodeExecuted_JSON(t *testing.T) {
	original := &NodeExecuted{
		BaseEvent:   NewBaseEvent(NodeExecutedEvent, "t1", "wf-1"),
		ExecutionID: "exec-1",
		NodeID:      "send",
		Capability:  models.CapabilitySendMessage,
		Success:     false,
		Attempts:    3,
		Error:       "gateway unavailable",
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"node.executed"`)
	assert.Contains(t, string(data), `"capability":"send_message"`)

	value, ok := New(NodeExecutedEvent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(data, value))

	decoded := value.(*NodeExecuted)
	assert.Equal(t, original.ExecutionID, decoded.ExecutionID)
	assert.Equal(t, 3, decoded.Attempts)
	assert.Equal(t, "t1", decoded.TenantID)
}
