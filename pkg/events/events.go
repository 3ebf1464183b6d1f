// Package events defines the lifecycle notifications published on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/models"
)

type EventType string

// Topic carries every automation event; consumers filter by the event type metadata.
const Topic = "automation.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"
const TenantMetadataKey = "tenant_id"

const (
	EventRecordedEvent EventType = "event.recorded"

	// Execution lifecycle events.
	ExecutionRequestedEvent EventType = "execution.requested"
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	NodeExecutedEvent EventType = "node.executed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TenantID   string         `json:"tenant_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventRecorded is published once an inbound event is durably stored.
type EventRecorded struct {
	BaseEvent

	EventID     string `json:"event_id"`
	Source      string `json:"source"`
	TriggerType string `json:"trigger_type"`
	DeliveryID  string `json:"delivery_id,omitempty"`
	Matched     int    `json:"matched"`
}

func (e EventRecorded) GetType() EventType {
	return EventRecordedEvent
}

// ExecutionRequested asks a worker to run a pending execution.
type ExecutionRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EventID     string `json:"event_id"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EventID     string `json:"event_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EventID     string `json:"event_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EventID     string `json:"event_id"`
	Error       string `json:"error"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EventID     string `json:"event_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// NodeExecuted mirrors a NodeResult appended to the ledger.
type NodeExecuted struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	Capability  models.Capability `json:"capability"`
	Success     bool              `json:"success"`
	Port        string            `json:"port,omitempty"`
	Attempts    int               `json:"attempts"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

func (e NodeExecuted) GetType() EventType {
	return NodeExecutedEvent
}

func NewBaseEvent(eventType EventType, tenantID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// New returns an empty event value for decoding the given type.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case EventRecordedEvent:
		return &EventRecorded{}, true
	case ExecutionRequestedEvent:
		return &ExecutionRequested{}, true
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{}, true
	case NodeExecutedEvent:
		return &NodeExecuted{}, true
	default:
		return nil, false
	}
}
