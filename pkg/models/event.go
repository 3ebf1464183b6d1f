package models

import "time"

// InboundEvent is one accepted trigger occurrence. It is written once and never updated.
type InboundEvent struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Source      string            `json:"source"`
	TriggerType string            `json:"trigger_type"`
	DeliveryID  string            `json:"delivery_id,omitempty"`
	Headers     map[string]string `json:"headers"`
	Payload     map[string]any    `json:"payload"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// TriggerContext is the structure workflow trigger filters are evaluated against.
func (e *InboundEvent) TriggerContext() map[string]any {
	return map[string]any{
		"webhook_id":   e.Source,
		"source":       e.Source,
		"trigger_type": e.TriggerType,
		"payload":      e.Payload,
		"headers":      e.Headers,
	}
}
