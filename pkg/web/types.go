package web

import "github.com/gymops/automation/pkg/services"

// WebhookResponse is returned for an accepted webhook delivery.
type WebhookResponse struct {
	Success    bool     `json:"success"`
	EventID    string   `json:"event_id"`
	Executions []string `json:"executions"`
	Duplicate  bool     `json:"duplicate,omitempty"`
	Message    string   `json:"message"`
}

func newWebhookResponse(result *services.IngestResult) WebhookResponse {
	executions := result.Executions
	if executions == nil {
		executions = []string{}
	}

	return WebhookResponse{
		Success:    true,
		EventID:    result.EventID,
		Executions: executions,
		Duplicate:  result.Duplicate,
		Message:    result.Message,
	}
}

// FacebookResponse is returned for a Lead Ads notification.
type FacebookResponse struct {
	Success bool              `json:"success"`
	Events  []WebhookResponse `json:"events"`
	Skipped int               `json:"skipped"`
	Message string            `json:"message"`
}

type ExecutionsResponse struct {
	EventID    string `json:"event_id"`
	Executions any    `json:"executions"`
}

type CapabilitiesResponse struct {
	Capabilities any `json:"capabilities"`
}
