// Package web exposes the webhook endpoints and the execution API over HTTP.
package web

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gymops/automation/pkg/facebook"
	"github.com/gymops/automation/pkg/registry"
	"github.com/gymops/automation/pkg/services"
)

const (
	HeaderOrganizationID = "x-organization-id"
	HeaderWebhookID      = "x-webhook-id"

	queryOrganizationID = "organizationId"
	queryWebhookID      = "webhookId"
)

type APIHandlers struct {
	ingestor    *services.Ingestor
	executions  *services.Executions
	registry    *registry.Registry
	verifyToken string
	logger      *slog.Logger
}

func NewAPIHandlers(
	ingestor *services.Ingestor,
	executions *services.Executions,
	registry *registry.Registry,
	facebookVerifyToken string,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		ingestor:    ingestor,
		executions:  executions,
		registry:    registry,
		verifyToken: facebookVerifyToken,
		logger:      logger.With("module", "web"),
	}
}

// ReceiveWebhook handles POST /webhooks and POST /webhooks/:webhookId.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	webhookID := c.Params("webhookId")
	if webhookID == "" {
		webhookID = firstNonEmpty(c.Get(HeaderWebhookID), c.Query(queryWebhookID))
	}

	result, err := h.ingestor.IngestWebhook(c.Context(), services.IngestRequest{
		TenantID:  tenantID(c),
		WebhookID: webhookID,
		Body:      bytes.Clone(c.Body()),
		Headers:   requestHeaders(c),
	})
	if err != nil {
		h.logFailure(c, err)

		return handleServiceError(c, err)
	}

	return c.JSON(newWebhookResponse(result))
}

// VerifyFacebook answers Meta's subscription handshake on GET /webhooks/facebook.
func (h *APIHandlers) VerifyFacebook(c fiber.Ctx) error {
	challenge, err := facebook.VerifySubscription(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		h.verifyToken,
	)
	if err != nil {
		return forbidden(c, "verification_failed", "subscription verification failed")
	}

	return c.SendString(challenge)
}

// ReceiveFacebook handles Lead Ads notifications on POST /webhooks/facebook.
func (h *APIHandlers) ReceiveFacebook(c fiber.Ctx) error {
	result, err := h.ingestor.IngestFacebook(c.Context(), bytes.Clone(c.Body()), requestHeaders(c))
	if err != nil {
		h.logFailure(c, err)

		return handleServiceError(c, err)
	}

	events := make([]WebhookResponse, 0, len(result.Events))
	for _, event := range result.Events {
		events = append(events, newWebhookResponse(event))
	}

	return c.JSON(FacebookResponse{
		Success: true,
		Events:  events,
		Skipped: result.Skipped,
		Message: fmt.Sprintf("%d lead(s) accepted, %d skipped", len(events), result.Skipped),
	})
}

// GetExecution handles GET /executions/:id.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.Get(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// CancelExecution handles POST /executions/:id/cancel.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executions.Cancel(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// ListEventExecutions handles GET /events/:id/executions.
func (h *APIHandlers) ListEventExecutions(c fiber.Ctx) error {
	eventID := c.Params("id")

	executions, err := h.executions.ListByEvent(c.Context(), tenantID(c), eventID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionsResponse{EventID: eventID, Executions: executions})
}

// GetCapabilities handles GET /capabilities.
func (h *APIHandlers) GetCapabilities(c fiber.Ctx) error {
	return c.JSON(CapabilitiesResponse{Capabilities: h.registry.Catalogue()})
}

func (h *APIHandlers) logFailure(c fiber.Ctx, err error) {
	if services.IsValidationError(err) || services.IsNotFoundError(err) || services.IsForbiddenError(err) {
		h.logger.InfoContext(c.Context(), "Webhook request rejected", "path", c.Path(), "error", err)

		return
	}

	if services.IsUnauthorizedError(err) {
		// Already on the security log.
		return
	}

	if _, limited := services.AsRateLimitError(err); limited {
		return
	}

	h.logger.ErrorContext(c.Context(), "Webhook request failed", "path", c.Path(), "error", err)
}

func tenantID(c fiber.Ctx) string {
	return firstNonEmpty(c.Get(HeaderOrganizationID), c.Query(queryOrganizationID))
}

// requestHeaders flattens the request headers to lower-cased names and first values.
func requestHeaders(c fiber.Ctx) map[string]string {
	raw := c.GetReqHeaders()
	headers := make(map[string]string, len(raw))

	for name, values := range raw {
		if len(values) == 0 {
			continue
		}

		headers[strings.ToLower(name)] = values[0]
	}

	return headers
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}

	return ""
}
