package services

import (
	"context"
	"errors"
	"time"

	"github.com/gymops/automation/pkg/facebook"
	"github.com/gymops/automation/pkg/metrics"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/otelhelper"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/signature"
	"go.opentelemetry.io/otel/attribute"
)

// FacebookResult reports each lead of a notification. Skipped counts leads whose page
// has no enabled webhook.
type FacebookResult struct {
	Events  []*IngestResult
	Skipped int
}

// IngestFacebook accepts a Lead Ads notification. The body must carry the app's
// X-Hub-Signature-256. Every leadgen change becomes its own event, deduplicated by
// leadgen id, on the webhook registered for its page.
func (i *Ingestor) IngestFacebook(ctx context.Context, body []byte, headers map[string]string) (result *FacebookResult, err error) {
	began := i.now()

	ctx, span := otelhelper.StartSpan(ctx, i.Tracer, "facebook.ingest",
		attribute.String(otelhelper.TriggerTypeKey, models.TriggerTypeFacebookLead),
	)
	defer span.End()

	defer func() {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		metrics.RecordWebhook(string(models.WebhookProviderFacebook), outcome(nil, err), i.now().Sub(began))
	}()

	verified := signature.VerifyMeta(body, header(headers, facebook.SignatureHeader), i.config.FacebookAppSecret)
	if !verified.Valid {
		metrics.RecordSecurityEvent("unknown", "invalid_signature")

		i.Security.WarnContext(ctx, "Facebook signature rejected",
			"provider", models.WebhookProviderFacebook,
			"reason", verified.Reason,
			"time", i.now().UTC())

		return nil, newError("ingest_facebook", "invalid_signature", ErrInvalidSignature, "")
	}

	notification, err := facebook.Parse(body)
	if err != nil {
		if errors.Is(err, facebook.ErrUnsupportedObject) {
			return nil, &ValidationError{Errors: []string{err.Error()}}
		}

		return nil, newError("ingest_facebook", "malformed_payload", ErrMalformedPayload, "")
	}

	leads, err := notification.Leads()
	if err != nil {
		return nil, &ValidationError{Errors: []string{err.Error()}}
	}

	result = &FacebookResult{Events: make([]*IngestResult, 0, len(leads))}

	for _, lead := range leads {
		accepted, err := i.ingestLead(ctx, lead, headers)
		if err != nil {
			if IsNotFoundError(err) || IsForbiddenError(err) {
				result.Skipped++

				continue
			}

			return nil, err
		}

		result.Events = append(result.Events, accepted)
	}

	return result, nil
}

func (i *Ingestor) ingestLead(ctx context.Context, lead facebook.Lead, headers map[string]string) (*IngestResult, error) {
	logger := i.Logger.With("page_id", lead.PageID, "leadgen_id", lead.LeadgenID)

	webhook, err := i.Webhooks.FindByExternalID(ctx, models.WebhookProviderFacebook, lead.PageID)
	if err != nil {
		if persistence.IsWebhookNotFound(err) {
			logger.WarnContext(ctx, "No webhook registered for page")

			return nil, newError("ingest_facebook", "webhook_not_found", ErrWebhookNotFound, "")
		}

		return nil, durabilityError("find_webhook", err)
	}

	if !webhook.Enabled {
		logger.InfoContext(ctx, "Webhook for page is disabled", "webhook_id", webhook.ID)

		return nil, newError("ingest_facebook", "webhook_disabled", ErrWebhookDisabled, "")
	}

	// Meta redelivers whole notifications; leads accepted before cost no rate budget.
	original, err := i.Events.FindDelivery(ctx, webhook.TenantID, webhook.ID, lead.LeadgenID)
	switch {
	case err == nil:
		return i.duplicate(ctx, original)
	case !persistence.IsEventNotFound(err):
		return nil, durabilityError("find_delivery", err)
	}

	if err := i.consume(ctx, webhook); err != nil {
		return nil, err
	}

	payload := lead.Payload()

	if i.Leads != nil && webhook.AccessToken != "" {
		details, err := i.fetchLead(ctx, lead.LeadgenID, webhook.AccessToken)
		if err != nil {
			logger.WarnContext(ctx, "Lead enrichment failed, continuing with notification fields", "error", err)
		} else {
			payload = facebook.Enrich(payload, details)
		}
	}

	return i.accept(ctx, webhook, payload, headers, lead.LeadgenID)
}

const leadFetchTimeout = 15 * time.Second

func (i *Ingestor) fetchLead(ctx context.Context, leadgenID, accessToken string) (*facebook.LeadDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, leadFetchTimeout)
	defer cancel()

	return i.Leads.FetchLead(ctx, leadgenID, accessToken)
}
