package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gymops/automation/pkg/eventbus"
	"github.com/gymops/automation/pkg/events"
	"github.com/gymops/automation/pkg/eventstore"
	"github.com/gymops/automation/pkg/facebook"
	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/metrics"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/otelhelper"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/ratelimit"
	"github.com/gymops/automation/pkg/signature"
	"github.com/gymops/automation/pkg/validation"
	"github.com/gymops/automation/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitMax    = 100
)

// DeliveryIDHeader lets senders make retries idempotent.
const DeliveryIDHeader = "x-webhook-delivery-id"

// Metric outcomes of an ingest request.
const (
	outcomeAccepted  = "accepted"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeUnsigned  = "invalid_signature"
	outcomeLimited   = "rate_limited"
	outcomeInvalid   = "invalid_payload"
	outcomeFailed    = "error"
)

// Dispatcher starts pending executions.
type Dispatcher interface {
	Dispatch(ctx context.Context, execution *models.Execution, workflow *models.Workflow, event *models.InboundEvent) error
}

// IngestConfig holds the server-wide defaults a webhook can override.
type IngestConfig struct {
	RateLimitWindow time.Duration
	RateLimitMax    int
	// FacebookAppSecret signs every Meta delivery of the app.
	FacebookAppSecret string
}

// IngestDependencies are the pipeline stages the Ingestor chains.
type IngestDependencies struct {
	Webhooks   persistence.WebhookRepository
	Limiter    *ratelimit.Limiter
	Validator  *validation.Validator
	Events     *eventstore.Store
	Matcher    *workflow.Matcher
	Ledger     *ledger.Ledger
	Dispatcher Dispatcher
	// Publisher is optional; EventRecorded is not published without it.
	Publisher eventbus.EventPublisher
	// Leads is optional; Facebook leads are not enriched without it.
	Leads    facebook.LeadFetcher
	Tracer   trace.Tracer
	Logger   *slog.Logger
	Security *slog.Logger
}

// Ingestor runs an inbound request through verification, limiting, validation and
// recording, then fans it out to every matching workflow.
type Ingestor struct {
	IngestDependencies

	config IngestConfig
	now    func() time.Time
}

func NewIngestor(deps IngestDependencies, config IngestConfig) *Ingestor {
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = DefaultRateLimitWindow
	}

	if config.RateLimitMax <= 0 {
		config.RateLimitMax = DefaultRateLimitMax
	}

	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	if deps.Security == nil {
		deps.Security = deps.Logger
	}

	deps.Logger = deps.Logger.With("module", "ingest")

	return &Ingestor{
		IngestDependencies: deps,
		config:             config,
		now:                time.Now,
	}
}

// IngestRequest is a generic webhook delivery as received by the HTTP layer.
type IngestRequest struct {
	TenantID   string
	WebhookID  string
	Body       []byte
	Headers    map[string]string
	DeliveryID string
}

// IngestResult describes an accepted event. Executions lists only the executions
// that were created and handed to the dispatcher.
type IngestResult struct {
	EventID    string
	Executions []string
	Duplicate  bool
	Message    string
}

// IngestWebhook accepts a generic webhook delivery.
func (i *Ingestor) IngestWebhook(ctx context.Context, req IngestRequest) (result *IngestResult, err error) {
	began := i.now()

	ctx, span := otelhelper.StartSpan(ctx, i.Tracer, "webhook.ingest",
		attribute.String(otelhelper.TenantIDKey, req.TenantID),
		attribute.String(otelhelper.WebhookIDKey, req.WebhookID),
		attribute.String(otelhelper.TriggerTypeKey, models.TriggerTypeWebhook),
	)
	defer span.End()

	defer func() {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		metrics.RecordWebhook(string(models.WebhookProviderGeneric), outcome(result, err), i.now().Sub(began))
	}()

	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.WebhookID) == "" {
		return nil, newError("ingest_webhook", "missing_identity", ErrMissingIdentity, "")
	}

	webhook, err := i.Webhooks.Get(ctx, req.TenantID, req.WebhookID)
	if err != nil {
		return nil, i.lookupError(err)
	}

	if !webhook.Enabled {
		return nil, newError("ingest_webhook", "webhook_disabled", ErrWebhookDisabled, "")
	}

	verified := signature.Verify(req.Body, header(req.Headers, webhook.SignatureHeaderName()), webhook.Secret,
		signature.Options{Algorithm: webhook.SignatureAlgorithm, Encoding: webhook.SignatureEncoding})
	if !verified.Valid {
		i.reportSignature(ctx, webhook, verified.Reason)

		return nil, newError("ingest_webhook", "invalid_signature", ErrInvalidSignature, "")
	}

	if err := i.consume(ctx, webhook); err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, newError("ingest_webhook", "malformed_payload", ErrMalformedPayload, "")
	}

	deliveryID := req.DeliveryID
	if deliveryID == "" {
		deliveryID = header(req.Headers, DeliveryIDHeader)
	}

	return i.accept(ctx, webhook, payload, req.Headers, deliveryID)
}

// lookupError maps a webhook lookup failure to a client or durability error.
func (i *Ingestor) lookupError(err error) error {
	if persistence.IsWebhookNotFound(err) || persistence.IsInvalidID(err) {
		return newError("ingest_webhook", "webhook_not_found", ErrWebhookNotFound, "")
	}

	return newError("ingest_webhook", "storage_unavailable", fmt.Errorf("%w: %w", ErrStorageUnavailable, err), "")
}

func (i *Ingestor) reportSignature(ctx context.Context, webhook *models.Webhook, reason string) {
	metrics.RecordSecurityEvent(webhook.TenantID, "invalid_signature")

	i.Security.WarnContext(ctx, "Webhook signature rejected",
		"tenant_id", webhook.TenantID,
		"webhook_id", webhook.ID,
		"provider", webhook.Provider,
		"reason", reason,
		"time", i.now().UTC())
}

// consume counts the request against the webhook's window. A failing counter store
// lets the request through so that an outage of the store does not drop deliveries.
func (i *Ingestor) consume(ctx context.Context, webhook *models.Webhook) error {
	window := i.config.RateLimitWindow
	if webhook.RateLimit.WindowMs > 0 {
		window = time.Duration(webhook.RateLimit.WindowMs) * time.Millisecond
	}

	maxRequests := i.config.RateLimitMax
	if webhook.RateLimit.MaxRequests > 0 {
		maxRequests = webhook.RateLimit.MaxRequests
	}

	resource := "webhook:" + webhook.ID

	res, err := i.Limiter.CheckAndConsume(ctx, webhook.TenantID, resource, window, maxRequests)
	if err != nil {
		i.Logger.WarnContext(ctx, "Rate limit check failed, allowing request",
			"tenant_id", webhook.TenantID,
			"webhook_id", webhook.ID,
			"error", err)

		return nil
	}

	if res.Allowed {
		return nil
	}

	now := i.now()

	metrics.RecordSecurityEvent(webhook.TenantID, "rate_limited")

	i.Security.WarnContext(ctx, "Webhook rate limit exceeded",
		"tenant_id", webhook.TenantID,
		"resource", resource,
		"count", res.Count,
		"limit", maxRequests,
		"reset_at", res.ResetAt.UTC(),
		"time", now.UTC())

	return &RateLimitError{
		TenantID:   webhook.TenantID,
		Resource:   resource,
		RetryAfter: res.RetryAfter(now),
	}
}

// accept validates the decoded payload, records it and fans it out.
func (i *Ingestor) accept(
	ctx context.Context,
	webhook *models.Webhook,
	payload any,
	headers map[string]string,
	deliveryID string,
) (*IngestResult, error) {
	validated := i.Validator.Validate(payload, webhook.TenantID, validation.Shape{
		TriggerType: webhook.TriggerType(),
		Schema:      webhook.Schema,
	})
	if !validated.Valid {
		i.Logger.InfoContext(ctx, "Payload rejected",
			"tenant_id", webhook.TenantID,
			"webhook_id", webhook.ID,
			"errors", validated.Errors)

		return nil, &ValidationError{Errors: validated.Errors}
	}

	if len(validated.Stripped) > 0 {
		i.Security.InfoContext(ctx, "Executable content stripped from payload",
			"tenant_id", webhook.TenantID,
			"webhook_id", webhook.ID,
			"paths", validated.Stripped,
			"time", i.now().UTC())
	}

	if deliveryID != "" {
		original, err := i.Events.FindDelivery(ctx, webhook.TenantID, webhook.ID, deliveryID)
		switch {
		case err == nil:
			return i.duplicate(ctx, original)
		case !persistence.IsEventNotFound(err):
			return nil, durabilityError("find_delivery", err)
		}
	}

	event, err := i.Events.Record(ctx, eventstore.RecordInput{
		TenantID:    webhook.TenantID,
		Source:      webhook.ID,
		TriggerType: webhook.TriggerType(),
		DeliveryID:  deliveryID,
		Payload:     validated.Sanitized,
		Headers:     headers,
	})
	if err != nil {
		if persistence.IsDuplicateEvent(err) {
			// A concurrent delivery with the same id won the insert.
			original, findErr := i.Events.FindDelivery(ctx, webhook.TenantID, webhook.ID, deliveryID)
			if findErr == nil {
				return i.duplicate(ctx, original)
			}
		}

		return nil, durabilityError("record_event", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.EventIDKey, event.ID))

	workflows, err := i.Matcher.FindMatching(ctx, event.TenantID, event.TriggerType, event.TriggerContext())
	if err != nil {
		return nil, durabilityError("match_workflows", err)
	}

	started := i.fanOut(ctx, event, workflows)

	i.publishRecorded(ctx, event, len(workflows))

	return &IngestResult{
		EventID:    event.ID,
		Executions: started,
		Message:    acceptedMessage(len(started), len(workflows)),
	}, nil
}

// fanOut creates and dispatches one execution per workflow. A workflow that cannot be
// started is logged and left out of the result; its siblings still run.
func (i *Ingestor) fanOut(ctx context.Context, event *models.InboundEvent, workflows []*models.Workflow) []string {
	started := make([]string, 0, len(workflows))

	for _, wf := range workflows {
		logger := i.Logger.With("event_id", event.ID, "workflow_id", wf.ID, "tenant_id", event.TenantID)

		execution := &models.Execution{
			WorkflowID: wf.ID,
			TenantID:   event.TenantID,
			EventID:    event.ID,
			Input:      copyPayload(event.Payload),
		}

		if _, err := i.Ledger.Create(ctx, execution); err != nil {
			logger.ErrorContext(ctx, "Failed to create execution", "error", err)

			continue
		}

		if err := i.Dispatcher.Dispatch(ctx, execution, wf, event); err != nil {
			logger.ErrorContext(ctx, "Failed to dispatch execution", "execution_id", execution.ID, "error", err)

			continue
		}

		started = append(started, execution.ID)
	}

	return started
}

func (i *Ingestor) duplicate(ctx context.Context, original *models.InboundEvent) (*IngestResult, error) {
	executions, err := i.Ledger.ListByEvent(ctx, original.TenantID, original.ID)
	if err != nil {
		return nil, durabilityError("list_executions", err)
	}

	ids := make([]string, 0, len(executions))
	for _, execution := range executions {
		ids = append(ids, execution.ID)
	}

	i.Logger.InfoContext(ctx, "Duplicate delivery ignored",
		"tenant_id", original.TenantID,
		"event_id", original.ID,
		"delivery_id", original.DeliveryID)

	return &IngestResult{
		EventID:    original.ID,
		Executions: ids,
		Duplicate:  true,
		Message:    "Duplicate delivery, event already accepted",
	}, nil
}

func (i *Ingestor) publishRecorded(ctx context.Context, event *models.InboundEvent, matched int) {
	if i.Publisher == nil {
		return
	}

	err := i.Publisher.Publish(ctx, event.ID, &events.EventRecorded{
		BaseEvent:   events.NewBaseEvent(events.EventRecordedEvent, event.TenantID, ""),
		EventID:     event.ID,
		Source:      event.Source,
		TriggerType: event.TriggerType,
		DeliveryID:  event.DeliveryID,
		Matched:     matched,
	})
	if err != nil {
		i.Logger.WarnContext(ctx, "Failed to publish event recorded", "event_id", event.ID, "error", err)
	}
}

func durabilityError(op string, err error) error {
	return newError(op, "storage_unavailable", fmt.Errorf("%w: %w", ErrStorageUnavailable, err), "")
}

func acceptedMessage(started, matched int) string {
	switch {
	case matched == 0:
		return "Event accepted, no matching workflows"
	case started == matched:
		return fmt.Sprintf("Event accepted, %d workflow(s) started", started)
	default:
		return fmt.Sprintf("Event accepted, %d of %d workflow(s) started", started, matched)
	}
}

func outcome(result *IngestResult, err error) string {
	switch {
	case err == nil && result != nil && result.Duplicate:
		return outcomeDuplicate
	case err == nil:
		return outcomeAccepted
	case errors.Is(err, ErrInvalidSignature):
		return outcomeUnsigned
	case errors.Is(err, ErrRateLimited):
		return outcomeLimited
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrMalformedPayload):
		return outcomeInvalid
	case errors.Is(err, ErrStorageUnavailable):
		return outcomeFailed
	default:
		return outcomeRejected
	}
}

// header looks a header up case-insensitively.
func header(headers map[string]string, name string) string {
	if value, ok := headers[name]; ok {
		return value
	}

	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}

	return ""
}

func copyPayload(payload map[string]any) map[string]any {
	copied, _ := copyValue(payload).(map[string]any)

	return copied
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, item := range typed {
			copied[key] = copyValue(item)
		}

		return copied
	case []any:
		copied := make([]any, len(typed))
		for index, item := range typed {
			copied[index] = copyValue(item)
		}

		return copied
	default:
		return value
	}
}
