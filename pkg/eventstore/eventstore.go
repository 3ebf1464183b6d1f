// Package eventstore records accepted inbound triggers before any workflow runs.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

var ErrMissingIdentity = errors.New("record event: tenant and source are required")

// RecordInput is everything the boundary knows about an accepted request.
type RecordInput struct {
	TenantID    string
	Source      string
	TriggerType string
	DeliveryID  string
	Payload     map[string]any
	Headers     map[string]string
}

type Store struct {
	repo   persistence.EventRepository
	logger *slog.Logger
	now    func() time.Time
}

func New(repo persistence.EventRepository, logger *slog.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger.With("module", "eventstore"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record inserts one immutable event. A persistence.ErrDuplicateEvent error means the
// delivery id was already recorded; any other error must abort the request.
func (s *Store) Record(ctx context.Context, input RecordInput) (*models.InboundEvent, error) {
	if input.TenantID == "" || input.Source == "" {
		return nil, ErrMissingIdentity
	}

	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	event := &models.InboundEvent{
		ID:          uuid.NewString(),
		TenantID:    input.TenantID,
		Source:      input.Source,
		TriggerType: input.TriggerType,
		DeliveryID:  input.DeliveryID,
		Headers:     recordedHeaders(input.Headers),
		Payload:     payload,
		ReceivedAt:  s.now(),
	}

	err := s.repo.Insert(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}

	s.logger.DebugContext(ctx, "inbound event recorded",
		"event_id", event.ID,
		"tenant_id", event.TenantID,
		"source", event.Source,
		"trigger_type", event.TriggerType)

	return event, nil
}

// FindDelivery returns the event previously recorded for the delivery id.
func (s *Store) FindDelivery(ctx context.Context, tenantID, source, deliveryID string) (*models.InboundEvent, error) {
	event, err := s.repo.FindByDeliveryID(ctx, tenantID, source, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("find delivery: %w", err)
	}

	return event, nil
}

// secretHeaders never reach the audit trail.
var secretHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"x-hub-signature":     {},
	"x-hub-signature-256": {},
	"x-api-key":           {},
}

// recordedHeaders lower-cases header names and drops credentials and signatures.
func recordedHeaders(headers map[string]string) map[string]string {
	recorded := make(map[string]string, len(headers))

	for name, value := range headers {
		name = strings.ToLower(name)

		if _, secret := secretHeaders[name]; secret || strings.Contains(name, "signature") {
			continue
		}

		recorded[name] = value
	}

	return recorded
}
