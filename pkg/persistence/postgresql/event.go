package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

const deliveryConstraint = "idx_inbound_events_delivery"

// EventRepository is the append-only inbound event table.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

const eventColumns = `
			id
		  , tenant_id
		  , source
		  , trigger_type
		  , delivery_id
		  , headers
		  , payload
		  , received_at`

func (r *EventRepository) Insert(ctx context.Context, event *models.InboundEvent) error {
	headers, err := marshalDocument(event.Headers)
	if err != nil {
		return persistence.NewRepositoryError("Insert", "event", event.ID, err)
	}

	payload, err := marshalDocument(event.Payload)
	if err != nil {
		return persistence.NewRepositoryError("Insert", "event", event.ID, err)
	}

	query := `INSERT INTO inbound_events (` + eventColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.Source,
		event.TriggerType,
		nullString(event.DeliveryID),
		headers,
		payload,
		event.ReceivedAt,
	)
	if uniqueConstraint(err) == deliveryConstraint {
		return persistence.NewRepositoryError("Insert", "event", event.ID, persistence.ErrDuplicateEvent)
	}

	if err != nil {
		return persistence.NewRepositoryError("Insert", "event", event.ID, err)
	}

	return nil
}

func (r *EventRepository) Get(ctx context.Context, tenantID, id string) (*models.InboundEvent, error) {
	query := `SELECT` + eventColumns + `
		FROM inbound_events
		WHERE id = $1 AND tenant_id = $2`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRepositoryError("Get", "event", id, persistence.ErrEventNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "event", id, err)
	}

	return event, nil
}

func (r *EventRepository) FindByDeliveryID(
	ctx context.Context,
	tenantID, source, deliveryID string,
) (*models.InboundEvent, error) {
	query := `SELECT` + eventColumns + `
		FROM inbound_events
		WHERE tenant_id = $1 AND source = $2 AND delivery_id = $3`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, tenantID, source, deliveryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRepositoryError("FindByDeliveryID", "event", deliveryID, persistence.ErrEventNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("FindByDeliveryID", "event", deliveryID, err)
	}

	return event, nil
}

func scanEvent(row rowScanner) (*models.InboundEvent, error) {
	var (
		event            models.InboundEvent
		deliveryID       sql.NullString
		headers, payload []byte
	)

	err := row.Scan(
		&event.ID,
		&event.TenantID,
		&event.Source,
		&event.TriggerType,
		&deliveryID,
		&headers,
		&payload,
		&event.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}

	event.DeliveryID = deliveryID.String

	err = json.Unmarshal(headers, &event.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}

	err = json.Unmarshal(payload, &event.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return &event, nil
}
