package file

import (
	"context"
	"errors"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

type deliveryRecord struct {
	EventID string `json:"event_id"`
}

// EventRepository stores inbound events under <root>/events. Delivery ids are
// reserved in <root>/deliveries with exclusive file creation.
type EventRepository struct {
	docs       jsonDir
	deliveries jsonDir
}

func NewEventRepository(root string) *EventRepository {
	return &EventRepository{
		docs:       newJSONDir(root, "events"),
		deliveries: newJSONDir(root, "deliveries"),
	}
}

// Insert writes the event before reserving its delivery id, so a reservation
// always points at a readable event.
func (r *EventRepository) Insert(_ context.Context, event *models.InboundEvent) error {
	if err := r.docs.create(event.ID, event); err != nil {
		return persistence.NewRepositoryError("Insert", "event", event.ID, err)
	}

	if event.DeliveryID == "" {
		return nil
	}

	err := r.deliveries.create(keyID(event.TenantID, event.Source, event.DeliveryID), deliveryRecord{EventID: event.ID})
	if err == nil {
		return nil
	}

	_ = r.docs.remove(event.ID)

	if errors.Is(err, errExist) {
		return persistence.NewRepositoryError("Insert", "event", event.ID, persistence.ErrDuplicateEvent)
	}

	return persistence.NewRepositoryError("Insert", "event", event.ID, err)
}

func (r *EventRepository) Get(_ context.Context, tenantID, id string) (*models.InboundEvent, error) {
	var event models.InboundEvent

	err := r.docs.read(id, &event)
	if errors.Is(err, errNotExist) {
		return nil, persistence.NewRepositoryError("Get", "event", id, persistence.ErrEventNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "event", id, err)
	}

	if event.TenantID != tenantID {
		return nil, persistence.NewRepositoryError("Get", "event", id, persistence.ErrEventNotFound)
	}

	return &event, nil
}

func (r *EventRepository) FindByDeliveryID(
	ctx context.Context,
	tenantID, source, deliveryID string,
) (*models.InboundEvent, error) {
	var record deliveryRecord

	err := r.deliveries.read(keyID(tenantID, source, deliveryID), &record)
	if errors.Is(err, errNotExist) {
		return nil, persistence.NewRepositoryError("FindByDeliveryID", "event", deliveryID, persistence.ErrEventNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("FindByDeliveryID", "event", deliveryID, err)
	}

	return r.Get(ctx, tenantID, record.EventID)
}
