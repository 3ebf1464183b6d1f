package eventstore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gymops/automation/pkg/eventstore"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*eventstore.Store, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return eventstore.New(p.EventRepository(), slog.New(slog.NewTextHandler(io.Discard, nil))), p
}

func TestStore_Record(t *testing.T) {
	store, p := newStore(t)
	ctx := context.Background()

	event, err := store.Record(ctx, eventstore.RecordInput{
		TenantID:    "org1",
		Source:      "wh1",
		TriggerType: models.TriggerTypeWebhook,
		Payload:     map[string]any{"email": "a@b.com"},
		Headers: map[string]string{
			"Content-Type":        "application/json",
			"X-Webhook-Signature": "abc",
			"Authorization":       "Bearer x",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.ReceivedAt.IsZero())
	assert.Equal(t, map[string]string{"content-type": "application/json"}, event.Headers)

	stored, err := p.EventRepository().Get(ctx, "org1", event.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", stored.Payload["email"])
}

func TestStore_RecordWithoutDeliveryIDDuplicates(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	input := eventstore.RecordInput{TenantID: "org1", Source: "wh1", TriggerType: models.TriggerTypeWebhook}

	first, err := store.Record(ctx, input)
	require.NoError(t, err)

	second, err := store.Record(ctx, input)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStore_RecordDuplicateDelivery(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	input := eventstore.RecordInput{
		TenantID:    "org1",
		Source:      "wh1",
		TriggerType: models.TriggerTypeWebhook,
		DeliveryID:  "d-1",
	}

	first, err := store.Record(ctx, input)
	require.NoError(t, err)

	_, err = store.Record(ctx, input)
	assert.True(t, persistence.IsDuplicateEvent(err))

	original, err := store.FindDelivery(ctx, "org1", "wh1", "d-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, original.ID)
}

func TestStore_RecordRequiresTenantAndSource(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Record(context.Background(), eventstore.RecordInput{Source: "wh1"})
	assert.ErrorIs(t, err, eventstore.ErrMissingIdentity)
}
