package file

import (
	"context"
	"errors"
	"time"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

// WebhookRepository stores webhooks under <root>/webhooks.
type WebhookRepository struct {
	docs jsonDir
}

func NewWebhookRepository(root string) *WebhookRepository {
	return &WebhookRepository{docs: newJSONDir(root, "webhooks")}
}

func (r *WebhookRepository) Get(_ context.Context, tenantID, id string) (*models.Webhook, error) {
	var webhook models.Webhook

	err := r.docs.read(id, &webhook)
	if errors.Is(err, errNotExist) {
		return nil, persistence.NewRepositoryError("Get", "webhook", id, persistence.ErrWebhookNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "webhook", id, err)
	}

	if webhook.TenantID != tenantID {
		return nil, persistence.NewRepositoryError("Get", "webhook", id, persistence.ErrWebhookNotFound)
	}

	return &webhook, nil
}

func (r *WebhookRepository) FindByExternalID(
	_ context.Context,
	provider models.WebhookProvider,
	externalID string,
) (*models.Webhook, error) {
	webhooks, err := readAll[models.Webhook](r.docs)
	if err != nil {
		return nil, persistence.NewRepositoryError("FindByExternalID", "webhook", externalID, err)
	}

	for _, webhook := range webhooks {
		if webhook.Provider == provider && webhook.ExternalID == externalID {
			return webhook, nil
		}
	}

	return nil, persistence.NewRepositoryError("FindByExternalID", "webhook", externalID, persistence.ErrWebhookNotFound)
}

func (r *WebhookRepository) Save(_ context.Context, webhook *models.Webhook) error {
	now := time.Now().UTC()
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = now
	}

	webhook.UpdatedAt = now

	err := r.docs.write(webhook.ID, webhook)
	if err != nil {
		return persistence.NewRepositoryError("Save", "webhook", webhook.ID, err)
	}

	return nil
}
