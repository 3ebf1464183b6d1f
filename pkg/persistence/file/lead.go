package file

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

// LeadRepository stores leads under <root>/leads keyed by tenant and lower-cased email.
type LeadRepository struct {
	mu   sync.Mutex
	docs jsonDir
}

func NewLeadRepository(root string) *LeadRepository {
	return &LeadRepository{docs: newJSONDir(root, "leads")}
}

func (r *LeadRepository) Upsert(_ context.Context, lead *models.Lead) (*models.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(lead.Email))
	key := keyID(lead.TenantID, email)
	now := time.Now().UTC()

	var existing models.Lead

	err := r.docs.read(key, &existing)

	switch {
	case errors.Is(err, errNotExist):
		stored := *lead
		stored.Email = email

		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}

		stored.CreatedAt = now
		stored.UpdatedAt = now

		err = r.docs.write(key, &stored)
		if err != nil {
			return nil, persistence.NewRepositoryError("Upsert", "lead", email, err)
		}

		return &stored, nil
	case err != nil:
		return nil, persistence.NewRepositoryError("Upsert", "lead", email, err)
	}

	mergeLead(&existing, lead)
	existing.UpdatedAt = now

	err = r.docs.write(key, &existing)
	if err != nil {
		return nil, persistence.NewRepositoryError("Upsert", "lead", email, err)
	}

	return &existing, nil
}

func (r *LeadRepository) GetByEmail(_ context.Context, tenantID, email string) (*models.Lead, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var lead models.Lead

	err := r.docs.read(keyID(tenantID, email), &lead)
	if errors.Is(err, errNotExist) {
		return nil, persistence.NewRepositoryError("GetByEmail", "lead", email, persistence.ErrLeadNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("GetByEmail", "lead", email, err)
	}

	return &lead, nil
}

// mergeLead overwrites non-empty attributes and merges custom fields.
func mergeLead(existing, update *models.Lead) {
	if update.Name != "" {
		existing.Name = update.Name
	}

	if update.Phone != "" {
		existing.Phone = update.Phone
	}

	if update.Source != "" {
		existing.Source = update.Source
	}

	if update.Stage != "" {
		existing.Stage = update.Stage
	}

	if len(update.Fields) > 0 && existing.Fields == nil {
		existing.Fields = make(map[string]any, len(update.Fields))
	}

	for key, value := range update.Fields {
		existing.Fields[key] = value
	}
}
