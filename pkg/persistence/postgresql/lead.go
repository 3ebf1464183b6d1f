package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

type LeadRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLeadRepository(db *sql.DB, logger *slog.Logger) *LeadRepository {
	return &LeadRepository{db: db, logger: logger}
}

const leadColumns = `
			id
		  , tenant_id
		  , email
		  , name
		  , phone
		  , source
		  , stage
		  , fields
		  , created_at
		  , updated_at`

// Upsert merges into the (tenant, email) row: non-empty attributes overwrite and
// custom fields are merged key by key.
func (r *LeadRepository) Upsert(ctx context.Context, lead *models.Lead) (*models.Lead, error) {
	email := strings.ToLower(strings.TrimSpace(lead.Email))

	id := lead.ID
	if id == "" {
		id = uuid.NewString()
	}

	fields, err := marshalDocument(lead.Fields)
	if err != nil {
		return nil, persistence.NewRepositoryError("Upsert", "lead", email, err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO leads (` + leadColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (tenant_id, email) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), leads.name)
		  , phone = COALESCE(NULLIF(EXCLUDED.phone, ''), leads.phone)
		  , source = COALESCE(NULLIF(EXCLUDED.source, ''), leads.source)
		  , stage = COALESCE(NULLIF(EXCLUDED.stage, ''), leads.stage)
		  , fields = leads.fields || EXCLUDED.fields
		  , updated_at = EXCLUDED.updated_at
		RETURNING` + leadColumns

	stored, err := scanLead(r.db.QueryRowContext(ctx, query,
		id,
		lead.TenantID,
		email,
		lead.Name,
		lead.Phone,
		lead.Source,
		lead.Stage,
		fields,
		now,
	))
	if err != nil {
		return nil, persistence.NewRepositoryError("Upsert", "lead", email, err)
	}

	return stored, nil
}

func (r *LeadRepository) GetByEmail(ctx context.Context, tenantID, email string) (*models.Lead, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	query := `SELECT` + leadColumns + `
		FROM leads
		WHERE tenant_id = $1 AND email = $2`

	lead, err := scanLead(r.db.QueryRowContext(ctx, query, tenantID, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRepositoryError("GetByEmail", "lead", email, persistence.ErrLeadNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("GetByEmail", "lead", email, err)
	}

	return lead, nil
}

func scanLead(row rowScanner) (*models.Lead, error) {
	var (
		lead   models.Lead
		fields []byte
	)

	err := row.Scan(
		&lead.ID,
		&lead.TenantID,
		&lead.Email,
		&lead.Name,
		&lead.Phone,
		&lead.Source,
		&lead.Stage,
		&fields,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(fields, &lead.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}

	if len(lead.Fields) == 0 {
		lead.Fields = nil
	}

	return &lead, nil
}
