package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

// WebhookRepository handles webhook configuration rows.
type WebhookRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWebhookRepository(db *sql.DB, logger *slog.Logger) *WebhookRepository {
	return &WebhookRepository{db: db, logger: logger}
}

const webhookColumns = `
			id
		  , tenant_id
		  , name
		  , provider
		  , external_id
		  , enabled
		  , secret
		  , signature_algorithm
		  , signature_encoding
		  , signature_header
		  , access_token
		  , rate_limit
		  , payload_schema
		  , created_at
		  , updated_at`

func (r *WebhookRepository) Get(ctx context.Context, tenantID, id string) (*models.Webhook, error) {
	query := `SELECT` + webhookColumns + `
		FROM webhooks
		WHERE id = $1 AND tenant_id = $2`

	webhook, err := scanWebhook(r.db.QueryRowContext(ctx, query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRepositoryError("Get", "webhook", id, persistence.ErrWebhookNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "webhook", id, err)
	}

	return webhook, nil
}

func (r *WebhookRepository) FindByExternalID(
	ctx context.Context,
	provider models.WebhookProvider,
	externalID string,
) (*models.Webhook, error) {
	query := `SELECT` + webhookColumns + `
		FROM webhooks
		WHERE provider = $1 AND external_id = $2`

	webhook, err := scanWebhook(r.db.QueryRowContext(ctx, query, string(provider), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRepositoryError("FindByExternalID", "webhook", externalID, persistence.ErrWebhookNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("FindByExternalID", "webhook", externalID, err)
	}

	return webhook, nil
}

func (r *WebhookRepository) Save(ctx context.Context, webhook *models.Webhook) error {
	now := time.Now().UTC()
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = now
	}

	webhook.UpdatedAt = now

	rateLimit, err := json.Marshal(webhook.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit: %w", err)
	}

	var schema []byte
	if webhook.Schema != nil {
		schema, err = json.Marshal(webhook.Schema)
		if err != nil {
			return fmt.Errorf("failed to marshal payload schema: %w", err)
		}
	}

	query := `
		INSERT INTO webhooks (` + webhookColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id
		  , name = EXCLUDED.name
		  , provider = EXCLUDED.provider
		  , external_id = EXCLUDED.external_id
		  , enabled = EXCLUDED.enabled
		  , secret = EXCLUDED.secret
		  , signature_algorithm = EXCLUDED.signature_algorithm
		  , signature_encoding = EXCLUDED.signature_encoding
		  , signature_header = EXCLUDED.signature_header
		  , access_token = EXCLUDED.access_token
		  , rate_limit = EXCLUDED.rate_limit
		  , payload_schema = EXCLUDED.payload_schema
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		webhook.ID,
		webhook.TenantID,
		webhook.Name,
		string(webhook.Provider),
		nullString(webhook.ExternalID),
		webhook.Enabled,
		nullString(webhook.Secret),
		nullString(webhook.SignatureAlgorithm),
		nullString(webhook.SignatureEncoding),
		nullString(webhook.SignatureHeader),
		nullString(webhook.AccessToken),
		rateLimit,
		schema,
		webhook.CreatedAt,
		webhook.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "webhook", webhook.ID, err)
	}

	return nil
}

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	var (
		webhook                                 models.Webhook
		provider                                string
		externalID, secret, algorithm, encoding sql.NullString
		header, accessToken                     sql.NullString
		rateLimit, schema                       []byte
	)

	err := row.Scan(
		&webhook.ID,
		&webhook.TenantID,
		&webhook.Name,
		&provider,
		&externalID,
		&webhook.Enabled,
		&secret,
		&algorithm,
		&encoding,
		&header,
		&accessToken,
		&rateLimit,
		&schema,
		&webhook.CreatedAt,
		&webhook.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	webhook.Provider = models.WebhookProvider(provider)
	webhook.ExternalID = externalID.String
	webhook.Secret = secret.String
	webhook.SignatureAlgorithm = algorithm.String
	webhook.SignatureEncoding = encoding.String
	webhook.SignatureHeader = header.String
	webhook.AccessToken = accessToken.String

	err = json.Unmarshal(rateLimit, &webhook.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal rate limit: %w", err)
	}

	if len(schema) > 0 {
		err = json.Unmarshal(schema, &webhook.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload schema: %w", err)
		}
	}

	return &webhook, nil
}
