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

// WorkflowRepository stores workflow definitions. Nodes and connections are kept as
// JSONB documents since the engine only ever reads a workflow as a whole.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
			id
		  , tenant_id
		  , name
		  , description
		  , enabled
		  , trigger_type
		  , trigger_filters
		  , trigger_node_id
		  , nodes
		  , connections
		  , variables
		  , created_at
		  , updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ListEnabledByTrigger returns enabled workflows of the tenant ordered by creation time.
func (r *WorkflowRepository) ListEnabledByTrigger(
	ctx context.Context,
	tenantID, triggerType string,
) ([]*models.Workflow, error) {
	query := `SELECT` + workflowColumns + `
		FROM workflows
		WHERE tenant_id = $1 AND trigger_type = $2 AND enabled
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, tenantID, triggerType)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListEnabledByTrigger", "workflow", tenantID, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("ListEnabledByTrigger", "workflow", tenantID, err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewRepositoryError("ListEnabledByTrigger", "workflow", tenantID, err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Get(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	query := `SELECT` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND tenant_id = $2`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRepositoryError("Get", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "workflow", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	documents := make([][]byte, 0, 4)

	for _, value := range []any{workflow.Trigger.Filters, workflow.Nodes, workflow.Connections, workflow.Variables} {
		document, err := marshalDocument(value)
		if err != nil {
			return persistence.NewRepositoryError("Save", "workflow", workflow.ID, err)
		}

		documents = append(documents, document)
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id
		  , name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , enabled = EXCLUDED.enabled
		  , trigger_type = EXCLUDED.trigger_type
		  , trigger_filters = EXCLUDED.trigger_filters
		  , trigger_node_id = EXCLUDED.trigger_node_id
		  , nodes = EXCLUDED.nodes
		  , connections = EXCLUDED.connections
		  , variables = EXCLUDED.variables
		  , updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.TenantID,
		workflow.Name,
		workflow.Description,
		workflow.Enabled,
		workflow.Trigger.Type,
		documents[0],
		workflow.TriggerNodeID,
		documents[1],
		documents[2],
		documents[3],
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "workflow", workflow.ID, err)
	}

	return nil
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow                               models.Workflow
		filters, nodes, connections, variables []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.TenantID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Enabled,
		&workflow.Trigger.Type,
		&filters,
		&workflow.TriggerNodeID,
		&nodes,
		&connections,
		&variables,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	targets := []struct {
		name string
		data []byte
		dest any
	}{
		{"trigger filters", filters, &workflow.Trigger.Filters},
		{"nodes", nodes, &workflow.Nodes},
		{"connections", connections, &workflow.Connections},
		{"variables", variables, &workflow.Variables},
	}

	for _, target := range targets {
		err = json.Unmarshal(target.data, target.dest)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", target.name, err)
		}
	}

	return &workflow, nil
}

// marshalDocument encodes nil maps and slices as their empty JSON form so NOT NULL
// JSONB columns accept them.
func marshalDocument(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	if string(data) == "null" {
		switch value.(type) {
		case []*models.WorkflowNode, []*models.Connection, []models.NodeResult:
			return []byte("[]"), nil
		default:
			return []byte("{}"), nil
		}
	}

	return data, nil
}
