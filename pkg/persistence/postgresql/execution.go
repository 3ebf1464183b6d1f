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
	"github.com/lib/pq"
)

const executionConstraint = "uq_workflow_executions_workflow_event"

// ExecutionRepository stores the execution ledger. Status changes are conditional
// updates, so concurrent finalizers cannot both win.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
			id
		  , workflow_id
		  , tenant_id
		  , event_id
		  , status
		  , input
		  , node_results
		  , error
		  , created_at
		  , started_at
		  , finished_at`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	if execution.NodeResults == nil {
		execution.NodeResults = []models.NodeResult{}
	}

	input, err := marshalDocument(execution.Input)
	if err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	results, err := marshalDocument(execution.NodeResults)
	if err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	query := `INSERT INTO workflow_executions (` + executionColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.TenantID,
		execution.EventID,
		string(execution.Status),
		input,
		results,
		execution.Error,
		execution.CreatedAt,
		execution.StartedAt,
		execution.FinishedAt,
	)
	if uniqueConstraint(err) == executionConstraint {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, persistence.ErrExecutionExists)
	}

	if err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRepositoryError("Get", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByEvent(ctx context.Context, tenantID, eventID string) ([]*models.Execution, error) {
	query := `SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE tenant_id = $1 AND event_id = $2
		ORDER BY created_at, id`

	executions, err := r.list(ctx, query, tenantID, eventID)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListByEvent", "execution", eventID, err)
	}

	return executions, nil
}

func (r *ExecutionRepository) Transition(
	ctx context.Context,
	id string,
	status models.ExecutionStatus,
	at time.Time,
	reason string,
) (bool, error) {
	sources := persistence.TransitionSources(status)
	if len(sources) == 0 {
		return false, nil
	}

	from := make([]string, 0, len(sources))
	for _, source := range sources {
		from = append(from, string(source))
	}

	var (
		result sql.Result
		err    error
	)

	if status == models.ExecutionStatusRunning {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflow_executions
			SET status = $2, started_at = $3
			WHERE id = $1 AND status = ANY($4)
		`, id, string(status), at, pq.Array(from))
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflow_executions
			SET status = $2, finished_at = $3, error = $4
			WHERE id = $1 AND status = ANY($5)
		`, id, string(status), at, reason, pq.Array(from))
	}

	if err != nil {
		return false, persistence.NewRepositoryError("Transition", "execution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewRepositoryError("Transition", "execution", id, err)
	}

	if affected > 0 {
		return true, nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return false, persistence.NewRepositoryError("Transition", "execution", id, err)
	}

	if !exists {
		return false, persistence.NewRepositoryError("Transition", "execution", id, persistence.ErrExecutionNotFound)
	}

	return false, nil
}

func (r *ExecutionRepository) AppendNodeResult(ctx context.Context, id string, result models.NodeResult) error {
	document, err := json.Marshal([]models.NodeResult{result})
	if err != nil {
		return persistence.NewRepositoryError("AppendNodeResult", "execution", id, err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET node_results = node_results || $2::jsonb
		WHERE id = $1
	`, id, document)
	if err != nil {
		return persistence.NewRepositoryError("AppendNodeResult", "execution", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.NewRepositoryError("AppendNodeResult", "execution", id, err)
	}

	if affected == 0 {
		return persistence.NewRepositoryError("AppendNodeResult", "execution", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) ListByStatusStartedBefore(
	ctx context.Context,
	status models.ExecutionStatus,
	before time.Time,
) ([]*models.Execution, error) {
	query := `SELECT` + executionColumns + `
		FROM workflow_executions
		WHERE status = $1 AND COALESCE(started_at, created_at) < $2
		ORDER BY created_at, id`

	executions, err := r.list(ctx, query, string(status), before)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListByStatusStartedBefore", "execution", string(status), err)
	}

	return executions, nil
}

func (r *ExecutionRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check execution: %w", err)
	}

	return exists, nil
}

func (r *ExecutionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution             models.Execution
		status                string
		input, results        []byte
		startedAt, finishedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TenantID,
		&execution.EventID,
		&status,
		&input,
		&results,
		&execution.Error,
		&execution.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	err = json.Unmarshal(input, &execution.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	err = json.Unmarshal(results, &execution.NodeResults)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node results: %w", err)
	}

	return &execution, nil
}
