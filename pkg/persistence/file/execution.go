package file

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

// ExecutionRepository stores executions under <root>/executions. The (workflow, event)
// uniqueness is reserved in <root>/execution_keys. Read-modify-write updates are
// serialized by a mutex.
type ExecutionRepository struct {
	mu   sync.Mutex
	docs jsonDir
	keys jsonDir
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		docs: newJSONDir(root, "executions"),
		keys: newJSONDir(root, "execution_keys"),
	}
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	key := keyID(execution.WorkflowID, execution.EventID)

	err := r.keys.create(key, map[string]string{"execution_id": execution.ID})
	if errors.Is(err, errExist) {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, persistence.ErrExecutionExists)
	}

	if err != nil {
		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	if execution.NodeResults == nil {
		execution.NodeResults = []models.NodeResult{}
	}

	err = r.docs.create(execution.ID, execution)
	if err != nil {
		_ = r.keys.remove(key)

		return persistence.NewRepositoryError("Create", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Get(_ context.Context, id string) (*models.Execution, error) {
	execution, err := r.load(id)
	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByEvent(_ context.Context, tenantID, eventID string) ([]*models.Execution, error) {
	all, err := readAll[models.Execution](r.docs)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListByEvent", "execution", eventID, err)
	}

	executions := make([]*models.Execution, 0)

	for _, execution := range all {
		if execution.TenantID == tenantID && execution.EventID == eventID {
			executions = append(executions, execution)
		}
	}

	sortExecutions(executions)

	return executions, nil
}

func (r *ExecutionRepository) Transition(
	_ context.Context,
	id string,
	status models.ExecutionStatus,
	at time.Time,
	reason string,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.load(id)
	if err != nil {
		return false, persistence.NewRepositoryError("Transition", "execution", id, err)
	}

	if !execution.Status.CanTransitionTo(status) {
		return false, nil
	}

	applyTransition(execution, status, at, reason)

	err = r.docs.write(id, execution)
	if err != nil {
		return false, persistence.NewRepositoryError("Transition", "execution", id, err)
	}

	return true, nil
}

func (r *ExecutionRepository) AppendNodeResult(_ context.Context, id string, result models.NodeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.load(id)
	if err != nil {
		return persistence.NewRepositoryError("AppendNodeResult", "execution", id, err)
	}

	execution.NodeResults = append(execution.NodeResults, result)

	err = r.docs.write(id, execution)
	if err != nil {
		return persistence.NewRepositoryError("AppendNodeResult", "execution", id, err)
	}

	return nil
}

func (r *ExecutionRepository) ListByStatusStartedBefore(
	_ context.Context,
	status models.ExecutionStatus,
	before time.Time,
) ([]*models.Execution, error) {
	all, err := readAll[models.Execution](r.docs)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListByStatusStartedBefore", "execution", string(status), err)
	}

	executions := make([]*models.Execution, 0)

	for _, execution := range all {
		started := execution.CreatedAt
		if execution.StartedAt != nil {
			started = *execution.StartedAt
		}

		if execution.Status == status && started.Before(before) {
			executions = append(executions, execution)
		}
	}

	sortExecutions(executions)

	return executions, nil
}

func (r *ExecutionRepository) load(id string) (*models.Execution, error) {
	var execution models.Execution

	err := r.docs.read(id, &execution)
	if errors.Is(err, errNotExist) {
		return nil, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func applyTransition(execution *models.Execution, status models.ExecutionStatus, at time.Time, reason string) {
	execution.Status = status

	if status == models.ExecutionStatusRunning {
		execution.StartedAt = &at
	}

	if status.IsTerminal() {
		execution.FinishedAt = &at
		execution.Error = reason
	}
}

func sortExecutions(executions []*models.Execution) {
	sort.SliceStable(executions, func(i, j int) bool {
		if executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].ID < executions[j].ID
		}

		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})
}
