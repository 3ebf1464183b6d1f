package file

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

// WorkflowRepository stores workflow definitions under <root>/workflows.
type WorkflowRepository struct {
	docs jsonDir
}

func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{docs: newJSONDir(root, "workflows")}
}

// ListEnabledByTrigger returns enabled workflows of the tenant ordered by creation time.
func (r *WorkflowRepository) ListEnabledByTrigger(
	_ context.Context,
	tenantID, triggerType string,
) ([]*models.Workflow, error) {
	all, err := readAll[models.Workflow](r.docs)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListEnabledByTrigger", "workflow", tenantID, err)
	}

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if workflow.TenantID == tenantID && workflow.Enabled && workflow.Trigger.Type == triggerType {
			workflows = append(workflows, workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID < workflows[j].ID
		}

		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *WorkflowRepository) Get(_ context.Context, tenantID, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := r.docs.read(id, &workflow)
	if errors.Is(err, errNotExist) {
		return nil, persistence.NewRepositoryError("Get", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewRepositoryError("Get", "workflow", id, err)
	}

	if workflow.TenantID != tenantID {
		return nil, persistence.NewRepositoryError("Get", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	err := r.docs.write(workflow.ID, workflow)
	if err != nil {
		return persistence.NewRepositoryError("Save", "workflow", workflow.ID, err)
	}

	return nil
}
