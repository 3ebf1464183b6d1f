// Package file provides a JSON-file persistence implementation for development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/gymops/automation/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of the local file system.
type Persistence struct {
	root          string
	webhookRepo   *WebhookRepository
	workflowRepo  *WorkflowRepository
	eventRepo     *EventRepository
	executionRepo *ExecutionRepository
	leadRepo      *LeadRepository
}

// NewPersistence creates a file persistence rooted at root. A "file://" prefix is accepted.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		webhookRepo:   NewWebhookRepository(cleanRoot),
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		eventRepo:     NewEventRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
		leadRepo:      NewLeadRepository(cleanRoot),
	}
}

func (fp *Persistence) WebhookRepository() persistence.WebhookRepository {
	return fp.webhookRepo
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) EventRepository() persistence.EventRepository {
	return fp.eventRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) LeadRepository() persistence.LeadRepository {
	return fp.leadRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists, creating it on first use.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(fp.root, 0750)
}
