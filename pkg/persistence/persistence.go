// Package persistence defines the storage contracts of the automation core.
// Every read is scoped by tenant id; callers never get rows of another tenant.
package persistence

import (
	"context"
	"time"

	"github.com/gymops/automation/pkg/models"
)

type Persistence interface {
	WebhookRepository() WebhookRepository
	WorkflowRepository() WorkflowRepository
	EventRepository() EventRepository
	ExecutionRepository() ExecutionRepository
	LeadRepository() LeadRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WebhookRepository stores inbound endpoint configuration.
type WebhookRepository interface {
	Get(ctx context.Context, tenantID, id string) (*models.Webhook, error)
	// FindByExternalID resolves provider-side identifiers such as a Facebook page id.
	FindByExternalID(ctx context.Context, provider models.WebhookProvider, externalID string) (*models.Webhook, error)
	Save(ctx context.Context, webhook *models.Webhook) error
}

// WorkflowRepository gives read access to workflow definitions.
type WorkflowRepository interface {
	ListEnabledByTrigger(ctx context.Context, tenantID, triggerType string) ([]*models.Workflow, error)
	Get(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
}

// EventRepository is insert-only.
type EventRepository interface {
	// Insert fails with ErrDuplicateEvent when the event carries a delivery id
	// already recorded for the same tenant and source.
	Insert(ctx context.Context, event *models.InboundEvent) error
	Get(ctx context.Context, tenantID, id string) (*models.InboundEvent, error)
	FindByDeliveryID(ctx context.Context, tenantID, source, deliveryID string) (*models.InboundEvent, error)
}

type ExecutionRepository interface {
	// Create fails with ErrExecutionExists when the (workflow, event) pair already has an execution.
	Create(ctx context.Context, execution *models.Execution) error
	Get(ctx context.Context, id string) (*models.Execution, error)
	ListByEvent(ctx context.Context, tenantID, eventID string) ([]*models.Execution, error)
	// Transition moves the execution to status if the current status allows it.
	// It reports false, without error, when the transition is not allowed.
	Transition(ctx context.Context, id string, status models.ExecutionStatus, at time.Time, reason string) (bool, error)
	AppendNodeResult(ctx context.Context, id string, result models.NodeResult) error
	ListByStatusStartedBefore(ctx context.Context, status models.ExecutionStatus, before time.Time) ([]*models.Execution, error)
}

type LeadRepository interface {
	// Upsert inserts the lead or merges it into the existing (tenant, email) record.
	Upsert(ctx context.Context, lead *models.Lead) (*models.Lead, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*models.Lead, error)
}

// TransitionSources lists the statuses from which status can be reached.
func TransitionSources(status models.ExecutionStatus) []models.ExecutionStatus {
	candidates := []models.ExecutionStatus{
		models.ExecutionStatusPending,
		models.ExecutionStatusRunning,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled,
	}

	var sources []models.ExecutionStatus

	for _, from := range candidates {
		if from.CanTransitionTo(status) {
			sources = append(sources, from)
		}
	}

	return sources
}
