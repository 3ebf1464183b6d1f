package services

import (
	"context"
	"errors"

	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/workflow"
)

// Canceller stops executions; *workflow.Dispatcher implements it.
type Canceller interface {
	Cancel(ctx context.Context, tenantID, id string) (*models.Execution, error)
}

// Executions exposes tenant-scoped reads and cancellation of the execution ledger.
type Executions struct {
	ledger    *ledger.Ledger
	events    persistence.EventRepository
	canceller Canceller
}

func NewExecutions(ledger *ledger.Ledger, eventRepo persistence.EventRepository, canceller Canceller) *Executions {
	return &Executions{
		ledger:    ledger,
		events:    eventRepo,
		canceller: canceller,
	}
}

func (s *Executions) Get(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	if tenantID == "" {
		return nil, newError("get_execution", "missing_identity", ErrMissingIdentity, "")
	}

	execution, err := s.ledger.Get(ctx, tenantID, id)
	if err != nil {
		return nil, executionError("get_execution", err)
	}

	return execution, nil
}

// ListByEvent returns the executions started for an event of the tenant.
func (s *Executions) ListByEvent(ctx context.Context, tenantID, eventID string) ([]*models.Execution, error) {
	if tenantID == "" {
		return nil, newError("list_executions", "missing_identity", ErrMissingIdentity, "")
	}

	if _, err := s.events.Get(ctx, tenantID, eventID); err != nil {
		if persistence.IsEventNotFound(err) || persistence.IsInvalidID(err) {
			return nil, newError("list_executions", "event_not_found", ErrEventMissing, "")
		}

		return nil, err
	}

	executions, err := s.ledger.ListByEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}

	return executions, nil
}

// Cancel finalizes a pending or running execution as cancelled.
func (s *Executions) Cancel(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	if tenantID == "" {
		return nil, newError("cancel_execution", "missing_identity", ErrMissingIdentity, "")
	}

	execution, err := s.canceller.Cancel(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, workflow.ErrAlreadyFinished) {
			return execution, newError("cancel_execution", "already_finished", ErrNotCancellable, "")
		}

		return nil, executionError("cancel_execution", err)
	}

	return execution, nil
}

func executionError(op string, err error) error {
	if persistence.IsExecutionNotFound(err) || persistence.IsInvalidID(err) {
		return newError(op, "execution_not_found", ErrExecutionMissing, "")
	}

	return err
}
