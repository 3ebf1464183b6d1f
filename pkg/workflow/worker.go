package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gymops/automation/pkg/eventbus"
	"github.com/gymops/automation/pkg/events"
	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

// Worker consumes ExecutionRequested events published by a queue mode dispatcher
// and runs them through a local inline dispatcher.
type Worker struct {
	dispatcher *Dispatcher
	ledger     *ledger.Ledger
	workflows  persistence.WorkflowRepository
	events     persistence.EventRepository
	logger     *slog.Logger
}

func NewWorker(
	dispatcher *Dispatcher,
	ledger *ledger.Ledger,
	workflows persistence.WorkflowRepository,
	eventRepo persistence.EventRepository,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		dispatcher: dispatcher,
		ledger:     ledger,
		workflows:  workflows,
		events:     eventRepo,
		logger:     logger.With("module", "worker"),
	}
}

// Register subscribes the worker to execution requests on the bus.
func (w *Worker) Register(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.ExecutionRequestedEvent, w.HandleExecutionRequested)
}

// HandleExecutionRequested loads the execution and starts it. Redelivered requests for
// executions that already left pending are acknowledged without running anything.
func (w *Worker) HandleExecutionRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.ExecutionRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	logger := w.logger.With("execution_id", request.ExecutionID, "tenant_id", request.TenantID)

	execution, err := w.ledger.Get(ctx, request.TenantID, request.ExecutionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			logger.WarnContext(ctx, "Requested execution does not exist")

			return nil
		}

		return err
	}

	if execution.Status != models.ExecutionStatusPending {
		logger.DebugContext(ctx, "Execution already picked up", "status", execution.Status)

		return nil
	}

	wf, err := w.workflows.Get(ctx, execution.TenantID, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			_, finalizeErr := w.ledger.Finalize(ctx, execution.ID, models.ExecutionStatusFailed, "workflow not found")

			return finalizeErr
		}

		return err
	}

	inbound, err := w.events.Get(ctx, execution.TenantID, execution.EventID)
	if err != nil && !persistence.IsEventNotFound(err) {
		return err
	}

	return w.dispatcher.Dispatch(ctx, execution, wf, inbound)
}
