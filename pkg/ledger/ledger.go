// Package ledger owns the lifecycle of workflow execution records.
//
// Every transition is written to the execution repository before it is announced on
// the event bus. Publishing is best effort: a bus failure is logged and never undoes
// a ledger write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/eventbus"
	"github.com/gymops/automation/pkg/events"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
)

var ErrNotTerminal = errors.New("finalize requires a terminal status")

type Ledger struct {
	repo      persistence.ExecutionRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Ledger)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New builds a ledger. publisher may be nil when no one listens to lifecycle events.
func New(
	repo persistence.ExecutionRepository,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Ledger {
	l := &Ledger{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("module", "ledger"),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Create stores a pending execution and returns its id.
func (l *Ledger) Create(ctx context.Context, execution *models.Execution) (string, error) {
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}

	execution.Status = models.ExecutionStatusPending
	execution.CreatedAt = l.now()
	execution.StartedAt = nil
	execution.FinishedAt = nil
	execution.NodeResults = []models.NodeResult{}

	err := l.repo.Create(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}

	return execution.ID, nil
}

// Start moves a pending execution to running. It reports false when the execution
// already left pending, e.g. because it was cancelled before a worker picked it up.
func (l *Ledger) Start(ctx context.Context, id string) (bool, error) {
	ok, err := l.repo.Transition(ctx, id, models.ExecutionStatusRunning, l.now(), "")
	if err != nil {
		return false, fmt.Errorf("start execution: %w", err)
	}

	if !ok {
		return false, nil
	}

	execution, err := l.repo.Get(ctx, id)
	if err != nil {
		return true, fmt.Errorf("start execution: %w", err)
	}

	l.publish(ctx, execution.ID, &events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, execution.TenantID, execution.WorkflowID),
		ExecutionID: execution.ID,
		EventID:     execution.EventID,
	})

	return true, nil
}

func (l *Ledger) AppendNodeResult(ctx context.Context, id string, result models.NodeResult) error {
	err := l.repo.AppendNodeResult(ctx, id, result)
	if err != nil {
		return fmt.Errorf("append node result: %w", err)
	}

	return nil
}

// Finalize writes the terminal status. Only the first call wins; later calls return
// false without error and publish nothing.
func (l *Ledger) Finalize(ctx context.Context, id string, status models.ExecutionStatus, reason string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("finalize execution %s as %q: %w", id, status, ErrNotTerminal)
	}

	ok, err := l.repo.Transition(ctx, id, status, l.now(), reason)
	if err != nil {
		return false, fmt.Errorf("finalize execution: %w", err)
	}

	if !ok {
		l.logger.DebugContext(ctx, "execution already finalized", "execution_id", id, "status", status)

		return false, nil
	}

	execution, err := l.repo.Get(ctx, id)
	if err != nil {
		return true, fmt.Errorf("finalize execution: %w", err)
	}

	l.publish(ctx, execution.ID, lifecycleEvent(execution))

	return true, nil
}

// Get returns the execution if it belongs to the tenant.
func (l *Ledger) Get(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	execution, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.TenantID != tenantID {
		return nil, persistence.NewRepositoryError("Get", "execution", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (l *Ledger) ListByEvent(ctx context.Context, tenantID, eventID string) ([]*models.Execution, error) {
	executions, err := l.repo.ListByEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	return executions, nil
}

// Stale lists executions running since before the cutoff.
func (l *Ledger) Stale(ctx context.Context, before time.Time) ([]*models.Execution, error) {
	executions, err := l.repo.ListByStatusStartedBefore(ctx, models.ExecutionStatusRunning, before)
	if err != nil {
		return nil, fmt.Errorf("list stale executions: %w", err)
	}

	return executions, nil
}

// Publish forwards an event to the bus, if any.
func (l *Ledger) Publish(ctx context.Context, key string, event eventbus.Event) {
	l.publish(ctx, key, event)
}

func (l *Ledger) publish(ctx context.Context, key string, event eventbus.Event) {
	if l.publisher == nil {
		return
	}

	err := l.publisher.Publish(ctx, key, event)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"event_type", event.GetType(),
			"key", key,
			"error", err)
	}
}

func lifecycleEvent(execution *models.Execution) eventbus.Event {
	var duration int64

	if execution.FinishedAt != nil {
		started := execution.CreatedAt
		if execution.StartedAt != nil {
			started = *execution.StartedAt
		}

		duration = execution.FinishedAt.Sub(started).Milliseconds()
	}

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		return &events.ExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, execution.TenantID, execution.WorkflowID),
			ExecutionID: execution.ID,
			EventID:     execution.EventID,
			DurationMs:  duration,
		}
	case models.ExecutionStatusCancelled:
		return &events.ExecutionCancelled{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.TenantID, execution.WorkflowID),
			ExecutionID: execution.ID,
			EventID:     execution.EventID,
			Reason:      execution.Error,
		}
	default:
		return &events.ExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.TenantID, execution.WorkflowID),
			ExecutionID: execution.ID,
			EventID:     execution.EventID,
			Error:       execution.Error,
			DurationMs:  duration,
		}
	}
}
