package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gymops/automation/pkg/eventbus"
	"github.com/gymops/automation/pkg/events"
	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/metrics"
	"github.com/gymops/automation/pkg/models"
	"golang.org/x/sync/semaphore"
)

// DispatchMode selects where executions run.
type DispatchMode string

const (
	// DispatchInline runs executions in goroutines of the accepting process.
	DispatchInline DispatchMode = "inline"
	// DispatchQueue publishes ExecutionRequested for a worker process.
	DispatchQueue DispatchMode = "queue"
)

const DefaultMaxConcurrent = 64

var (
	ErrAlreadyFinished = errors.New("execution already finished")
	ErrUnknownMode     = errors.New("unknown dispatch mode")
)

type DispatcherConfig struct {
	Mode DispatchMode
	// MaxConcurrent bounds the executions running at once in this process.
	MaxConcurrent int64
	// ExecutionTimeout fails executions that run longer. Zero disables it.
	ExecutionTimeout time.Duration
}

// Dispatcher hands pending executions to the executor and tracks running ones so
// they can be cancelled.
type Dispatcher struct {
	executor  *Executor
	ledger    *ledger.Ledger
	publisher eventbus.EventPublisher
	config    DispatcherConfig
	sem       *semaphore.Weighted
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	wg      sync.WaitGroup
}

func NewDispatcher(
	executor *Executor,
	ledger *ledger.Ledger,
	publisher eventbus.EventPublisher,
	config DispatcherConfig,
	logger *slog.Logger,
) (*Dispatcher, error) {
	if config.Mode == "" {
		config.Mode = DispatchInline
	}

	if config.Mode != DispatchInline && config.Mode != DispatchQueue {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, config.Mode)
	}

	if config.Mode == DispatchQueue && publisher == nil {
		return nil, errors.New("queue dispatch requires an event publisher")
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}

	return &Dispatcher{
		executor:  executor,
		ledger:    ledger,
		publisher: publisher,
		config:    config,
		sem:       semaphore.NewWeighted(config.MaxConcurrent),
		logger:    logger.With("module", "dispatcher", "mode", string(config.Mode)),
		running:   make(map[string]context.CancelCauseFunc),
	}, nil
}

func (d *Dispatcher) Mode() DispatchMode {
	return d.config.Mode
}

// Dispatch starts a pending execution without waiting for it. The execution does not
// inherit the cancellation of ctx, which usually belongs to the HTTP request.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	event *models.InboundEvent,
) error {
	if d.config.Mode == DispatchQueue {
		return d.enqueue(ctx, execution)
	}

	runCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		d.Run(runCtx, execution, workflow, event)
	}()

	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, execution *models.Execution) error {
	err := d.publisher.Publish(ctx, execution.ID, &events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent, execution.TenantID, execution.WorkflowID),
		ExecutionID: execution.ID,
		EventID:     execution.EventID,
	})
	if err == nil {
		return nil
	}

	reason := "dispatch failed: " + err.Error()
	if _, finalizeErr := d.ledger.Finalize(context.WithoutCancel(ctx), execution.ID, models.ExecutionStatusFailed, reason); finalizeErr != nil {
		d.logger.ErrorContext(ctx, "Failed to finalize undispatched execution",
			"execution_id", execution.ID,
			"error", finalizeErr)
	}

	return fmt.Errorf("enqueue execution %s: %w", execution.ID, err)
}

// Run executes synchronously under the concurrency bound and the execution timeout.
// It never panics and always leaves the execution in a terminal status.
func (d *Dispatcher) Run(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	event *models.InboundEvent,
) (status models.ExecutionStatus) {
	logger := d.logger.With("execution_id", execution.ID, "workflow_id", workflow.ID)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if d.config.ExecutionTimeout > 0 {
		var cancelTimeout context.CancelFunc

		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, d.config.ExecutionTimeout, ErrExecutionTimeout)
		defer cancelTimeout()
	}

	d.track(execution.ID, cancel)
	defer d.untrack(execution.ID)

	if err := d.sem.Acquire(runCtx, 1); err != nil {
		status, reason := interrupted(runCtx)
		d.finalize(runCtx, logger, execution.ID, status, reason)

		return status
	}
	defer d.sem.Release(1)

	metrics.ExecutionsInProgress.Inc()
	defer metrics.ExecutionsInProgress.Dec()

	began := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Execution panicked", "panic", r)

			status = models.ExecutionStatusFailed
			d.finalize(runCtx, logger, execution.ID, status, fmt.Sprintf("executor panic: %v", r))
		}

		metrics.RecordExecution(execution.TenantID, string(status), time.Since(began))
	}()

	status, err := d.executor.Execute(runCtx, execution, workflow, event)
	if err != nil {
		logger.ErrorContext(ctx, "Execution aborted", "error", err)

		status = models.ExecutionStatusFailed
		d.finalize(runCtx, logger, execution.ID, status, "execution aborted: "+err.Error())
	}

	return status
}

func (d *Dispatcher) finalize(ctx context.Context, logger *slog.Logger, id string, status models.ExecutionStatus, reason string) {
	if _, err := d.ledger.Finalize(context.WithoutCancel(ctx), id, status, reason); err != nil {
		logger.ErrorContext(ctx, "Failed to finalize execution", "status", status, "error", err)
	}
}

// Cancel finalizes the execution as cancelled and stops it before its next node when
// it runs in this process. It fails with ErrAlreadyFinished for terminal executions.
func (d *Dispatcher) Cancel(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	execution, err := d.ledger.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return execution, ErrAlreadyFinished
	}

	won, err := d.ledger.Finalize(ctx, id, models.ExecutionStatusCancelled, "cancelled by request")
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if cancel, ok := d.running[id]; ok {
		cancel(ErrCancelled)
	}
	d.mu.Unlock()

	execution, err = d.ledger.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if !won {
		return execution, ErrAlreadyFinished
	}

	d.logger.InfoContext(ctx, "Execution cancelled", "execution_id", id, "tenant_id", tenantID)

	return execution, nil
}

// Wait blocks until every inline execution started so far returned, or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) track(id string, cancel context.CancelCauseFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.running[id] = cancel
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.running, id)
}
