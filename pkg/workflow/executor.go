// Package workflow matches inbound events to workflows and runs their node graphs.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gymops/automation/pkg/events"
	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/metrics"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/otelhelper"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/gymops/automation/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultNodeTimeout     = 30 * time.Second
	defaultRetryInterval   = 500 * time.Millisecond
	executionTimeoutReason = "execution timeout"
	cancelledReason        = "cancelled"
)

var (
	// ErrExecutionTimeout is the cancellation cause of an execution that ran out of time.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrCancelled is the cancellation cause of an execution stopped on request.
	ErrCancelled = errors.New("execution cancelled")
)

// reserved scope keys; node outputs are not aliased at top level under these names.
var reserved = map[string]bool{
	"trigger":   true,
	"event":     true,
	"workflow":  true,
	"variables": true,
	"nodes":     true,
}

// NodeResolver finds the node implementing a capability.
type NodeResolver interface {
	Get(capability models.Capability) (protocol.Node, error)
}

type Executor struct {
	nodes       NodeResolver
	ledger      *ledger.Ledger
	tracer      trace.Tracer
	logger      *slog.Logger
	nodeTimeout time.Duration
}

type ExecutorOption func(*Executor)

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithNodeTimeout sets the timeout of nodes that do not configure their own.
func WithNodeTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.nodeTimeout = timeout
		}
	}
}

func NewExecutor(nodes NodeResolver, ledger *ledger.Ledger, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		nodes:       nodes,
		ledger:      ledger,
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "workflow_executor"),
		nodeTimeout: DefaultNodeTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs a pending execution to a terminal status. event may be nil, in which
// case the event scope only carries the event id.
//
// The returned status is the one stored in the ledger. It differs from the outcome of
// the walk when someone else finalized the execution first, e.g. a cancel request.
func (e *Executor) Execute(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	event *models.InboundEvent,
) (models.ExecutionStatus, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.TenantIDKey, execution.TenantID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.EventIDKey, execution.EventID),
	)
	defer span.End()

	logger := e.logger.With(
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"tenant_id", execution.TenantID,
	)

	started, err := e.ledger.Start(ctx, execution.ID)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	if !started {
		logger.InfoContext(ctx, "Execution is no longer pending, skipping")

		return e.currentStatus(ctx, execution)
	}

	logger.InfoContext(ctx, "Starting execution")

	status, reason := e.walk(ctx, logger, execution, workflow, event)

	// The terminal write must happen even when ctx was cancelled.
	won, err := e.ledger.Finalize(context.WithoutCancel(ctx), execution.ID, status, reason)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	if !won {
		return e.currentStatus(ctx, execution)
	}

	span.SetAttributes(attribute.String("automation.execution.status", string(status)))

	if status == models.ExecutionStatusFailed {
		otelhelper.SetError(span, errors.New(reason))
	}

	logger.InfoContext(ctx, "Execution finished", "status", status, "reason", reason)

	return status, nil
}

func (e *Executor) currentStatus(ctx context.Context, execution *models.Execution) (models.ExecutionStatus, error) {
	stored, err := e.ledger.Get(context.WithoutCancel(ctx), execution.TenantID, execution.ID)
	if err != nil {
		return "", err
	}

	return stored.Status, nil
}

// walk visits the graph breadth first from the trigger node. Each node runs at most
// once per execution. It returns the terminal status and the failure reason.
func (e *Executor) walk(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	workflow *models.Workflow,
	event *models.InboundEvent,
) (models.ExecutionStatus, string) {
	scope := newScope(execution, workflow, event)
	queue := []string{workflow.TriggerNodeID}
	visited := make(map[string]bool, len(workflow.Nodes))

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}

		nodeID := queue[0]
		queue = queue[1:]

		if visited[nodeID] {
			continue
		}

		visited[nodeID] = true

		node := workflow.Node(nodeID)
		if node == nil {
			return models.ExecutionStatusFailed, fmt.Sprintf("node %s not found", nodeID)
		}

		result := e.runNode(ctx, execution, workflow, node, scope)

		if ctx.Err() != nil && !result.Success {
			e.record(ctx, logger, execution, result)

			return interrupted(ctx)
		}

		if result.Success {
			scope.setOutput(node.ID, result.Output)
			e.record(ctx, logger, execution, result)

			queue = append(queue, workflow.Next(node.ID, result.Port)...)

			continue
		}

		action := node.OnFailure.EffectiveAction()
		if action == models.FailureActionRetry {
			action = node.OnFailure.EffectiveFallback()
		}

		if action != models.FailureActionContinue {
			e.record(ctx, logger, execution, result)

			return models.ExecutionStatusFailed, fmt.Sprintf("node %s failed: %s", node.ID, result.Error)
		}

		result.Port = models.PortSuccess
		if workflow.HasOutput(node.ID, models.PortError) {
			result.Port = models.PortError
		}

		scope.setOutput(node.ID, map[string]any{"error": result.Error})
		e.record(ctx, logger, execution, result)

		logger.WarnContext(ctx, "Node failed, continuing", "node_id", node.ID, "port", result.Port, "error", result.Error)

		queue = append(queue, workflow.Next(node.ID, result.Port)...)
	}

	return models.ExecutionStatusCompleted, ""
}

// record writes the node result before the walk moves on and announces it.
func (e *Executor) record(ctx context.Context, logger *slog.Logger, execution *models.Execution, result models.NodeResult) {
	writeCtx := context.WithoutCancel(ctx)

	if err := e.ledger.AppendNodeResult(writeCtx, execution.ID, result); err != nil {
		logger.ErrorContext(ctx, "Failed to record node result", "node_id", result.NodeID, "error", err)
	}

	duration := result.FinishedAt.Sub(result.StartedAt)
	metrics.RecordNode(string(result.Capability), result.Success, result.Attempts, duration)

	e.ledger.Publish(writeCtx, execution.ID, &events.NodeExecuted{
		BaseEvent:   events.NewBaseEvent(events.NodeExecutedEvent, execution.TenantID, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      result.NodeID,
		Capability:  result.Capability,
		Success:     result.Success,
		Port:        result.Port,
		Attempts:    result.Attempts,
		Error:       result.Error,
		DurationMs:  duration.Milliseconds(),
	})
}

func (e *Executor) runNode(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	node *models.WorkflowNode,
	scope *scope,
) models.NodeResult {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.CapabilityKey, string(node.Capability)),
	)
	defer span.End()

	result := models.NodeResult{
		NodeID:     node.ID,
		Capability: node.Capability,
		StartedAt:  time.Now().UTC(),
	}

	finish := func(output protocol.Output, attempts int, err error) models.NodeResult {
		result.FinishedAt = time.Now().UTC()
		result.Attempts = attempts
		span.SetAttributes(attribute.Int(otelhelper.AttemptKey, attempts))

		if err != nil {
			otelhelper.SetError(span, err)
			result.Error = err.Error()

			return result
		}

		result.Success = true
		result.Output = output.Data

		result.Port = output.Port
		if result.Port == "" {
			result.Port = models.PortSuccess
		}

		return result
	}

	impl, err := e.nodes.Get(node.Capability)
	if err != nil {
		return finish(protocol.Output{}, 1, err)
	}

	snapshot := scope.snapshot()
	config := template.ResolveConfig(node.Config, snapshot)
	timeout := node.Timeout(e.nodeTimeout)
	attempts := 0

	operation := func() (protocol.Output, error) {
		attempts++

		nodeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		output, err := run(nodeCtx, impl, protocol.Input{
			ExecutionID: execution.ID,
			WorkflowID:  workflow.ID,
			TenantID:    execution.TenantID,
			NodeID:      node.ID,
			Config:      config,
			Scope:       snapshot,
			Attempt:     attempts,
		})
		if err == nil {
			return output, nil
		}

		if ctx.Err() != nil || errors.Is(err, protocol.ErrInvalidConfig) {
			return output, backoff.Permanent(err)
		}

		if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
			return output, fmt.Errorf("node timed out after %s: %w", timeout, err)
		}

		return output, err
	}

	policy := node.OnFailure
	if policy.EffectiveAction() != models.FailureActionRetry || policy.MaxRetries <= 0 {
		output, err := operation()

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}

		return finish(output, attempts, err)
	}

	output, err := backoff.RetryNotifyWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(retryBackOff(policy), uint64(policy.MaxRetries)), ctx),
		func(err error, wait time.Duration) {
			e.logger.WarnContext(ctx, "Node failed, retrying",
				"execution_id", execution.ID,
				"node_id", node.ID,
				"attempt", attempts,
				"wait", wait,
				"error", err)
		},
	)

	return finish(output, attempts, err)
}

// run waits for the node until ctx ends. A node that ignores ctx is abandoned and
// its late result is discarded.
func run(ctx context.Context, node protocol.Node, input protocol.Input) (protocol.Output, error) {
	type outcome struct {
		output protocol.Output
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		output, err := invoke(ctx, node, input)
		done <- outcome{output: output, err: err}
	}()

	select {
	case result := <-done:
		return result.output, result.err
	case <-ctx.Done():
		return protocol.Output{}, context.Cause(ctx)
	}
}

// invoke calls the node and turns a panic into an error local to the execution.
func invoke(ctx context.Context, node protocol.Node, input protocol.Input) (output protocol.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node panicked: %v", r)
		}
	}()

	return node.Execute(ctx, input)
}

func retryBackOff(policy models.FailurePolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()

	b.InitialInterval = defaultRetryInterval
	if policy.InitialIntervalMs > 0 {
		b.InitialInterval = time.Duration(policy.InitialIntervalMs) * time.Millisecond
	}

	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// interrupted maps the cancellation cause of ctx to a terminal status.
func interrupted(ctx context.Context) (models.ExecutionStatus, string) {
	if errors.Is(context.Cause(ctx), ErrExecutionTimeout) {
		return models.ExecutionStatusFailed, executionTimeoutReason
	}

	return models.ExecutionStatusCancelled, cancelledReason
}

// scope is the execution context templates resolve against. It belongs to a single
// execution and is never shared between goroutines.
type scope struct {
	values map[string]any
	nodes  map[string]any
}

func newScope(execution *models.Execution, workflow *models.Workflow, event *models.InboundEvent) *scope {
	eventMeta := map[string]any{"id": execution.EventID}
	if event != nil {
		eventMeta["source"] = event.Source
		eventMeta["trigger_type"] = event.TriggerType
		eventMeta["delivery_id"] = event.DeliveryID
		eventMeta["received_at"] = event.ReceivedAt.Format(time.RFC3339)
		eventMeta["headers"] = copyValue(stringMapToAny(event.Headers))
	}

	variables, _ := copyValue(workflow.Variables).(map[string]any)
	if variables == nil {
		variables = map[string]any{}
	}

	trigger, _ := copyValue(execution.Input).(map[string]any)
	if trigger == nil {
		trigger = map[string]any{}
	}

	nodes := map[string]any{}

	return &scope{
		nodes: nodes,
		values: map[string]any{
			"trigger":   trigger,
			"event":     eventMeta,
			"workflow":  map[string]any{"id": workflow.ID, "name": workflow.Name},
			"variables": variables,
			"nodes":     nodes,
		},
	}
}

func (s *scope) setOutput(nodeID string, output any) {
	s.nodes[nodeID] = output

	if !reserved[nodeID] {
		s.values[nodeID] = output
	}
}

// snapshot returns a copy handlers may read while the walk keeps writing to the scope.
func (s *scope) snapshot() map[string]any {
	copied, _ := copyValue(s.values).(map[string]any)

	return copied
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		if typed == nil {
			return nil
		}

		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = copyValue(item)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}

		return out
	default:
		return typed
	}
}

func stringMapToAny(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = value
	}

	return out
}
