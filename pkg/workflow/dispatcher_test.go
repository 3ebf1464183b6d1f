package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gymops/automation/pkg/channels/gochannel"
	"github.com/gymops/automation/pkg/eventbus"
	"github.com/gymops/automation/pkg/events"
	"github.com/gymops/automation/pkg/mocks"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/gymops/automation/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func blockingNode(started chan<- struct{}) funcNode {
	return funcNode{capability: "test_block", fn: func(ctx context.Context, _ protocol.Input) (protocol.Output, error) {
		if started != nil {
			started <- struct{}{}
		}

		<-ctx.Done()

		return protocol.Output{}, ctx.Err()
	}}
}

func newDispatcher(t *testing.T, f *fixture, config workflow.DispatcherConfig) *workflow.Dispatcher {
	t.Helper()

	d, err := workflow.NewDispatcher(f.executor, f.ledger, nil, config, discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = d.Wait(ctx)
	})

	return d
}

func waitIdle(t *testing.T, d *workflow.Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, d.Wait(ctx))
}

func TestNewDispatcher_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := workflow.NewDispatcher(f.executor, f.ledger, nil, workflow.DispatcherConfig{Mode: "carrier-pigeon"}, discardLogger())
	require.ErrorIs(t, err, workflow.ErrUnknownMode)

	_, err = workflow.NewDispatcher(f.executor, f.ledger, nil, workflow.DispatcherConfig{Mode: workflow.DispatchQueue}, discardLogger())
	require.Error(t, err)

	d, err := workflow.NewDispatcher(f.executor, f.ledger, nil, workflow.DispatcherConfig{}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, workflow.DispatchInline, d.Mode())
}

func TestDispatcher_InlineRunsInBackground(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := newDispatcher(t, f, workflow.DispatcherConfig{})

	wf := buildWorkflow([]*models.WorkflowNode{
		triggerNode(),
		{ID: "welcome", Capability: models.CapabilitySendMessage, Name: "Welcome", Config: map[string]any{
			"channel": "email",
			"to":      "{{trigger.email}}",
			"body":    "Welcome!",
		}},
	}, "start:success->welcome")

	execution := f.newExecution(t, wf, map[string]any{"email": "ana@example.com"})

	// A cancelled request context must not stop the execution.
	requestCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(requestCtx, execution, wf, nil))
	cancel()

	waitIdle(t, d)

	assert.Equal(t, models.ExecutionStatusCompleted, f.stored(t, execution).Status)
	assert.Len(t, f.sender.messages(), 1)
}

func TestDispatcher_ExecutionTimeout(t *testing.T) {
	t.Parallel()

	f := newFixtureWithNodes(t, []funcNode{blockingNode(nil)})
	d := newDispatcher(t, f, workflow.DispatcherConfig{ExecutionTimeout: 30 * time.Millisecond})

	wf := buildWorkflow([]*models.WorkflowNode{
		triggerNode(),
		{ID: "wait", Capability: "test_block", Name: "Wait"},
	}, "start:success->wait")

	execution := f.newExecution(t, wf, map[string]any{})

	status := d.Run(context.Background(), execution, wf, nil)
	assert.Equal(t, models.ExecutionStatusFailed, status)

	stored := f.stored(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "execution timeout", stored.Error)
}

func TestDispatcher_Cancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)

	f := newFixtureWithNodes(t, []funcNode{blockingNode(started)})
	d := newDispatcher(t, f, workflow.DispatcherConfig{})

	wf := buildWorkflow([]*models.WorkflowNode{
		triggerNode(),
		{ID: "wait", Capability: "test_block", Name: "Wait"},
		{ID: "after", Capability: models.CapabilityLog, Name: "After", Config: map[string]any{"message": "x"}},
	}, "start:success->wait", "wait:success->after", "wait:error->after")

	execution := f.newExecution(t, wf, map[string]any{})
	require.NoError(t, d.Dispatch(context.Background(), execution, wf, nil))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached the blocking node")
	}

	_, err := d.Cancel(context.Background(), "other-gym", execution.ID)
	require.True(t, persistence.IsExecutionNotFound(err))

	cancelled, err := d.Cancel(context.Background(), execution.TenantID, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)

	waitIdle(t, d)

	stored := f.stored(t, execution)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Equal(t, "cancelled by request", stored.Error)
	assert.NotContains(t, visited(stored), "after")

	_, err = d.Cancel(context.Background(), execution.TenantID, execution.ID)
	require.ErrorIs(t, err, workflow.ErrAlreadyFinished)
}

func TestDispatcher_CancelPendingExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := newDispatcher(t, f, workflow.DispatcherConfig{})

	wf := buildWorkflow([]*models.WorkflowNode{triggerNode()})
	execution := f.newExecution(t, wf, map[string]any{})

	_, err := d.Cancel(context.Background(), execution.TenantID, execution.ID)
	require.NoError(t, err)

	status := d.Run(context.Background(), execution, wf, nil)
	assert.Equal(t, models.ExecutionStatusCancelled, status)
	assert.Empty(t, f.stored(t, execution).NodeResults)
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32

	tracking := funcNode{capability: "test_track", fn: func(context.Context, protocol.Input) (protocol.Output, error) {
		now := current.Add(1)
		defer current.Add(-1)

		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return protocol.Output{}, nil
	}}

	f := newFixtureWithNodes(t, []funcNode{tracking})
	d := newDispatcher(t, f, workflow.DispatcherConfig{MaxConcurrent: 2})

	wf := buildWorkflow([]*models.WorkflowNode{
		triggerNode(),
		{ID: "track", Capability: "test_track", Name: "Track"},
	}, "start:success->track")

	executions := make([]*models.Execution, 0, 6)

	for range 6 {
		execution := f.newExecution(t, wf, map[string]any{})
		executions = append(executions, execution)
		require.NoError(t, d.Dispatch(context.Background(), execution, wf, nil))
	}

	waitIdle(t, d)

	assert.LessOrEqual(t, peak.Load(), int32(2))

	for _, execution := range executions {
		assert.Equal(t, models.ExecutionStatusCompleted, f.stored(t, execution).Status)
	}
}

func TestDispatcher_QueueModeWithWorker(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	logger := discardLogger()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	api, err := workflow.NewDispatcher(f.executor, f.ledger, bus, workflow.DispatcherConfig{Mode: workflow.DispatchQueue}, logger)
	require.NoError(t, err)

	local := newDispatcher(t, f, workflow.DispatcherConfig{})
	worker := workflow.NewWorker(local, f.ledger, f.persistence.WorkflowRepository(), f.persistence.EventRepository(), logger)
	require.NoError(t, worker.Register(bus))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, bus.Subscribe(ctx))

	wf := buildWorkflow([]*models.WorkflowNode{
		triggerNode(),
		{ID: "welcome", Capability: models.CapabilitySendMessage, Name: "Welcome", Config: map[string]any{
			"channel": "whatsapp",
			"to":      "{{trigger.phone}}",
			"body":    "Hello!",
		}},
	}, "start:success->welcome")
	require.NoError(t, f.persistence.WorkflowRepository().Save(context.Background(), wf))

	execution := f.newExecution(t, wf, map[string]any{"phone": "+5511999990000"})
	require.NoError(t, api.Dispatch(context.Background(), execution, wf, nil))

	require.Eventually(t, func() bool {
		return f.stored(t, execution).Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	sent := f.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "+5511999990000", sent[0].To)

	// A redelivered request is acknowledged without a second run.
	require.NoError(t, worker.HandleExecutionRequested(context.Background(), &events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent, execution.TenantID, execution.WorkflowID),
		ExecutionID: execution.ID,
		EventID:     execution.EventID,
	}))
	waitIdle(t, local)
	assert.Len(t, f.sender.messages(), 1)
}

func TestDispatcher_QueuePublishFailureFailsExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.AnythingOfType("*events.ExecutionRequested")).
		Return(errors.New("broker unavailable"))

	d, err := workflow.NewDispatcher(f.executor, f.ledger, bus, workflow.DispatcherConfig{Mode: workflow.DispatchQueue}, discardLogger())
	require.NoError(t, err)

	wf := buildWorkflow([]*models.WorkflowNode{triggerNode()})
	execution := f.newExecution(t, wf, map[string]any{})

	err = d.Dispatch(context.Background(), execution, wf, nil)
	require.ErrorContains(t, err, "broker unavailable")

	stored := f.stored(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "dispatch failed")
	bus.AssertExpectations(t)
}

func TestWorker_MissingWorkflowFailsExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := newDispatcher(t, f, workflow.DispatcherConfig{})
	worker := workflow.NewWorker(d, f.ledger, f.persistence.WorkflowRepository(), f.persistence.EventRepository(), discardLogger())

	wf := buildWorkflow([]*models.WorkflowNode{triggerNode()})
	execution := f.newExecution(t, wf, map[string]any{})

	err := worker.HandleExecutionRequested(context.Background(), &events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent, execution.TenantID, execution.WorkflowID),
		ExecutionID: execution.ID,
		EventID:     execution.EventID,
	})
	require.NoError(t, err)

	stored := f.stored(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "workflow not found", stored.Error)

	require.Error(t, worker.HandleExecutionRequested(context.Background(), "not an event"))
}
