package services_test

import (
	"context"
	"testing"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutions_GetAndList(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveWebhook(t, &models.Webhook{ID: "signup", Enabled: true})
	f.saveWorkflow(t, welcomeWorkflow("wf-a", models.TriggerTypeWebhook, nil))

	result, err := f.ingestor.IngestWebhook(context.Background(), services.IngestRequest{
		TenantID:  tenantID,
		WebhookID: "signup",
		Body:      []byte(`{"email":"ana@example.com"}`),
	})
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)

	f.wait(t)

	execution, err := f.executions.Get(context.Background(), tenantID, result.Executions[0])
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Len(t, execution.NodeResults, 2)

	_, err = f.executions.Get(context.Background(), "gym-2", result.Executions[0])
	require.ErrorIs(t, err, services.ErrExecutionMissing)

	_, err = f.executions.Get(context.Background(), "", result.Executions[0])
	require.ErrorIs(t, err, services.ErrMissingIdentity)

	listed, err := f.executions.ListByEvent(context.Background(), tenantID, result.EventID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, execution.ID, listed[0].ID)

	_, err = f.executions.ListByEvent(context.Background(), "gym-2", result.EventID)
	require.ErrorIs(t, err, services.ErrEventMissing)
}

func TestExecutions_Cancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	pending := &models.Execution{WorkflowID: "wf-a", TenantID: tenantID, EventID: "evt-1"}
	_, err := f.ledger.Create(context.Background(), pending)
	require.NoError(t, err)

	cancelled, err := f.executions.Cancel(context.Background(), tenantID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled by request", cancelled.Error)

	again, err := f.executions.Cancel(context.Background(), tenantID, pending.ID)
	require.ErrorIs(t, err, services.ErrNotCancellable)
	assert.True(t, services.IsConflictError(err))
	require.NotNil(t, again)
	assert.Equal(t, models.ExecutionStatusCancelled, again.Status)

	_, err = f.executions.Cancel(context.Background(), "gym-2", pending.ID)
	require.ErrorIs(t, err, services.ErrExecutionMissing)

	_, err = f.executions.Cancel(context.Background(), tenantID, "missing")
	require.ErrorIs(t, err, services.ErrExecutionMissing)
}
