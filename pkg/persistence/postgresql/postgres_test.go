package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"leads", "workflow_executions", "inbound_events", "workflows", "webhooks", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("automation_test"),
			postgres.WithUsername("automation"),
			postgres.WithPassword("automation"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func insertEvent(ctx context.Context, t *testing.T, p *postgresql.Persistence, tenantID, deliveryID string) *models.InboundEvent {
	t.Helper()

	event := &models.InboundEvent{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Source:      "wh-1",
		TriggerType: models.TriggerTypeWebhook,
		DeliveryID:  deliveryID,
		Headers:     map[string]string{"content-type": "application/json"},
		Payload:     map[string]any{"email": "a@b.com"},
		ReceivedAt:  time.Now().UTC(),
	}

	require.NoError(t, p.EventRepository().Insert(ctx, event))

	return event
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"webhooks", "workflows", "inbound_events", "workflow_executions", "leads"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table+" table should exist")
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestWebhookRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WebhookRepository()

	webhook := &models.Webhook{
		ID:                 "wh-1",
		TenantID:           "t1",
		Name:               "Lead form",
		Provider:           models.WebhookProviderFacebook,
		ExternalID:         "page-1",
		Enabled:            true,
		Secret:             "s3cret",
		SignatureAlgorithm: "sha256",
		RateLimit:          models.RateLimitConfig{WindowMs: 60000, MaxRequests: 10},
		Schema:             map[string]any{"type": "object"},
	}
	require.NoError(t, repo.Save(ctx, webhook))

	got, err := repo.Get(ctx, "t1", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, 10, got.RateLimit.MaxRequests)
	assert.Equal(t, "object", got.Schema["type"])
	assert.Empty(t, got.AccessToken)

	_, err = repo.Get(ctx, "t2", "wh-1")
	assert.True(t, persistence.IsWebhookNotFound(err))

	byPage, err := repo.FindByExternalID(ctx, models.WebhookProviderFacebook, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "wh-1", byPage.ID)

	webhook.Enabled = false
	require.NoError(t, repo.Save(ctx, webhook))

	got, err = repo.Get(ctx, "t1", "wh-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestWorkflowRepository_ListEnabledByTrigger(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	newWorkflow := func(id, tenantID, triggerType string, enabled bool) *models.Workflow {
		return &models.Workflow{
			ID:            id,
			TenantID:      tenantID,
			Name:          id,
			Enabled:       enabled,
			Trigger:       models.TriggerConfig{Type: triggerType},
			TriggerNodeID: "trigger",
			Nodes: []*models.WorkflowNode{
				{ID: "trigger", Capability: models.CapabilityTrigger, Name: "Trigger"},
				{ID: "log", Capability: models.CapabilityLog, Name: "Log", Config: map[string]any{"message": "hi"}},
			},
			Connections: []*models.Connection{
				{ID: "c1", SourcePort: "trigger:success", TargetPort: "log:main"},
			},
		}
	}

	require.NoError(t, repo.Save(ctx, newWorkflow("wf-a", "t1", models.TriggerTypeWebhook, true)))
	require.NoError(t, repo.Save(ctx, newWorkflow("wf-b", "t1", models.TriggerTypeWebhook, false)))
	require.NoError(t, repo.Save(ctx, newWorkflow("wf-c", "t1", models.TriggerTypeFacebookLead, true)))
	require.NoError(t, repo.Save(ctx, newWorkflow("wf-d", "t2", models.TriggerTypeWebhook, true)))

	workflows, err := repo.ListEnabledByTrigger(ctx, "t1", models.TriggerTypeWebhook)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-a", workflows[0].ID)
	assert.Len(t, workflows[0].Nodes, 2)
	assert.Equal(t, []string{"log"}, workflows[0].Next("trigger", models.PortSuccess))

	_, err = repo.Get(ctx, "t2", "wf-a")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestEventRepository_DeliveryDedup(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.EventRepository()

	first := insertEvent(ctx, t, p, "t1", "delivery-1")

	duplicate := &models.InboundEvent{
		ID:          uuid.NewString(),
		TenantID:    "t1",
		Source:      "wh-1",
		TriggerType: models.TriggerTypeWebhook,
		DeliveryID:  "delivery-1",
		ReceivedAt:  time.Now().UTC(),
	}
	err := repo.Insert(ctx, duplicate)
	assert.True(t, persistence.IsDuplicateEvent(err))

	// events without a delivery id never collide
	insertEvent(ctx, t, p, "t1", "")
	insertEvent(ctx, t, p, "t1", "")

	found, err := repo.FindByDeliveryID(ctx, "t1", "wh-1", "delivery-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "a@b.com", found.Payload["email"])

	_, err = repo.Get(ctx, "t2", first.ID)
	assert.True(t, persistence.IsEventNotFound(err))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	event := insertEvent(ctx, t, p, "t1", "")

	execution := &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: "wf-a",
		TenantID:   "t1",
		EventID:    event.ID,
		Status:     models.ExecutionStatusPending,
		Input:      map[string]any{"payload": map[string]any{"x": 1.0}},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, execution))

	again := *execution
	again.ID = uuid.NewString()
	err := repo.Create(ctx, &again)
	assert.True(t, persistence.IsExecutionExists(err))

	ok, err := repo.Transition(ctx, execution.ID, models.ExecutionStatusRunning, time.Now().UTC(), "")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.AppendNodeResult(ctx, execution.ID, models.NodeResult{NodeID: "trigger", Success: true, Attempts: 1}))
	require.NoError(t, repo.AppendNodeResult(ctx, execution.ID, models.NodeResult{NodeID: "log", Success: true, Attempts: 1}))

	var (
		wg   sync.WaitGroup
		wins int
		mu   sync.Mutex
	)

	for _, status := range []models.ExecutionStatus{models.ExecutionStatusCompleted, models.ExecutionStatusCancelled} {
		wg.Add(1)

		go func(status models.ExecutionStatus) {
			defer wg.Done()

			ok, err := repo.Transition(ctx, execution.ID, status, time.Now().UTC(), "")
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(status)
	}

	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := repo.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
	require.Len(t, got.NodeResults, 2)
	assert.Equal(t, "trigger", got.NodeResults[0].NodeID)
	assert.Equal(t, "log", got.NodeResults[1].NodeID)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	listed, err := repo.ListByEvent(ctx, "t1", event.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = repo.Transition(ctx, "missing", models.ExecutionStatusFailed, time.Now().UTC(), "x")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ListByStatusStartedBefore(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	event := insertEvent(ctx, t, p, "t1", "")
	old := time.Now().UTC().Add(-time.Hour)

	for _, workflowID := range []string{"wf-old", "wf-new"} {
		execution := &models.Execution{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			TenantID:   "t1",
			EventID:    event.ID,
			Status:     models.ExecutionStatusPending,
			CreatedAt:  old,
		}
		require.NoError(t, repo.Create(ctx, execution))

		startedAt := old
		if workflowID == "wf-new" {
			startedAt = time.Now().UTC()
		}

		_, err := repo.Transition(ctx, execution.ID, models.ExecutionStatusRunning, startedAt, "")
		require.NoError(t, err)
	}

	stale, err := repo.ListByStatusStartedBefore(ctx, models.ExecutionStatusRunning, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "wf-old", stale[0].WorkflowID)
}

func TestLeadRepository_Upsert(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.LeadRepository()

	first, err := repo.Upsert(ctx, &models.Lead{
		TenantID: "t1",
		Email:    "Ana@Example.com ",
		Name:     "Ana",
		Fields:   map[string]any{"goal": "strength"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", first.Email)

	second, err := repo.Upsert(ctx, &models.Lead{
		TenantID: "t1",
		Email:    "ana@example.com",
		Phone:    "+5511999999999",
		Fields:   map[string]any{"plan": "monthly"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana", second.Name)
	assert.Equal(t, "+5511999999999", second.Phone)
	assert.Equal(t, map[string]any{"goal": "strength", "plan": "monthly"}, second.Fields)

	_, err = repo.GetByEmail(ctx, "t2", "ana@example.com")
	assert.True(t, persistence.IsLeadNotFound(err))
}
