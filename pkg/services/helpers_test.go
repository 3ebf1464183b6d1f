package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/eventstore"
	"github.com/gymops/automation/pkg/facebook"
	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/messaging"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence/file"
	"github.com/gymops/automation/pkg/ratelimit"
	"github.com/gymops/automation/pkg/registry"
	"github.com/gymops/automation/pkg/services"
	"github.com/gymops/automation/pkg/signature"
	"github.com/gymops/automation/pkg/validation"
	"github.com/gymops/automation/pkg/workflow"
	"github.com/stretchr/testify/require"
)

const (
	tenantID  = "gym-1"
	appSecret = "app-secret"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu   sync.Mutex
	sent []messaging.Message
}

func (s *recordingSender) Send(_ context.Context, msg messaging.Message) (*messaging.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, msg)

	return &messaging.Receipt{ID: uuid.NewString(), Channel: msg.Channel, Status: "queued"}, nil
}

func (s *recordingSender) messages() []messaging.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]messaging.Message(nil), s.sent...)
}

type stubFetcher struct {
	details *facebook.LeadDetails
	err     error
	calls   int
}

func (f *stubFetcher) FetchLead(_ context.Context, _, _ string) (*facebook.LeadDetails, error) {
	f.calls++

	return f.details, f.err
}

type fixture struct {
	store      *file.Persistence
	ledger     *ledger.Ledger
	dispatcher *workflow.Dispatcher
	sender     *recordingSender
	fetcher    *stubFetcher
	ingestor   *services.Ingestor
	executions *services.Executions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := discardLogger()
	sender := &recordingSender{}
	fetcher := &stubFetcher{}

	reg := registry.New(logger)
	require.NoError(t, reg.RegisterDefaultNodes(registry.Dependencies{
		Logger: logger,
		Sender: sender,
		Leads:  store.LeadRepository(),
	}))

	l := ledger.New(store.ExecutionRepository(), nil, logger)
	executor := workflow.NewExecutor(reg, l, logger)

	dispatcher, err := workflow.NewDispatcher(executor, l, nil, workflow.DispatcherConfig{
		Mode:             workflow.DispatchInline,
		ExecutionTimeout: 10 * time.Second,
	}, logger)
	require.NoError(t, err)

	validator, err := validation.NewDefault()
	require.NoError(t, err)

	ingestor := services.NewIngestor(services.IngestDependencies{
		Webhooks:   store.WebhookRepository(),
		Limiter:    ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		Validator:  validator,
		Events:     eventstore.New(store.EventRepository(), logger),
		Matcher:    workflow.NewMatcher(store.WorkflowRepository(), logger),
		Ledger:     l,
		Dispatcher: dispatcher,
		Leads:      fetcher,
		Logger:     logger,
		Security:   logger,
	}, services.IngestConfig{FacebookAppSecret: appSecret})

	return &fixture{
		store:      store,
		ledger:     l,
		dispatcher: dispatcher,
		sender:     sender,
		fetcher:    fetcher,
		ingestor:   ingestor,
		executions: services.NewExecutions(l, store.EventRepository(), dispatcher),
	}
}

func (f *fixture) saveWebhook(t *testing.T, webhook *models.Webhook) *models.Webhook {
	t.Helper()

	if webhook.TenantID == "" {
		webhook.TenantID = tenantID
	}

	if webhook.Provider == "" {
		webhook.Provider = models.WebhookProviderGeneric
	}

	require.NoError(t, f.store.WebhookRepository().Save(context.Background(), webhook))

	return webhook
}

func (f *fixture) saveWorkflow(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), wf))

	return wf
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, f.dispatcher.Wait(ctx))
}

// welcomeWorkflow sends an email to the address found in the trigger payload.
func welcomeWorkflow(id, triggerType string, filters map[string]any) *models.Workflow {
	return &models.Workflow{
		ID:            id,
		TenantID:      tenantID,
		Name:          "Welcome " + id,
		Enabled:       true,
		Trigger:       models.TriggerConfig{Type: triggerType, Filters: filters},
		TriggerNodeID: "start",
		Nodes: []*models.WorkflowNode{
			{ID: "start", Capability: models.CapabilityTrigger, Name: "Start"},
			{ID: "welcome", Capability: models.CapabilitySendMessage, Name: "Welcome", Config: map[string]any{
				"channel": "email",
				"to":      "{{trigger.email}}",
				"body":    "Welcome {{trigger.name}}",
			}},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourcePort: "start:success", TargetPort: "welcome:main"},
		},
	}
}

// failingWorkflow calls an unreachable URL and stops.
func failingWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:            id,
		TenantID:      tenantID,
		Name:          "Broken " + id,
		Enabled:       true,
		Trigger:       models.TriggerConfig{Type: models.TriggerTypeWebhook},
		TriggerNodeID: "start",
		Nodes: []*models.WorkflowNode{
			{ID: "start", Capability: models.CapabilityTrigger, Name: "Start"},
			{ID: "call", Capability: models.CapabilityHTTPRequest, Name: "Call", Config: map[string]any{
				"url":    "http://127.0.0.1:1/unreachable",
				"method": "POST",
			}},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourcePort: "start:success", TargetPort: "call:main"},
		},
	}
}

func signedHeaders(t *testing.T, body []byte, secret string) map[string]string {
	t.Helper()

	sig, err := signature.Sign(body, secret, signature.Options{})
	require.NoError(t, err)

	return map[string]string{models.DefaultSignatureHeader: sig, "content-type": "application/json"}
}

func metaHeaders(t *testing.T, body []byte) map[string]string {
	t.Helper()

	sig, err := signature.Sign(body, appSecret, signature.Options{})
	require.NoError(t, err)

	return map[string]string{facebook.SignatureHeader: "sha256=" + sig}
}
