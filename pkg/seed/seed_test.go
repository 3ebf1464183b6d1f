package seed_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence/file"
	"github.com/gymops/automation/pkg/registry"
	"github.com/gymops/automation/pkg/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonDefinitions = `{
  "webhooks": [
    {"id": "signup", "tenant_id": "gym-1", "name": "Signup form", "provider": "generic", "enabled": true, "secret": "s3cret"}
  ],
  "workflows": [
    {
      "id": "welcome",
      "tenant_id": "gym-1",
      "name": "Welcome",
      "enabled": true,
      "trigger": {"type": "webhook"},
      "trigger_node_id": "start",
      "nodes": [
        {"id": "start", "capability": "trigger", "name": "Start"},
        {"id": "note", "capability": "log", "name": "Note", "config": {"message": "hi {{trigger.email}}"}}
      ],
      "connections": [{"id": "c1", "source_port": "start:success", "target_port": "note:main"}]
    }
  ]
}`

const yamlDefinitions = `
webhooks:
  - id: fb
    tenant_id: gym-1
    name: Lead ads
    provider: facebook
    external_id: page-1
    enabled: true
workflows:
  - id: lead
    tenant_id: gym-1
    name: Lead
    enabled: true
    trigger:
      type: facebook_lead
      filters:
        form_id: form-1
    trigger_node_id: start
    nodes:
      - id: start
        capability: trigger
        name: Start
    connections: []
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSeeder(t *testing.T) (*seed.Seeder, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	reg := registry.New(discardLogger())
	require.NoError(t, reg.RegisterDefaultNodes(registry.Dependencies{Logger: discardLogger(), Leads: store.LeadRepository()}))

	return seed.New(store, reg, discardLogger()), store
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndApply_JSON(t *testing.T) {
	t.Parallel()

	seeder, store := newSeeder(t)

	defs, err := seed.Load(writeFile(t, "defs.json", jsonDefinitions))
	require.NoError(t, err)

	summary, err := seeder.Apply(context.Background(), defs)
	require.NoError(t, err)
	assert.Equal(t, seed.Summary{Webhooks: 1, Workflows: 1}, summary)

	webhook, err := store.WebhookRepository().Get(context.Background(), "gym-1", "signup")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", webhook.Secret)

	wf, err := store.WorkflowRepository().Get(context.Background(), "gym-1", "welcome")
	require.NoError(t, err)
	assert.Len(t, wf.Nodes, 2)
}

func TestLoadAndApply_YAML(t *testing.T) {
	t.Parallel()

	seeder, store := newSeeder(t)

	defs, err := seed.Load(writeFile(t, "defs.yaml", yamlDefinitions))
	require.NoError(t, err)

	_, err = seeder.Apply(context.Background(), defs)
	require.NoError(t, err)

	webhook, err := store.WebhookRepository().FindByExternalID(context.Background(), models.WebhookProviderFacebook, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "fb", webhook.ID)

	wf, err := store.WorkflowRepository().Get(context.Background(), "gym-1", "lead")
	require.NoError(t, err)
	assert.Equal(t, "form-1", wf.Trigger.Filters["form_id"])
}

func TestApply_RejectsInvalidDefinitionsAtomically(t *testing.T) {
	t.Parallel()

	seeder, store := newSeeder(t)

	defs := &seed.Definitions{
		Webhooks: []*models.Webhook{
			{ID: "ok", TenantID: "gym-1", Enabled: true},
			{ID: "fb", TenantID: "gym-1", Provider: models.WebhookProviderFacebook},
		},
		Workflows: []*models.Workflow{{
			ID:            "bad",
			TenantID:      "gym-1",
			Name:          "Bad",
			Trigger:       models.TriggerConfig{Type: models.TriggerTypeWebhook},
			TriggerNodeID: "start",
			Nodes: []*models.WorkflowNode{
				{ID: "start", Capability: models.CapabilityTrigger, Name: "Start"},
				{ID: "x", Capability: "teleport", Name: "X"},
			},
		}},
	}

	_, err := seeder.Apply(context.Background(), defs)
	require.ErrorIs(t, err, seed.ErrInvalidDefinitions)
	assert.Contains(t, err.Error(), `webhook "fb"`)
	assert.Contains(t, err.Error(), `workflow "bad"`)

	_, err = store.WebhookRepository().Get(context.Background(), "gym-1", "ok")
	require.Error(t, err, "nothing is saved when a definition is invalid")
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := seed.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = seed.Load(writeFile(t, "broken.json", `{"webhooks": [`))
	require.ErrorIs(t, err, seed.ErrInvalidDefinitions)

	_, err = seed.Load(writeFile(t, "broken.yml", "webhooks: [unterminated"))
	require.ErrorIs(t, err, seed.ErrInvalidDefinitions)
}
