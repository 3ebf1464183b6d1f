package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/gymops/automation/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, reg.RegisterDefaultNodes(registry.Dependencies{}))

	return reg
}

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:            "wf-1",
		TenantID:      "gym-1",
		Name:          "Welcome new leads",
		Enabled:       true,
		Trigger:       models.TriggerConfig{Type: models.TriggerTypeWebhook},
		TriggerNodeID: "start",
		Nodes: []*models.WorkflowNode{
			{ID: "start", Capability: models.CapabilityTrigger, Name: "Start"},
			{
				ID:         "check",
				Capability: models.CapabilityBranch,
				Name:       "Has email",
				Config:     map[string]any{"left": "{{trigger.email}}", "operator": "exists"},
			},
			{
				ID:         "welcome",
				Capability: models.CapabilitySendMessage,
				Name:       "Welcome email",
				Config:     map[string]any{"channel": "email", "to": "{{trigger.email}}", "body": "Welcome!"},
			},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourcePort: "start:success", TargetPort: "check:main"},
			{ID: "c2", SourcePort: "check:true", TargetPort: "welcome:main"},
		},
	}
}

func TestRegistry_RegisterDefaultNodes(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	for _, capability := range models.Capabilities() {
		node, err := reg.Get(capability)
		require.NoError(t, err, capability)
		assert.Equal(t, capability, node.Capability())
	}

	_, err := reg.Get("fax")
	require.ErrorIs(t, err, registry.ErrUnknownCapability)
}

type customNode struct{ capability models.Capability }

func (n customNode) Capability() models.Capability { return n.capability }

func (n customNode) Validate(map[string]any) error { return nil }

func (n customNode) Execute(context.Context, protocol.Input) (protocol.Output, error) {
	return protocol.Output{Data: "custom"}, nil
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	require.ErrorIs(t, reg.Register(customNode{capability: "teleport"}), registry.ErrUnknownCapability)

	require.NoError(t, reg.Register(customNode{capability: models.CapabilityLog}))

	node, err := reg.Get(models.CapabilityLog)
	require.NoError(t, err)

	out, err := node.Execute(context.Background(), protocol.Input{})
	require.NoError(t, err)
	assert.Equal(t, "custom", out.Data)
}

func TestRegistry_Catalogue(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	require.NoError(t, reg.Register(customNode{capability: models.CapabilityLog}))

	catalogue := reg.Catalogue()
	require.Len(t, catalogue, len(models.Capabilities()))

	assert.Equal(t, models.CapabilityTrigger, catalogue[0].Capability)
	assert.Equal(t, "Trigger", catalogue[0].Name)

	for _, info := range catalogue {
		if info.Capability == models.CapabilityLog {
			assert.Equal(t, "log", info.Name)
			assert.Empty(t, info.Description)

			continue
		}

		assert.NotEmpty(t, info.Description, info.Capability)
		assert.Equal(t, "object", info.Schema["type"], info.Capability)
	}
}

func TestRegistry_ValidateWorkflow(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	require.NoError(t, reg.ValidateWorkflow(validWorkflow()))

	tests := []struct {
		name   string
		mutate func(*models.Workflow)
		want   string
	}{
		{
			name:   "unknown capability",
			mutate: func(w *models.Workflow) { w.Nodes[2].Capability = "fax" },
			want:   "unknown capability",
		},
		{
			name:   "invalid node config",
			mutate: func(w *models.Workflow) { delete(w.Nodes[2].Config, "channel") },
			want:   "node 'welcome'",
		},
		{
			name:   "missing trigger node",
			mutate: func(w *models.Workflow) { w.TriggerNodeID = "nope" },
			want:   "trigger node 'nope' not found",
		},
		{
			name:   "trigger node with wrong capability",
			mutate: func(w *models.Workflow) { w.TriggerNodeID = "check" },
			want:   "has capability 'branch'",
		},
		{
			name:   "dangling connection",
			mutate: func(w *models.Workflow) { w.Connections[1].TargetPort = "ghost:main" },
			want:   "unknown target node 'ghost'",
		},
		{
			name:   "unknown port",
			mutate: func(w *models.Workflow) { w.Connections[1].SourcePort = "check:maybe" },
			want:   "unknown output port 'maybe'",
		},
		{
			name:   "duplicate node",
			mutate: func(w *models.Workflow) { w.Nodes[2].ID = "check" },
			want:   "duplicate node id 'check'",
		},
		{
			name:   "missing tenant",
			mutate: func(w *models.Workflow) { w.TenantID = "" },
			want:   "TenantID",
		},
		{
			name:   "unknown trigger type",
			mutate: func(w *models.Workflow) { w.Trigger.Type = "cron" },
			want:   "Type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			workflow := validWorkflow()
			tt.mutate(workflow)

			err := reg.ValidateWorkflow(workflow)
			require.ErrorIs(t, err, registry.ErrInvalidWorkflow)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
