package branch

import (
	"context"
	"testing"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Execute_Routes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config map[string]any
		want   string
	}{
		{name: "truthy bool", config: map[string]any{"condition": true}, want: models.PortTrue},
		{name: "string false", config: map[string]any{"condition": "false"}, want: models.PortFalse},
		{name: "non empty text", config: map[string]any{"condition": "hot"}, want: models.PortTrue},
		{name: "missing path resolved to empty", config: map[string]any{"condition": ""}, want: models.PortFalse},
		{name: "equals", config: map[string]any{"left": "trial", "operator": "equals", "right": "trial"}, want: models.PortTrue},
		{name: "not equals", config: map[string]any{"left": "trial", "operator": "not_equals", "right": "trial"}, want: models.PortFalse},
		{name: "contains", config: map[string]any{"left": "ana@gym.com", "operator": "contains", "right": "@gym"}, want: models.PortTrue},
		{name: "starts with", config: map[string]any{"left": "+55119", "operator": "starts_with", "right": "+55"}, want: models.PortTrue},
		{name: "greater than number", config: map[string]any{"left": 80.0, "operator": "greater_than", "right": "70"}, want: models.PortTrue},
		{name: "less than text", config: map[string]any{"left": "abc", "operator": "less_than", "right": "70"}, want: models.PortFalse},
		{name: "exists", config: map[string]any{"left": "x", "operator": "exists"}, want: models.PortTrue},
		{name: "not exists", config: map[string]any{"left": "", "operator": "not_exists"}, want: models.PortTrue},
	}

	node := New()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := node.Execute(context.Background(), protocol.Input{Config: tt.config})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Port)
		})
	}
}

func TestNode_Validate(t *testing.T) {
	t.Parallel()

	node := New()

	require.NoError(t, node.Validate(map[string]any{"condition": "{{trigger.vip}}"}))
	require.NoError(t, node.Validate(map[string]any{"left": "{{trigger.plan}}", "operator": "equals", "right": "gold"}))
	require.ErrorIs(t, node.Validate(map[string]any{}), protocol.ErrInvalidConfig)
	require.ErrorIs(t, node.Validate(map[string]any{"left": "a", "operator": "matches"}), protocol.ErrInvalidConfig)
	require.ErrorIs(t, node.Validate(map[string]any{"operator": "equals"}), protocol.ErrInvalidConfig)
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	assert.True(t, Truthy(1.0))
	assert.True(t, Truthy([]any{"a"}))
	assert.True(t, Truthy(map[string]any{"a": 1}))
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy("  "))
}
