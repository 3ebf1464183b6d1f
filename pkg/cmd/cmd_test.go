package cmd_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gymops/automation/pkg/ai"
	"github.com/gymops/automation/pkg/cmd"
	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/messaging"
	"github.com/gymops/automation/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	store, err := cmd.NewPersistence(context.Background(), discardLogger(), "file://"+t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(context.Background()))

	_, err = cmd.NewPersistence(context.Background(), discardLogger(), "mongodb://localhost")
	require.ErrorIs(t, err, cmd.ErrUnsupportedDatabase)

	_, err = cmd.NewPersistence(context.Background(), discardLogger(), "./data")
	require.ErrorIs(t, err, cmd.ErrUnsupportedDatabase)
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := cmd.NewEventBus(config.EventBusGoChannel, "", "test", discardLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("rabbitmq", "", "test", discardLogger())
	require.Error(t, err)

	_, err = cmd.NewEventBus(config.EventBusKafka, " , ", "test", discardLogger())
	require.Error(t, err)
}

func TestNewRateLimitStore(t *testing.T) {
	t.Parallel()

	store, err := cmd.NewRateLimitStore(context.Background(), config.RateLimitStoreMemory, "")
	require.NoError(t, err)
	assert.NotNil(t, store.Memory)
	require.NoError(t, store.Close())

	_, err = cmd.NewRateLimitStore(context.Background(), "memcached", "")
	require.Error(t, err)
}

func TestCollaborators(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}

	assert.IsType(t, ai.Disabled{}, cmd.NewAIProvider(cfg, discardLogger()))
	assert.IsType(t, &messaging.LogSender{}, cmd.NewSender(cfg, discardLogger()))
	assert.Nil(t, cmd.NewLeadFetcher(cfg, discardLogger()))

	cfg.OpenAIAPIKey = "key"
	cfg.MessagingURL = "http://gateway.local/send"
	cfg.FacebookEnrich = true

	assert.IsType(t, &ai.CircuitBreakerProvider{}, cmd.NewAIProvider(cfg, discardLogger()))
	assert.IsType(t, &messaging.HTTPSender{}, cmd.NewSender(cfg, discardLogger()))
	assert.NotNil(t, cmd.NewLeadFetcher(cfg, discardLogger()))
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		ServiceName:      "automation-test",
		DatabaseURL:      "file://" + t.TempDir(),
		EventBus:         config.EventBusGoChannel,
		MaxConcurrent:    4,
		ExecutionTimeout: time.Second,
		NodeTimeout:      time.Second,
	}

	engine, err := cmd.NewEngine(context.Background(), cfg, discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, engine.Close(context.Background())) })

	assert.Len(t, engine.Registry.Catalogue(), 7)

	dispatcher, err := engine.NewDispatcher(workflow.DispatchQueue)
	require.NoError(t, err)
	assert.Equal(t, workflow.DispatchQueue, dispatcher.Mode())

	worker, inline, err := engine.NewWorker()
	require.NoError(t, err)
	assert.NotNil(t, worker)
	assert.Equal(t, workflow.DispatchInline, inline.Mode())
}

func TestNewEngine_BadDatabase(t *testing.T) {
	t.Parallel()

	_, err := cmd.NewEngine(context.Background(), &config.Config{
		ServiceName: "automation-test",
		DatabaseURL: "nope",
		EventBus:    config.EventBusGoChannel,
	}, discardLogger())
	require.ErrorIs(t, err, cmd.ErrUnsupportedDatabase)
}
