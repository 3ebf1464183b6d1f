package cmd_test

import (
	"context"
	"testing"
	"time"

	"github.com/gymops/automation/pkg/cmd"
	"github.com/gymops/automation/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func parseConfig(args ...string) (*config.Config, error) {
	var (
		cfg    *config.Config
		cfgErr error
	)

	command := &cli.Command{
		Name:  "test",
		Flags: cmd.Flags(),
		Action: func(_ context.Context, command *cli.Command) error {
			cfg, cfgErr = cmd.ConfigFromCommand(command, "automation-test")

			return nil
		},
	}

	if err := command.Run(context.Background(), append([]string{"test"}, args...)); err != nil {
		return nil, err
	}

	return cfg, cfgErr
}

func TestConfigFromCommand_Defaults(t *testing.T) {
	cfg, err := parseConfig("--database-url", "file:///tmp/automation")
	require.NoError(t, err)

	assert.Equal(t, "automation-test", cfg.ServiceName)
	assert.Equal(t, "inline", cfg.DispatchMode)
	assert.Equal(t, config.EventBusGoChannel, cfg.EventBus)
	assert.Equal(t, config.RateLimitStoreMemory, cfg.RateLimitStore)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Zero(t, cfg.ExecutionTimeout)
	assert.False(t, cfg.QueueDispatch())
}

func TestConfigFromCommand_Overrides(t *testing.T) {
	cfg, err := parseConfig(
		"--database-url", "postgres://localhost/automation",
		"--dispatch-mode", "queue",
		"--event-bus", "kafka",
		"--kafka-brokers", "localhost:9092",
		"--execution-timeout", "5m",
		"--rate-limit-max", "10",
		"--messaging-rate", "2.5",
		"--facebook-enrich",
	)
	require.NoError(t, err)

	assert.True(t, cfg.QueueDispatch())
	assert.Equal(t, "localhost:9092", cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.ExecutionTimeout)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.InDelta(t, 2.5, cfg.MessagingRate, 0.001)
	assert.True(t, cfg.FacebookEnrich)
}

func TestConfigFromCommand_Invalid(t *testing.T) {
	_, err := parseConfig("--database-url", "file:///tmp/automation", "--event-bus", "kafka")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = parseConfig("--database-url", "file:///tmp/automation", "--dispatch-mode", "later")
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
