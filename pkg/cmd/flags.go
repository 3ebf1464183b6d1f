package cmd

import (
	"time"

	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/services"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort          = 9091
	defaultMaxConcurrent = 32
)

// Flags are shared by the API and the worker; every flag can also be set from its env var.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://path or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   config.EventBusGoChannel,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "dispatch-mode",
			Usage:   "How executions run (inline, queue)",
			Value:   "inline",
			Sources: cli.EnvVars("DISPATCH_MODE"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent",
			Usage:   "Maximum executions running at once in this process",
			Value:   defaultMaxConcurrent,
			Sources: cli.EnvVars("MAX_CONCURRENT_EXECUTIONS"),
		},
		&cli.DurationFlag{
			Name:    "execution-timeout",
			Usage:   "Fail executions running longer than this (0 disables)",
			Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "node-timeout",
			Usage:   "Timeout for a single node attempt (0 disables)",
			Sources: cli.EnvVars("NODE_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "stale-execution-after",
			Usage:   "Fail executions stuck in running for longer than this (0 disables the reaper)",
			Value:   time.Hour,
			Sources: cli.EnvVars("STALE_EXECUTION_AFTER"),
		},
		&cli.DurationFlag{
			Name:    "shutdown-timeout",
			Usage:   "How long to wait for running executions on shutdown",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("SHUTDOWN_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "rate-limit-store",
			Usage:   "Rate limit counter store (memory, redis)",
			Value:   config.RateLimitStoreMemory,
			Sources: cli.EnvVars("RATE_LIMIT_STORE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the rate limit store",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "rate-limit-window",
			Usage:   "Default rate limit window per tenant and webhook",
			Value:   services.DefaultRateLimitWindow,
			Sources: cli.EnvVars("RATE_LIMIT_WINDOW"),
		},
		&cli.IntFlag{
			Name:    "rate-limit-max",
			Usage:   "Default requests allowed per window",
			Value:   services.DefaultRateLimitMax,
			Sources: cli.EnvVars("RATE_LIMIT_MAX"),
		},
		&cli.StringFlag{
			Name:    "facebook-app-secret",
			Usage:   "Meta app secret used to verify x-hub-signature-256",
			Sources: cli.EnvVars("FACEBOOK_APP_SECRET"),
		},
		&cli.StringFlag{
			Name:    "facebook-verify-token",
			Usage:   "Token expected in the Meta subscription handshake",
			Sources: cli.EnvVars("FACEBOOK_VERIFY_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "facebook-graph-url",
			Usage:   "Graph API base URL",
			Sources: cli.EnvVars("FACEBOOK_GRAPH_URL"),
		},
		&cli.BoolFlag{
			Name:    "facebook-enrich",
			Usage:   "Fetch lead field data from the Graph API",
			Sources: cli.EnvVars("FACEBOOK_ENRICH"),
		},
		&cli.StringFlag{
			Name:    "openai-api-key",
			Usage:   "API key for the OpenAI compatible completion endpoint",
			Sources: cli.EnvVars("OPENAI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "openai-base-url",
			Usage:   "Base URL of the OpenAI compatible endpoint",
			Sources: cli.EnvVars("OPENAI_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "openai-model",
			Usage:   "Default completion model",
			Sources: cli.EnvVars("OPENAI_MODEL"),
		},
		&cli.StringFlag{
			Name:    "messaging-url",
			Usage:   "Messaging gateway endpoint; messages are only logged when empty",
			Sources: cli.EnvVars("MESSAGING_URL"),
		},
		&cli.StringFlag{
			Name:    "messaging-token",
			Usage:   "Bearer token for the messaging gateway",
			Sources: cli.EnvVars("MESSAGING_TOKEN"),
		},
		&cli.FloatFlag{
			Name:    "messaging-rate",
			Usage:   "Messages per second sent to the gateway (0 is unlimited)",
			Sources: cli.EnvVars("MESSAGING_RATE"),
		},
	}
}

// ConfigFromCommand collects the Flags values and validates them.
func ConfigFromCommand(command *cli.Command, serviceName string) (*config.Config, error) {
	cfg := &config.Config{
		ServiceName:         serviceName,
		Port:                command.Int("port"),
		LogLevel:            command.String("log-level"),
		LogFormat:           command.String("log-format"),
		Tracing:             command.Bool("tracing"),
		DatabaseURL:         command.String("database-url"),
		EventBus:            command.String("event-bus"),
		KafkaBrokers:        command.String("kafka-brokers"),
		DispatchMode:        command.String("dispatch-mode"),
		MaxConcurrent:       int64(command.Int("max-concurrent")),
		ExecutionTimeout:    command.Duration("execution-timeout"),
		NodeTimeout:         command.Duration("node-timeout"),
		StaleExecutionAfter: command.Duration("stale-execution-after"),
		ShutdownTimeout:     command.Duration("shutdown-timeout"),
		RateLimitStore:      command.String("rate-limit-store"),
		RedisURL:            command.String("redis-url"),
		RateLimitWindow:     command.Duration("rate-limit-window"),
		RateLimitMax:        command.Int("rate-limit-max"),
		FacebookAppSecret:   command.String("facebook-app-secret"),
		FacebookVerifyToken: command.String("facebook-verify-token"),
		FacebookGraphURL:    command.String("facebook-graph-url"),
		FacebookEnrich:      command.Bool("facebook-enrich"),
		OpenAIAPIKey:        command.String("openai-api-key"),
		OpenAIBaseURL:       command.String("openai-base-url"),
		OpenAIModel:         command.String("openai-model"),
		MessagingURL:        command.String("messaging-url"),
		MessagingToken:      command.String("messaging-token"),
		MessagingRate:       command.Float("messaging-rate"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
