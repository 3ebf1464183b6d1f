// Package config holds the runtime settings shared by the API and the worker.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"

	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is filled from command line flags and their environment variables.
type Config struct {
	ServiceName string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=text json"`
	Tracing     bool

	DatabaseURL string `validate:"required"`

	EventBus     string `validate:"oneof=gochannel kafka"`
	KafkaBrokers string `validate:"required_if=EventBus kafka"`

	DispatchMode        string        `validate:"oneof=inline queue"`
	MaxConcurrent       int64         `validate:"min=1"`
	ExecutionTimeout    time.Duration `validate:"gte=0"`
	NodeTimeout         time.Duration `validate:"gte=0"`
	StaleExecutionAfter time.Duration `validate:"gte=0"`
	ShutdownTimeout     time.Duration `validate:"gte=0"`

	RateLimitStore  string        `validate:"oneof=memory redis"`
	RedisURL        string        `validate:"required_if=RateLimitStore redis"`
	RateLimitWindow time.Duration `validate:"min=1ms"`
	RateLimitMax    int           `validate:"min=1"`

	FacebookAppSecret   string
	FacebookVerifyToken string
	FacebookGraphURL    string `validate:"omitempty,url"`
	FacebookEnrich      bool

	OpenAIAPIKey  string
	OpenAIBaseURL string `validate:"omitempty,url"`
	OpenAIModel   string

	MessagingURL   string  `validate:"omitempty,url"`
	MessagingToken string
	MessagingRate  float64 `validate:"gte=0"`
}

// Validate reports every invalid field in one error.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	problems := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		problems = append(problems, fmt.Sprintf("%s failed %q", fieldError.Field(), fieldError.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, ", "))
}

// QueueDispatch reports whether executions are handed to a worker over the bus.
func (c *Config) QueueDispatch() bool {
	return c.DispatchMode == "queue"
}
