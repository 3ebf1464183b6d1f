package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout  time.Duration
	Interval time.Duration
}

// CircuitBreakerProvider fails fast while the wrapped provider keeps failing, so a
// burst of executions does not queue up behind a dead AI backend.
type CircuitBreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[*CompletionResponse]
}

func NewCircuitBreakerProvider(inner Provider, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*CompletionResponse](gobreaker.Settings{
		Name:        "ai:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// only backend health counts: bad requests and caller cancellations do not trip
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrUnavailable) &&
				!errors.Is(err, ErrRateLimited) &&
				!errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &CircuitBreakerProvider{inner: inner, breaker: cb}
}

func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

func (p *CircuitBreakerProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.breaker.Execute(func() (*CompletionResponse, error) {
		return p.inner.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}

		return nil, err
	}

	return resp, nil
}

func (p *CircuitBreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*CircuitBreakerProvider)(nil)
	_ Provider = Disabled{}
)
