// Package ratelimit implements fixed-window request counting keyed by tenant and resource.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultKeyPrefix = "ratelimit"

var (
	ErrInvalidWindow = errors.New("window must be at least 1ms")
	ErrInvalidLimit  = errors.New("max requests must be positive")
	ErrMissingKey    = errors.New("tenant id and resource key are required")
)

// Store atomically increments a counter and returns the post-increment value.
// The counter must expire after ttl; only the first increment sets the ttl.
type Store interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Result of a CheckAndConsume call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Count     int64
}

// RetryAfter is the time until the window resets, rounded up to whole seconds and never below one.
func (r Result) RetryAfter(now time.Time) time.Duration {
	wait := r.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}

	seconds := (wait + time.Second - 1) / time.Second

	return seconds * time.Second
}

// Limiter counts requests per (tenant, resource, window index).
type Limiter struct {
	store  Store
	prefix string
	now    func() time.Time
}

type Option func(*Limiter)

func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	limiter := &Limiter{
		store:  store,
		prefix: defaultKeyPrefix,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(limiter)
	}

	return limiter
}

// CheckAndConsume counts one request for the current window. The request that exceeds
// maxRequests is rejected but still counted, so retries inside the window get no extra budget.
func (l *Limiter) CheckAndConsume(
	ctx context.Context,
	tenantID, resourceKey string,
	window time.Duration,
	maxRequests int,
) (Result, error) {
	// Window indexes are computed in milliseconds.
	if window < time.Millisecond {
		return Result{}, ErrInvalidWindow
	}

	if maxRequests <= 0 {
		return Result{}, ErrInvalidLimit
	}

	if tenantID == "" || resourceKey == "" {
		return Result{}, ErrMissingKey
	}

	now := l.now()
	windowMs := window.Milliseconds()
	windowIndex := now.UnixMilli() / windowMs
	resetAt := time.UnixMilli((windowIndex + 1) * windowMs)

	key := fmt.Sprintf("%s:%s:%s:%d", l.prefix, tenantID, resourceKey, windowIndex)

	ttl := resetAt.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	count, err := l.store.Increment(ctx, key, ttl)
	if err != nil {
		return Result{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	remaining := maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(maxRequests),
		Remaining: remaining,
		ResetAt:   resetAt,
		Count:     count,
	}, nil
}
