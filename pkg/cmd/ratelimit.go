package cmd

import (
	"context"
	"fmt"

	"github.com/gymops/automation/pkg/config"
	"github.com/gymops/automation/pkg/ratelimit"
)

// RateLimitStore is the counter store plus the in-memory store to sweep, if any.
type RateLimitStore struct {
	Store  ratelimit.Store
	Memory *ratelimit.MemoryStore
	close  func() error
}

func (s *RateLimitStore) Close() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

func NewRateLimitStore(ctx context.Context, kind, redisURL string) (*RateLimitStore, error) {
	switch kind {
	case config.RateLimitStoreRedis:
		store, err := ratelimit.NewRedisStoreFromURL(ctx, redisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}

		return &RateLimitStore{Store: store, close: store.Close}, nil
	case config.RateLimitStoreMemory, "":
		memory := ratelimit.NewMemoryStore()

		return &RateLimitStore{Store: memory, Memory: memory}, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit store: %s", kind)
	}
}
