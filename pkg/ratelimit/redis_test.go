package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/gymops/automation/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisStore_Increment(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	store, err := ratelimit.NewRedisStore(client)
	require.NoError(t, err)

	count, err := store.Increment(ctx, "ratelimit:test:key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.Increment(ctx, "ratelimit:test:key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl, err := client.PTTL(ctx, "ratelimit:test:key").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisStore_WithLimiter(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	store, err := ratelimit.NewRedisStore(client)
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(store, ratelimit.WithKeyPrefix("test"))

	for range 3 {
		result, err := limiter.CheckAndConsume(ctx, "org1", "wh1", time.Hour, 3)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.CheckAndConsume(ctx, "org1", "wh1", time.Hour, 3)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestNewRedisStore_RequiresClient(t *testing.T) {
	t.Parallel()

	_, err := ratelimit.NewRedisStore(nil)
	require.Error(t, err)
}
