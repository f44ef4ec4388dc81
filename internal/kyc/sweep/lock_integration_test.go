//go:build integration

package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisLockMutualExclusion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	const key = "kyc:sweep:lock"

	t.Run("second holder is denied until release", func(t *testing.T) {
		first := NewRedisLock(client, key, time.Minute)
		second := NewRedisLock(client, key, time.Minute)

		held, err := first.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, held)

		held, err = second.Acquire(ctx)
		require.NoError(t, err)
		require.False(t, held, "lock must be exclusive")

		first.Release(ctx)

		held, err = second.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, held, "released lock must be reacquirable")
		second.Release(ctx)
	})

	t.Run("release by a non-owner is a no-op", func(t *testing.T) {
		owner := NewRedisLock(client, key, time.Minute)
		impostor := NewRedisLock(client, key, time.Minute)

		held, err := owner.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, held)

		impostor.Release(ctx)

		held, err = impostor.Acquire(ctx)
		require.NoError(t, err)
		require.False(t, held, "owner's lock must survive a foreign release")
		owner.Release(ctx)
	})

	t.Run("expired lock frees itself", func(t *testing.T) {
		short := NewRedisLock(client, key, 100*time.Millisecond)
		held, err := short.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, held)

		time.Sleep(200 * time.Millisecond)

		next := NewRedisLock(client, key, time.Minute)
		held, err = next.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, held, "TTL must bound a crashed holder")
		next.Release(ctx)
	})
}
