package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgelabs/nudged/internal/testutil"
)

func TestNewRedisDeliveryGuardRequiresClient(t *testing.T) {
	_, err := NewRedisDeliveryGuard(RedisDeliveryGuardOptions{})
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustNewRedisDeliveryGuard(RedisDeliveryGuardOptions{})
	})
}

func TestRedisDeliveryGuardAcquireRelease(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	guard := MustNewRedisDeliveryGuard(RedisDeliveryGuardOptions{Client: client})
	ctx := context.Background()

	ok, err := guard.TryAcquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second attempt loses while the first holder is alive.
	ok, err = guard.TryAcquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different job is an independent lock.
	ok, err = guard.TryAcquire(ctx, "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, guard.Release(ctx, "job-1"))
	ok, err = guard.TryAcquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDeliveryGuardTTLExpires(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	guard := MustNewRedisDeliveryGuard(RedisDeliveryGuardOptions{Client: client})
	ctx := context.Background()

	ok, err := guard.TryAcquire(ctx, "job-ttl", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)

	ok, err = guard.TryAcquire(ctx, "job-ttl", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be acquirable after TTL expiry")
}

func TestRedisDeliveryGuardValidatesInput(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	guard := MustNewRedisDeliveryGuard(RedisDeliveryGuardOptions{Client: client})
	ctx := context.Background()

	_, err := guard.TryAcquire(ctx, "", time.Minute)
	assert.Error(t, err)

	_, err = guard.TryAcquire(ctx, "job-1", 0)
	assert.Error(t, err)

	assert.Error(t, guard.Release(ctx, ""))
}

func TestRedisDeliveryGuardReleaseMissingKey(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	guard := MustNewRedisDeliveryGuard(RedisDeliveryGuardOptions{Client: client})

	// Releasing a key the TTL already expired must not error.
	assert.NoError(t, guard.Release(context.Background(), "never-acquired"))
}

func TestNoopDeliveryGuardAlwaysGrants(t *testing.T) {
	guard := NoopDeliveryGuard{}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := guard.TryAcquire(ctx, "job-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.NoError(t, guard.Release(ctx, "job-1"))
}
