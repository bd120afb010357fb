package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingLock_Acquire(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewProcessingLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "txn-1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first acquire should succeed")
}

func TestProcessingLock_Acquire_AlreadyHeld(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewProcessingLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "txn-2", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.Acquire(ctx, "txn-2", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held should fail")
}

func TestProcessingLock_ReleaseAllowsReacquire(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewProcessingLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "txn-3", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, "txn-3"))

	ok, err = lock.Acquire(ctx, "txn-3", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "acquire after release should succeed")
}

func TestProcessingLock_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewProcessingLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "txn-4", 1*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Fast-forward past TTL: a crashed worker's claim expires
	s.FastForward(2 * time.Second)

	ok, err = lock.Acquire(ctx, "txn-4", 1*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be reacquirable")
}

func TestProcessingLock_IndependentTransactions(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewProcessingLock(client)
	ctx := context.Background()

	ok1, err := lock.Acquire(ctx, "txn-a", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := lock.Acquire(ctx, "txn-b", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok2, "locks on different transactions are independent")
}
