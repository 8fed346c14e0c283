package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/sanction-engine/lock"
)

// =============================================================================
// KEYED MUTEX
// =============================================================================

func TestKeyedMutex_ExcludesSameKey(t *testing.T) {
	km := lock.NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "event:1")
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 0, km.Held(), "entries are released once unused")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := lock.NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := km.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_Timeout(t *testing.T) {
	km := lock.NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "a")
	assert.ErrorIs(t, err, lock.ErrTimeout)

	unlock()
	unlock() // second call is a no-op

	again, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}

// =============================================================================
// REDIS LOCKER
// =============================================================================

func setupRedis(t *testing.T) (*miniredis.Miniredis, *lock.RedisLocker) {
	t.Helper()
	return setupRedisTTL(t, time.Minute)
}

func setupRedisTTL(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *lock.RedisLocker) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, lock.NewRedisLocker(client, ttl, zap.NewNop())
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, locker := setupRedis(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "event:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(lock.DefaultKeyPrefix+"event:1"))

	short, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "event:1")
	assert.ErrorIs(t, err, lock.ErrTimeout)

	unlock()
	assert.False(t, mr.Exists(lock.DefaultKeyPrefix+"event:1"))

	again, err := locker.Lock(ctx, "event:1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_StaleHolderCannotReleaseNewLock(t *testing.T) {
	// GIVEN: Holder A's lock expired and B acquired it
	// WHEN: A finally releases
	// THEN: B's lock is still in place

	mr, locker := setupRedis(t)
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "event:1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	unlockB, err := locker.Lock(ctx, "event:1")
	require.NoError(t, err)

	unlockA()
	assert.True(t, mr.Exists(lock.DefaultKeyPrefix+"event:1"))

	unlockB()
	assert.False(t, mr.Exists(lock.DefaultKeyPrefix+"event:1"))
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	// GIVEN: A lock whose TTL has mostly run out while its holder is busy
	// WHEN: The holder keeps running
	// THEN: The expiry is pushed out again, and release removes the key

	mr, locker := setupRedisTTL(t, 300*time.Millisecond)
	key := lock.DefaultKeyPrefix + "event:1"

	unlock, err := locker.Lock(context.Background(), "event:1")
	require.NoError(t, err)

	mr.FastForward(250 * time.Millisecond)
	require.True(t, mr.Exists(key))

	assert.Eventually(t, func() bool {
		return mr.TTL(key) > 250*time.Millisecond
	}, time.Second, 10*time.Millisecond)

	unlock()
	assert.False(t, mr.Exists(key))
}
