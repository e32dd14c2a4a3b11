package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// KeyedMutex
// ==========================

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Lock(ctx, "p-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 0, km.size())
}

func TestKeyedMutex_DifferentKeysDoNotContend(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	releaseA, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer releaseA(ctx)

	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	releaseB, err := km.Lock(tctx, "b")
	require.NoError(t, err)
	require.NoError(t, releaseB(ctx))
}

func TestKeyedMutex_TimesOutAndCleansUp(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Lock(ctx, "p-1")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(tctx, "p-1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx)) // second call is a no-op
	assert.Equal(t, 0, km.size())
}

// ==========================
// RedisLocker
// ==========================

func newMiniredisLocker(t *testing.T, opts ...RedisOption) (*RedisLocker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	base := []RedisOption{WithPrefix("test:lock:"), WithTTL(5 * time.Second), WithPollInterval(5 * time.Millisecond)}
	return NewRedisLocker(client, append(base, opts...)...), mr, client
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker, mr, _ := newMiniredisLocker(t, WithTokenGenerator(func() string { return "token-1" }))
	ctx := context.Background()

	release, err := locker.Lock(ctx, "p-1")
	require.NoError(t, err)

	got, err := mr.Get("test:lock:p-1")
	require.NoError(t, err)
	assert.Equal(t, "token-1", got)
	assert.Equal(t, 5*time.Second, mr.TTL("test:lock:p-1"))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("test:lock:p-1"))
}

func TestRedisLocker_WaitsForHolder(t *testing.T) {
	locker, _, _ := newMiniredisLocker(t)
	ctx := context.Background()

	release, err := locker.Lock(ctx, "p-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Lock(ctx, "p-1")
		if err == nil {
			close(acquired)
			_ = second(ctx)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, release(ctx))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestRedisLocker_Timeout(t *testing.T) {
	locker, _, _ := newMiniredisLocker(t)
	ctx := context.Background()

	_, err := locker.Lock(ctx, "p-1")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(tctx, "p-1")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRedisLocker_ReleaseDoesNotStealForeignLock(t *testing.T) {
	locker, mr, _ := newMiniredisLocker(t, WithTokenGenerator(func() string { return "mine" }))
	ctx := context.Background()

	release, err := locker.Lock(ctx, "p-1")
	require.NoError(t, err)

	// our lock expired and another replica took it over
	mr.FastForward(6 * time.Second)
	require.NoError(t, mr.Set("test:lock:p-1", "theirs"))

	require.NoError(t, release(ctx))
	got, err := mr.Get("test:lock:p-1")
	require.NoError(t, err)
	assert.Equal(t, "theirs", got)
}

func TestRedisLocker_BackendError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, WithPrefix("l:"), WithTTL(10*time.Second), WithTokenGenerator(func() string { return "tok" }))

	mock.ExpectSetNX("l:p-1", "tok", 10*time.Second).SetErr(errors.New("connection refused"))

	_, err := locker.Lock(context.Background(), "p-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockTimeout)
	assert.Contains(t, err.Error(), "acquire redis lock l:p-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
