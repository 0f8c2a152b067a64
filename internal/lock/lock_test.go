package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), Key("general", "USDC"), func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestKeyedMutex_Serializes(t *testing.T) {
	exerciseMutualExclusion(t, NewKeyedMutex())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	err := k.WithLock(ctx, Key("general", "USDC"), func(ctx context.Context) error {
		return k.WithLock(ctx, Key("general", "SOL"), func(context.Context) error { return nil })
	})
	assert.NoError(t, err)
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	k := NewKeyedMutex()
	key := Key("general", "USDC")
	hold := make(chan struct{})
	held := make(chan struct{})

	go k.WithLock(context.Background(), key, func(context.Context) error {
		close(held)
		<-hold
		return nil
	})
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := k.WithLock(ctx, key, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)
}

func TestKeyedMutex_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := NewKeyedMutex().WithLock(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = NewKeyedMutex().WithLock(context.Background(), "", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l, err := NewRedisLocker(context.Background(), client, Options{
		Expiry:     5 * time.Second,
		Tries:      200,
		RetryDelay: 5 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return l, mr
}

func TestRedisLocker_WithLock(t *testing.T) {
	l, mr := newRedisLocker(t)
	key := Key("general", "USDC")

	err := l.WithLock(context.Background(), key, func(context.Context) error {
		assert.True(t, mr.Exists(key), "lock key present while held")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key), "lock key released")
}

func TestRedisLocker_Serializes(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, l)
}

func TestRedisLocker_BusyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l, err := NewRedisLocker(context.Background(), client, Options{Expiry: time.Second, Tries: 1}, zap.NewNop())
	require.NoError(t, err)

	key := Key("general", "USDC")
	require.NoError(t, mr.Set(key, "someone-else"))

	called := false
	err = l.WithLock(context.Background(), key, func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestNewRedisLocker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, err := NewRedisLocker(context.Background(), client, DefaultOptions(), zap.NewNop())
	assert.Error(t, err)
}
