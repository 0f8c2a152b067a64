package oracle

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/lock"
	"YieldRouter/internal/model"
	"YieldRouter/internal/recorder"
	"YieldRouter/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturingRecorder struct {
	recorder.NoopRecorder
	distributions []*recorder.DistributionEvent
}

func (c *capturingRecorder) RecordDistribution(evt *recorder.DistributionEvent) error {
	c.distributions = append(c.distributions, evt)
	return nil
}

func newOracle(t *testing.T, n int) (*Oracle, *capturingRecorder) {
	t.Helper()
	rec := &capturingRecorder{}
	o := New(n, store.NewMemoryStore(), lock.NewKeyedMutex(), rec, zap.NewNop())
	require.NoError(t, o.Init(context.Background(), "USDC", "authority"))
	return o, rec
}

func TestInit(t *testing.T) {
	o, _ := newOracle(t, 3)
	ctx := context.Background()

	err := o.Init(ctx, "USDC", "other")
	assert.ErrorIs(t, err, model.ErrAlreadyInitialized)

	_, err = o.Distribution(ctx, "SOL")
	assert.ErrorIs(t, err, model.ErrNotInitialized)

	got, err := o.Distribution(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "authority", got.Authority)
	assert.Zero(t, got.Sequence)
}

func TestSetDistribution(t *testing.T) {
	o, rec := newOracle(t, 3)
	ctx := context.Background()

	shares := []uint64{500_000_000, 300_000_000, 200_000_000}
	require.NoError(t, o.SetDistribution(ctx, "USDC", "authority", shares))

	got, err := o.Distribution(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, model.DistributionArray(shares), got.Distribution)
	assert.Equal(t, uint64(1), got.Sequence)

	require.Len(t, rec.distributions, 1)
	assert.Equal(t, uint64(1), rec.distributions[0].Sequence)

	// The caller's slice is not aliased.
	shares[0] = 0
	got, err = o.Distribution(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000), got.Distribution[0])
}

func TestSetDistribution_PartialAllocationAllowed(t *testing.T) {
	o, _ := newOracle(t, 3)
	require.NoError(t, o.SetDistribution(context.Background(), "USDC", "authority", []uint64{100, 0, 0}))
}

func TestSetDistribution_RejectionsLeaveRecordUnchanged(t *testing.T) {
	o, rec := newOracle(t, 3)
	ctx := context.Background()
	require.NoError(t, o.SetDistribution(ctx, "USDC", "authority", []uint64{fixedpoint.Scale, 0, 0}))

	tests := []struct {
		name      string
		authority string
		shares    []uint64
		wantErr   error
	}{
		{"sum one above scale", "authority", []uint64{fixedpoint.Scale, 1, 0}, model.ErrDistributionInvalid},
		{"too few shares", "authority", []uint64{fixedpoint.Scale, 0}, model.ErrDistributionInvalid},
		{"too many shares", "authority", []uint64{0, 0, 0, 0}, model.ErrDistributionInvalid},
		{"sum overflows", "authority", []uint64{math.MaxUint64, 1, 0}, model.ErrMathOverflow},
		{"wrong authority", "intruder", []uint64{0, 0, fixedpoint.Scale}, model.ErrAuthorityMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.SetDistribution(ctx, "USDC", tt.authority, tt.shares)
			assert.ErrorIs(t, err, tt.wantErr)

			got, err := o.Distribution(ctx, "USDC")
			require.NoError(t, err)
			assert.Equal(t, model.DistributionArray{fixedpoint.Scale, 0, 0}, got.Distribution)
			assert.Equal(t, uint64(1), got.Sequence)
		})
	}
	assert.Len(t, rec.distributions, 1)
}

func TestSetDistribution_Uninitialized(t *testing.T) {
	o, _ := newOracle(t, 1)
	err := o.SetDistribution(context.Background(), "SOL", "authority", []uint64{1})
	assert.ErrorIs(t, err, model.ErrNotInitialized)
}

func TestUpdateAuthority(t *testing.T) {
	o, _ := newOracle(t, 1)
	ctx := context.Background()

	err := o.UpdateAuthority(ctx, "USDC", "intruder", "intruder")
	assert.ErrorIs(t, err, model.ErrAuthorityMismatch)

	require.NoError(t, o.UpdateAuthority(ctx, "USDC", "authority", "next"))

	err = o.SetDistribution(ctx, "USDC", "authority", []uint64{1})
	assert.ErrorIs(t, err, model.ErrAuthorityMismatch)
	require.NoError(t, o.SetDistribution(ctx, "USDC", "next", []uint64{1}))
}

func newRedisLocker(t *testing.T, addr string) lock.Locker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	l, err := lock.NewRedisLocker(context.Background(), client, lock.Options{
		Expiry:     5 * time.Second,
		Tries:      500,
		RetryDelay: 2 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return l
}

func TestSetDistribution_SharedStoreAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	st := store.NewMemoryStore()

	routers := []*Oracle{
		New(2, st, newRedisLocker(t, mr.Addr()), recorder.NewNoopRecorder(), zap.NewNop()),
		New(2, st, newRedisLocker(t, mr.Addr()), recorder.NewNoopRecorder(), zap.NewNop()),
	}
	require.NoError(t, routers[0].Init(ctx, "USDC", "authority"))

	const updates = 25
	var wg sync.WaitGroup
	for _, o := range routers {
		wg.Add(1)
		go func(o *Oracle) {
			defer wg.Done()
			for i := 0; i < updates; i++ {
				assert.NoError(t, o.SetDistribution(ctx, "USDC", "authority", []uint64{1, 2}))
			}
		}(o)
	}
	wg.Wait()

	got, err := routers[1].Distribution(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, uint64(2*updates), got.Sequence)
	assert.False(t, mr.Exists(lock.OracleKey("USDC")))
}

func TestSetDistribution_WaitsForOracleLock(t *testing.T) {
	locker := lock.NewKeyedMutex()
	o := New(1, store.NewMemoryStore(), locker, recorder.NewNoopRecorder(), zap.NewNop())
	require.NoError(t, o.Init(context.Background(), "USDC", "authority"))

	hold := make(chan struct{})
	held := make(chan struct{})
	go locker.WithLock(context.Background(), lock.OracleKey("USDC"), func(context.Context) error {
		close(held)
		<-hold
		return nil
	})
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := o.SetDistribution(ctx, "USDC", "authority", []uint64{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)

	got, err := o.Distribution(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Zero(t, got.Sequence)
}
