package custody

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"YieldRouter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_TransferAndPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "custody.json")

	l, err := NewLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Mint(ctx, "pool", "USDC", 1000))
	require.NoError(t, l.Transfer(ctx, "pool", "market", "USDC", 400))

	reloaded, err := NewLedger(path)
	require.NoError(t, err)
	bal, err := reloaded.BalanceOf(ctx, "pool", "USDC")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), bal)
	bal, err = reloaded.BalanceOf(ctx, "market", "USDC")
	require.NoError(t, err)
	assert.Equal(t, uint64(400), bal)
}

func TestLedger_FailedTransferLeavesBalances(t *testing.T) {
	ctx := context.Background()
	l, err := NewLedger("")
	require.NoError(t, err)
	require.NoError(t, l.Mint(ctx, "pool", "USDC", 10))

	err = l.Transfer(ctx, "pool", "market", "USDC", 11)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, l.Mint(ctx, "market", "USDC", math.MaxUint64))
	err = l.Transfer(ctx, "pool", "market", "USDC", 1)
	assert.ErrorIs(t, err, model.ErrMathOverflow)

	bal, _ := l.BalanceOf(ctx, "pool", "USDC")
	assert.Equal(t, uint64(10), bal)
}

func TestLedger_Empty(t *testing.T) {
	l, err := NewLedger("")
	require.NoError(t, err)
	assert.True(t, l.Empty())
	require.NoError(t, l.Mint(context.Background(), "pool", "USDC", 0))
	assert.True(t, l.Empty())
	require.NoError(t, l.Mint(context.Background(), "pool", "USDC", 1))
	assert.False(t, l.Empty())
}

func TestLedger_FailedSaveKeepsBalances(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "custody.json")

	l, err := NewLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Mint(ctx, "pool", "USDC", 1000))

	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, l.Transfer(ctx, "pool", "market", "USDC", 400))
	assert.Error(t, l.Mint(ctx, "market", "USDC", 5))

	bal, _ := l.BalanceOf(ctx, "pool", "USDC")
	assert.Equal(t, uint64(1000), bal)
	bal, _ = l.BalanceOf(ctx, "market", "USDC")
	assert.Equal(t, uint64(0), bal)

	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, l.Transfer(ctx, "pool", "market", "USDC", 400))

	reloaded, err := NewLedger(path)
	require.NoError(t, err)
	bal, _ = reloaded.BalanceOf(ctx, "pool", "USDC")
	assert.Equal(t, uint64(600), bal)
	bal, _ = reloaded.BalanceOf(ctx, "market", "USDC")
	assert.Equal(t, uint64(400), bal)
}

func TestLedger_ApplyCommitsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l, err := NewLedger("")
	require.NoError(t, err)
	require.NoError(t, l.Mint(ctx, "pool", "USDC", 100))

	boom := errors.New("boom")
	err = l.Apply(ctx, func(tx *Tx) error {
		require.NoError(t, tx.Transfer("pool", "market", "USDC", 60))
		assert.Equal(t, uint64(40), tx.BalanceOf("pool", "USDC"))
		require.NoError(t, tx.Mint("pool", "cUSDC", 60))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	bal, _ := l.BalanceOf(ctx, "pool", "USDC")
	assert.Equal(t, uint64(100), bal)
	bal, _ = l.BalanceOf(ctx, "pool", "cUSDC")
	assert.Equal(t, uint64(0), bal)

	require.NoError(t, l.Apply(ctx, func(tx *Tx) error {
		if err := tx.Transfer("pool", "market", "USDC", 60); err != nil {
			return err
		}
		return tx.Mint("pool", "cUSDC", 60)
	}))
	bal, _ = l.BalanceOf(ctx, "market", "USDC")
	assert.Equal(t, uint64(60), bal)
	bal, _ = l.BalanceOf(ctx, "pool", "cUSDC")
	assert.Equal(t, uint64(60), bal)
}
