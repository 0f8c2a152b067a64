package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"YieldRouter/internal/fixedpoint"
)

// ErrInsufficientFunds is returned when a transfer exceeds the source balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger is a token custody balance sheet with concurrency safety.
// When filePath is empty the ledger lives in memory only.
type Ledger struct {
	mu       sync.Mutex
	state    *State
	filePath string
}

// NewLedger creates a Ledger, loading state from disk when filePath is set.
func NewLedger(filePath string) (*Ledger, error) {
	state := &State{Balances: map[string]map[string]uint64{}}
	if filePath != "" {
		loaded, err := LoadState(filePath)
		if err != nil {
			return nil, fmt.Errorf("load custody state: %w", err)
		}
		state = loaded
	}
	return &Ledger{state: state, filePath: filePath}, nil
}

// Tx stages balance changes for Apply. It works on a private copy of the balances.
type Tx struct {
	balances map[string]map[string]uint64
}

// BalanceOf returns the staged balance of account in asset.
func (tx *Tx) BalanceOf(account, asset string) uint64 {
	return tx.balances[account][asset]
}

// Transfer stages a move of amount of asset from one account to another.
func (tx *Tx) Transfer(from, to, asset string, amount uint64) error {
	src := tx.balances[from][asset]
	if src < amount {
		return fmt.Errorf("transfer %d %s from %s: %w", amount, asset, from, ErrInsufficientFunds)
	}
	dst, err := fixedpoint.Add(tx.balances[to][asset], amount)
	if err != nil {
		return fmt.Errorf("transfer %d %s to %s: %w", amount, asset, to, err)
	}
	tx.set(from, asset, src-amount)
	tx.set(to, asset, dst)
	return nil
}

// Mint stages a credit of amount to account.
func (tx *Tx) Mint(account, asset string, amount uint64) error {
	next, err := fixedpoint.Add(tx.balances[account][asset], amount)
	if err != nil {
		return fmt.Errorf("mint %d %s to %s: %w", amount, asset, account, err)
	}
	tx.set(account, asset, next)
	return nil
}

func (tx *Tx) set(account, asset string, amount uint64) {
	if tx.balances[account] == nil {
		tx.balances[account] = map[string]uint64{}
	}
	tx.balances[account][asset] = amount
}

// Apply runs fn against a copy of the balances and commits every staged change together.
// Nothing is visible, in memory or on disk, unless fn succeeds and the state file is written.
func (l *Ledger) Apply(_ context.Context, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{balances: l.state.cloneBalances()}
	if err := fn(tx); err != nil {
		return err
	}
	next := &State{Balances: tx.balances}
	if l.filePath != "" {
		if err := SaveState(l.filePath, next); err != nil {
			return fmt.Errorf("save custody state: %w", err)
		}
	}
	l.state = next
	return nil
}

// BalanceOf returns the balance of account in asset.
func (l *Ledger) BalanceOf(_ context.Context, account, asset string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balances[account][asset], nil
}

// Transfer moves amount of asset from one account to another. It either applies fully or not at all.
func (l *Ledger) Transfer(ctx context.Context, from, to, asset string, amount uint64) error {
	return l.Apply(ctx, func(tx *Tx) error {
		return tx.Transfer(from, to, asset, amount)
	})
}

// Mint credits amount to account out of thin air. Used to fund pools and to pay simulated yield.
func (l *Ledger) Mint(ctx context.Context, account, asset string, amount uint64) error {
	return l.Apply(ctx, func(tx *Tx) error {
		return tx.Mint(account, asset, amount)
	})
}

// Empty reports whether no account holds anything, e.g. on first start.
func (l *Ledger) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, assets := range l.state.Balances {
		for _, amount := range assets {
			if amount > 0 {
				return false
			}
		}
	}
	return true
}
