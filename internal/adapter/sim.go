package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"YieldRouter/internal/custody"
	"YieldRouter/internal/fixedpoint"
)

// ErrMarketFrozen is returned by a simulated market that was told to fail.
var ErrMarketFrozen = errors.New("market frozen")

// Ledger is the token custody the simulated market settles through. Apply commits a
// group of transfers and mints together or not at all.
type Ledger interface {
	BalanceOf(ctx context.Context, account, asset string) (uint64, error)
	Mint(ctx context.Context, account, asset string, amount uint64) error
	Apply(ctx context.Context, fn func(tx *custody.Tx) error) error
}

// SimMarket is an in-process money market kept entirely on the custody ledger: reserve
// liquidity is the market account's balance and collateral is a ledger token, so the
// market survives restarts together with the ledger file.
type SimMarket struct {
	mu      sync.Mutex
	account string
	ledger  Ledger
	frozen  error
}

// NewSimMarket creates a market settling on the custody account named account.
func NewSimMarket(account string, ledger Ledger) *SimMarket {
	return &SimMarket{account: account, ledger: ledger}
}

// Freeze makes every following Supply and Redeem fail with err until Unfreeze.
func (m *SimMarket) Freeze(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrMarketFrozen
	}
	m.frozen = err
}

// Unfreeze re-enables the market.
func (m *SimMarket) Unfreeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = nil
}

// CollateralToken is the ledger asset name of this market's collateral for asset.
func (m *SimMarket) CollateralToken(asset string) string {
	return "c:" + m.account + ":" + asset
}

func (m *SimMarket) supplyAccount() string { return m.account + ":supply" }
func (m *SimMarket) burnAccount() string   { return m.account + ":burned" }

func (m *SimMarket) reserve(tx *custody.Tx, asset string) (liquidity, collateral uint64) {
	return tx.BalanceOf(m.account, asset), tx.BalanceOf(m.supplyAccount(), m.CollateralToken(asset))
}

func (m *SimMarket) Supply(ctx context.Context, holder, asset string, liquidity uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen != nil {
		return 0, m.frozen
	}

	var minted uint64
	err := m.ledger.Apply(ctx, func(tx *custody.Tx) error {
		reserveLiquidity, reserveCollateral := m.reserve(tx, asset)
		minted = liquidity
		if reserveCollateral > 0 {
			var err error
			if minted, err = fixedpoint.PercentRatio(liquidity, reserveLiquidity, reserveCollateral); err != nil {
				return err
			}
		}
		if err := tx.Transfer(holder, m.account, asset, liquidity); err != nil {
			return err
		}
		token := m.CollateralToken(asset)
		if err := tx.Mint(holder, token, minted); err != nil {
			return err
		}
		return tx.Mint(m.supplyAccount(), token, minted)
	})
	if err != nil {
		return 0, err
	}
	return minted, nil
}

func (m *SimMarket) Redeem(ctx context.Context, holder, asset string, collateral uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen != nil {
		return 0, m.frozen
	}

	var liquidity uint64
	err := m.ledger.Apply(ctx, func(tx *custody.Tx) error {
		token := m.CollateralToken(asset)
		if held := tx.BalanceOf(holder, token); held < collateral {
			return fmt.Errorf("redeem %d: holder %s has %d collateral", collateral, holder, held)
		}
		reserveLiquidity, reserveCollateral := m.reserve(tx, asset)
		var err error
		if liquidity, err = fixedpoint.PercentRatio(collateral, reserveCollateral, reserveLiquidity); err != nil {
			return err
		}
		if err := tx.Transfer(holder, m.burnAccount(), token, collateral); err != nil {
			return err
		}
		if err := tx.Transfer(m.supplyAccount(), m.burnAccount(), token, collateral); err != nil {
			return err
		}
		return tx.Transfer(m.account, holder, asset, liquidity)
	})
	if err != nil {
		return 0, err
	}
	return liquidity, nil
}

func (m *SimMarket) CollateralOf(ctx context.Context, holder, asset string) (uint64, error) {
	return m.ledger.BalanceOf(ctx, holder, m.CollateralToken(asset))
}

func (m *SimMarket) Reserve(ctx context.Context, asset string) (uint64, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	liquidity, err := m.ledger.BalanceOf(ctx, m.account, asset)
	if err != nil {
		return 0, 0, err
	}
	collateral, err := m.ledger.BalanceOf(ctx, m.supplyAccount(), m.CollateralToken(asset))
	if err != nil {
		return 0, 0, err
	}
	return liquidity, collateral, nil
}

// Accrue pays amount of interest into the reserve, raising the value of every holder's collateral.
func (m *SimMarket) Accrue(ctx context.Context, asset string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Mint(ctx, m.account, asset, amount)
}
