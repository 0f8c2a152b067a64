// Package adapter translates rebalancing steps into calls on a destination money market.
// Each registry kind has its own variant; all variants share the Adapter capability.
package adapter

import (
	"context"
	"fmt"

	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/registry"
)

// Supported destination kinds.
const (
	KindLending        = "lending"
	KindCollateralPool = "collateral_pool"
)

// Position identifies the holdings of one pool in one destination.
type Position struct {
	Pool        string
	Asset       string
	Destination registry.Destination
}

// Adapter is the deposit/withdraw capability of one destination.
type Adapter interface {
	// Deposit supplies amount of liquidity and returns the collateral received.
	Deposit(ctx context.Context, pos Position, amount uint64) (uint64, error)
	// Withdraw redeems enough collateral to release amount of liquidity and returns
	// the collateral burned and the liquidity actually released.
	Withdraw(ctx context.Context, pos Position, amount uint64) (collateral, released uint64, err error)
	// Value reports the current liquidity value of the position, including accrued yield.
	Value(ctx context.Context, pos Position) (uint64, error)
}

// Market is the external money market a variant talks to.
type Market interface {
	Supply(ctx context.Context, holder, asset string, liquidity uint64) (uint64, error)
	Redeem(ctx context.Context, holder, asset string, collateral uint64) (uint64, error)
	CollateralOf(ctx context.Context, holder, asset string) (uint64, error)
	// Reserve returns total liquidity and total collateral of the asset reserve.
	Reserve(ctx context.Context, asset string) (liquidity, collateral uint64, err error)
}

// New builds the variant for kind on top of market.
func New(kind string, market Market) (Adapter, error) {
	switch kind {
	case KindLending, "":
		return &lending{market: market}, nil
	case KindCollateralPool:
		return &collateralPool{market: market}, nil
	default:
		return nil, fmt.Errorf("unsupported destination kind %q", kind)
	}
}

// lending holds interest-bearing collateral whose liquidity value grows with the reserve rate.
type lending struct {
	market Market
}

func (l *lending) Deposit(ctx context.Context, pos Position, amount uint64) (uint64, error) {
	return l.market.Supply(ctx, pos.Pool, pos.Asset, amount)
}

func (l *lending) Withdraw(ctx context.Context, pos Position, amount uint64) (uint64, uint64, error) {
	held, err := l.market.CollateralOf(ctx, pos.Pool, pos.Asset)
	if err != nil {
		return 0, 0, err
	}
	value, err := l.Value(ctx, pos)
	if err != nil {
		return 0, 0, err
	}
	if amount > value {
		return 0, 0, fmt.Errorf("withdraw %d exceeds position value %d", amount, value)
	}
	collateral, err := fixedpoint.PercentRatio(amount, value, held)
	if err != nil {
		return 0, 0, err
	}
	if collateral == 0 {
		return 0, 0, nil
	}
	released, err := l.market.Redeem(ctx, pos.Pool, pos.Asset, collateral)
	if err != nil {
		return 0, 0, err
	}
	return collateral, released, nil
}

func (l *lending) Value(ctx context.Context, pos Position) (uint64, error) {
	held, err := l.market.CollateralOf(ctx, pos.Pool, pos.Asset)
	if err != nil {
		return 0, err
	}
	liquidity, collateral, err := l.market.Reserve(ctx, pos.Asset)
	if err != nil {
		return 0, err
	}
	return fixedpoint.PercentRatio(held, collateral, liquidity)
}

// collateralPool mints collateral 1:1 with liquidity and earns nothing.
type collateralPool struct {
	market Market
}

func (p *collateralPool) Deposit(ctx context.Context, pos Position, amount uint64) (uint64, error) {
	return p.market.Supply(ctx, pos.Pool, pos.Asset, amount)
}

func (p *collateralPool) Withdraw(ctx context.Context, pos Position, amount uint64) (uint64, uint64, error) {
	released, err := p.market.Redeem(ctx, pos.Pool, pos.Asset, amount)
	if err != nil {
		return 0, 0, err
	}
	return amount, released, nil
}

func (p *collateralPool) Value(ctx context.Context, pos Position) (uint64, error) {
	return p.market.CollateralOf(ctx, pos.Pool, pos.Asset)
}

// Set resolves the adapter of each registry destination.
type Set struct {
	adapters []Adapter
}

// NewSet builds one adapter per registry destination. markets is keyed by program id.
func NewSet(reg *registry.Registry, markets map[string]Market) (*Set, error) {
	s := &Set{adapters: make([]Adapter, reg.Len())}
	for _, d := range reg.Destinations() {
		m, ok := markets[d.ProgramID]
		if !ok {
			return nil, fmt.Errorf("destination %d: no market for program %q", d.Index, d.ProgramID)
		}
		a, err := New(d.Kind, m)
		if err != nil {
			return nil, fmt.Errorf("destination %d: %w", d.Index, err)
		}
		s.adapters[d.Index] = a
	}
	return s, nil
}

// For returns the adapter of destination index.
func (s *Set) For(index int) (Adapter, error) {
	if index < 0 || index >= len(s.adapters) {
		return nil, fmt.Errorf("no adapter for destination %d", index)
	}
	return s.adapters[index], nil
}
