// Package income credits passively accrued yield to tracked destination allocations.
package income

import (
	"context"
	"fmt"

	"YieldRouter/internal/adapter"
	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/model"
	"YieldRouter/internal/registry"
)

// AdapterSource resolves the adapter of a destination ordinal.
type AdapterSource interface {
	For(index int) (adapter.Adapter, error)
}

// Reconciler asks every destination what the pool's position is worth.
type Reconciler struct {
	reg      *registry.Registry
	adapters AdapterSource
}

func NewReconciler(reg *registry.Registry, adapters AdapterSource) *Reconciler {
	return &Reconciler{reg: reg, adapters: adapters}
}

// Reconcile raises each tracked amount to the value reported by its destination and returns
// the per-destination increase. Amounts never go down. allocs is only modified when every
// destination answered.
func (r *Reconciler) Reconcile(ctx context.Context, allocs *model.AllocationSet) ([]uint64, error) {
	allocs.Resize(r.reg.Len())
	reported := make([]uint64, r.reg.Len())

	for _, dest := range r.reg.Destinations() {
		a, err := r.adapters.For(dest.Index)
		if err != nil {
			return nil, err
		}
		value, err := a.Value(ctx, adapter.Position{Pool: allocs.Pool, Asset: allocs.Asset, Destination: dest})
		if err != nil {
			return nil, fmt.Errorf("value of destination %d: %w: %w", dest.Index, model.ErrExternalOperationFailed, err)
		}
		reported[dest.Index] = value
	}

	accrued := make([]uint64, len(reported))
	for i, value := range reported {
		if value > allocs.Allocations[i].Amount {
			accrued[i] = value - allocs.Allocations[i].Amount
		}
	}
	if _, err := fixedpoint.Sum(accrued); err != nil {
		return nil, fmt.Errorf("accrued income: %w", err)
	}
	for i := range accrued {
		allocs.Allocations[i].Amount += accrued[i]
	}
	return accrued, nil
}
