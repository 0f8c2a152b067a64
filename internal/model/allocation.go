package model

import "time"

// DestinationAllocation is the tracked liquidity a pool holds in one destination.
type DestinationAllocation struct {
	Destination int    `json:"destination"`
	Amount      uint64 `json:"amount"`
	Collateral  uint64 `json:"collateral"`
	// CollateralDrift accumulates collateral burned beyond what was tracked. Non-zero means
	// the tracked collateral no longer matches the destination and needs an operator.
	CollateralDrift uint64 `json:"collateral_drift,omitempty"`
}

// AllocationSet is every destination allocation of one (pool, asset) pair.
type AllocationSet struct {
	Pool              string                  `json:"pool"`
	Asset             string                  `json:"asset"`
	Allocations       []DestinationAllocation `json:"allocations"`
	IncomeRefreshedAt time.Time               `json:"income_refreshed_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// NewAllocationSet returns an empty set sized for n destinations.
func NewAllocationSet(pool, asset string, n int) *AllocationSet {
	s := &AllocationSet{Pool: pool, Asset: asset, Allocations: make([]DestinationAllocation, n)}
	for i := range s.Allocations {
		s.Allocations[i].Destination = i
	}
	return s
}

// Amounts returns the tracked liquidity per destination.
func (s *AllocationSet) Amounts() []uint64 {
	out := make([]uint64, len(s.Allocations))
	for i, a := range s.Allocations {
		out[i] = a.Amount
	}
	return out
}

// Resize grows the set to n destinations, keeping existing entries.
func (s *AllocationSet) Resize(n int) {
	for len(s.Allocations) < n {
		s.Allocations = append(s.Allocations, DestinationAllocation{Destination: len(s.Allocations)})
	}
}

// Clone returns an independent copy.
func (s *AllocationSet) Clone() *AllocationSet {
	if s == nil {
		return nil
	}
	out := *s
	out.Allocations = append([]DestinationAllocation(nil), s.Allocations...)
	return &out
}
