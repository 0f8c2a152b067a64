package calculator

import (
	"fmt"
	"sort"

	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/model"
)

// CapMode selects how a target above a destination cap is handled.
type CapMode string

const (
	// CapClamped lowers the target to the cap and reports the destination in Plan.Clamped.
	CapClamped CapMode = "clamped"
	// CapStrict fails the computation with model.ErrCapacityExceeded.
	CapStrict CapMode = "strict"
)

// Input is everything a plan is computed from.
type Input struct {
	TotalLiquidity uint64
	Distribution   model.DistributionArray
	Current        []uint64
	Caps           []uint64
	Mode           CapMode
	// Capacity is the maximum number of steps a record can hold. Zero means len(Distribution).
	Capacity int
}

// Plan is the ordered step list plus the target snapshot it converges to.
type Plan struct {
	TotalLiquidity uint64
	Targets        []uint64
	Clamped        []int
	Steps          []model.RebalancingStep
}

// Compute builds the rebalancing plan: withdraws first, then deposits, each by ascending destination.
func Compute(in Input) (*Plan, error) {
	n := len(in.Distribution)
	if len(in.Current) != n || len(in.Caps) != n {
		return nil, fmt.Errorf("compute plan: %d shares, %d allocations, %d caps: %w",
			n, len(in.Current), len(in.Caps), model.ErrDistributionInvalid)
	}
	capacity := in.Capacity
	if capacity == 0 {
		capacity = n
	}

	plan := &Plan{TotalLiquidity: in.TotalLiquidity, Targets: make([]uint64, n)}
	var withdraws, deposits []model.RebalancingStep

	for d := 0; d < n; d++ {
		target, err := fixedpoint.PercentRatio(in.Distribution[d], fixedpoint.Scale, in.TotalLiquidity)
		if err != nil {
			return nil, fmt.Errorf("target of destination %d: %w", d, err)
		}
		limit, err := fixedpoint.ShareFloor(in.TotalLiquidity, in.Caps[d])
		if err != nil {
			return nil, fmt.Errorf("cap of destination %d: %w", d, err)
		}
		if target > limit {
			if in.Mode == CapStrict {
				return nil, fmt.Errorf("destination %d target %d above cap %d: %w", d, target, limit, model.ErrCapacityExceeded)
			}
			target = limit
			plan.Clamped = append(plan.Clamped, d)
		}
		plan.Targets[d] = target

		diff, err := fixedpoint.AbsDiff(target, in.Current[d])
		if err != nil {
			return nil, fmt.Errorf("diff of destination %d: %w", d, err)
		}
		switch {
		case target > in.Current[d]:
			deposits = append(deposits, model.RebalancingStep{Destination: d, Operation: model.OpDeposit, Amount: diff})
		case target < in.Current[d]:
			withdraws = append(withdraws, model.RebalancingStep{Destination: d, Operation: model.OpWithdraw, Amount: diff})
		}
	}

	plan.Steps = append(withdraws, deposits...)
	sort.SliceStable(plan.Steps, func(i, j int) bool {
		a, b := plan.Steps[i], plan.Steps[j]
		if a.Operation != b.Operation {
			return a.Operation == model.OpWithdraw
		}
		return a.Destination < b.Destination
	})

	if len(plan.Steps) > capacity {
		return nil, fmt.Errorf("plan needs %d steps, record holds %d: %w", len(plan.Steps), capacity, model.ErrCapacityExceeded)
	}
	return plan, nil
}
