//go:build property
// +build property

package calculator

import (
	"testing"

	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const destinations = 4

func applyPlan(current []uint64, plan *Plan) []uint64 {
	out := append([]uint64(nil), current...)
	for _, s := range plan.Steps {
		if s.Operation == model.OpDeposit {
			out[s.Destination] += s.Amount
		} else {
			out[s.Destination] -= s.Amount
		}
	}
	return out
}

// TestPlanShape verifies plans never exceed capacity and are withdraw-then-deposit, each ascending.
func TestPlanShape(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("plans are bounded and ordered", prop.ForAll(
		func(shares, current []uint64, total uint64) bool {
			plan, err := Compute(Input{
				TotalLiquidity: total,
				Distribution:   shares,
				Current:        current,
				Caps:           fullCaps(destinations),
			})
			if err != nil {
				return false
			}
			if len(plan.Steps) > destinations {
				return false
			}
			seenDeposit := false
			last := -1
			for _, s := range plan.Steps {
				if s.Amount == 0 {
					return false
				}
				if s.Operation == model.OpDeposit && !seenDeposit {
					seenDeposit = true
					last = -1
				}
				if s.Operation == model.OpWithdraw && seenDeposit {
					return false
				}
				if s.Destination <= last {
					return false
				}
				last = s.Destination
			}
			return true
		},
		gen.SliceOfN(destinations, gen.UInt64Range(0, fixedpoint.Scale/destinations)),
		gen.SliceOfN(destinations, gen.UInt64Range(0, 1_000_000_000_000)),
		gen.UInt64Range(0, 1_000_000_000_000_000),
	))

	properties.TestingRun(t)
}

// TestPlanRoundTrip verifies executing every step lands exactly on the clamped targets.
func TestPlanRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("applying the plan reaches the targets", prop.ForAll(
		func(shares, current, caps []uint64, total uint64) bool {
			plan, err := Compute(Input{
				TotalLiquidity: total,
				Distribution:   shares,
				Current:        current,
				Caps:           caps,
				Mode:           CapClamped,
			})
			if err != nil {
				return false
			}
			after := applyPlan(current, plan)
			for d := 0; d < destinations; d++ {
				want, _ := fixedpoint.PercentRatio(shares[d], fixedpoint.Scale, total)
				limit, _ := fixedpoint.ShareFloor(total, caps[d])
				if want > limit {
					want = limit
				}
				if after[d] != want {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(destinations, gen.UInt64Range(0, fixedpoint.Scale/destinations)),
		gen.SliceOfN(destinations, gen.UInt64Range(0, 1_000_000_000_000)),
		gen.SliceOfN(destinations, gen.UInt64Range(0, fixedpoint.Scale)),
		gen.UInt64Range(0, 1_000_000_000_000_000),
	))

	properties.TestingRun(t)
}
