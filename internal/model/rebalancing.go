package model

import "time"

// Operation is the kind of a rebalancing step.
type Operation string

const (
	OpWithdraw Operation = "WITHDRAW"
	OpDeposit  Operation = "DEPOSIT"
)

// CycleState is the lifecycle of a rebalancing record.
type CycleState string

const (
	CycleUninitialized CycleState = ""
	CyclePlanning      CycleState = "PLANNING"
	CycleInProgress    CycleState = "IN_PROGRESS"
	CycleComplete      CycleState = "COMPLETE"
)

// RebalancingStep is one planned deposit or withdraw against a single destination.
type RebalancingStep struct {
	Destination int       `json:"destination"`
	Operation   Operation `json:"operation"`
	Amount      uint64    `json:"amount"`
	Collateral  uint64    `json:"collateral"`
	Released    uint64    `json:"released"`
	// CollateralDrift is the part of Collateral the allocation did not track.
	CollateralDrift uint64     `json:"collateral_drift,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
}

// Executed reports whether the step has been applied.
func (s RebalancingStep) Executed() bool {
	return s.ExecutedAt != nil
}

// RebalancingRecord tracks one plan-and-execute cycle for a (pool, asset) pair.
type RebalancingRecord struct {
	ID             string            `json:"id"`
	Pool           string            `json:"pool"`
	Asset          string            `json:"asset"`
	State          CycleState        `json:"state"`
	TotalLiquidity uint64            `json:"total_liquidity"`
	Distribution   DistributionArray `json:"distribution"`
	OracleSequence uint64            `json:"oracle_sequence"`
	Targets        []uint64          `json:"targets"`
	Clamped        []int             `json:"clamped,omitempty"`
	Steps          []RebalancingStep `json:"steps"`
	Cursor         int               `json:"cursor"`
	Discarded      int               `json:"discarded,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Complete reports whether the cycle has finished. A missing record counts as complete.
func (r *RebalancingRecord) Complete() bool {
	return r == nil || r.State == CycleUninitialized || r.State == CycleComplete
}

// InProgress reports whether steps remain to be executed.
func (r *RebalancingRecord) InProgress() bool {
	return r != nil && r.State == CycleInProgress
}

// Remaining returns the number of unexecuted steps.
func (r *RebalancingRecord) Remaining() int {
	if r == nil {
		return 0
	}
	return len(r.Steps) - r.Cursor
}

// Clone returns a deep copy that callers may mutate freely.
func (r *RebalancingRecord) Clone() *RebalancingRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Distribution = r.Distribution.Clone()
	out.Targets = append([]uint64(nil), r.Targets...)
	out.Clamped = append([]int(nil), r.Clamped...)
	out.Steps = make([]RebalancingStep, len(r.Steps))
	for i, s := range r.Steps {
		if s.ExecutedAt != nil {
			at := *s.ExecutedAt
			s.ExecutedAt = &at
		}
		out.Steps[i] = s
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}
