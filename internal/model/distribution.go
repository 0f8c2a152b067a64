package model

import "time"

// DistributionArray holds one scaled share per destination, in destination index order.
type DistributionArray []uint64

// Clone returns an independent copy.
func (d DistributionArray) Clone() DistributionArray {
	if d == nil {
		return nil
	}
	out := make(DistributionArray, len(d))
	copy(out, d)
	return out
}

// OracleState is the lifecycle of a distribution oracle record.
type OracleState string

const (
	OracleUninitialized OracleState = ""
	OracleInitialized   OracleState = "INITIALIZED"
)

// OracleRecord is the per-asset target distribution and its update authority.
type OracleRecord struct {
	Asset        string            `json:"asset"`
	State        OracleState       `json:"state"`
	Authority    string            `json:"authority"`
	Distribution DistributionArray `json:"distribution"`
	Sequence     uint64            `json:"sequence"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Initialized reports whether Init has run for this record.
func (r *OracleRecord) Initialized() bool {
	return r != nil && r.State == OracleInitialized
}
