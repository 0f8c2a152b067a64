package recorder

// Cycle actions.
const (
	ActionStart    = "START"
	ActionComplete = "COMPLETE"
	ActionReset    = "RESET"
)

// CycleEvent records a rebalancing cycle transition.
type CycleEvent struct {
	CycleID        string `json:"cycle_id"`
	Pool           string `json:"pool"`
	Asset          string `json:"asset"`
	Action         string `json:"action"` // "START", "COMPLETE" or "RESET"
	TotalLiquidity uint64 `json:"total_liquidity"`
	Steps          int    `json:"steps"`
	Cursor         int    `json:"cursor"`
	Discarded      int    `json:"discarded,omitempty"`
	Note           string `json:"note,omitempty"`
}

// StepEvent records one executed or failed step.
type StepEvent struct {
	CycleID     string `json:"cycle_id"`
	Pool        string `json:"pool"`
	Asset       string `json:"asset"`
	Cursor      int    `json:"cursor"`
	Destination int    `json:"destination"`
	Operation   string `json:"operation"`
	Amount      uint64 `json:"amount"`
	Collateral  uint64 `json:"collateral"`
	Released    uint64 `json:"released"`
	Error       string `json:"error,omitempty"` // empty on success
}

// DistributionEvent records an oracle update.
type DistributionEvent struct {
	Asset     string   `json:"asset"`
	Authority string   `json:"authority"`
	Sequence  uint64   `json:"sequence"`
	Shares    []uint64 `json:"shares"`
}

// IncomeEvent records accrued yield picked up by income reconciliation.
type IncomeEvent struct {
	Pool    string   `json:"pool"`
	Asset   string   `json:"asset"`
	Accrued []uint64 `json:"accrued"`
	Total   uint64   `json:"total"`
}

// Recorder persists rebalancing history for analysis.
type Recorder interface {
	RecordCycle(evt *CycleEvent) error
	RecordStep(evt *StepEvent) error
	RecordDistribution(evt *DistributionEvent) error
	RecordIncome(evt *IncomeEvent) error
	Close() error
}
