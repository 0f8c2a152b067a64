package recorder

// NoopRecorder is a no-op implementation used when no history sink is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordCycle(_ *CycleEvent) error               { return nil }
func (n *NoopRecorder) RecordStep(_ *StepEvent) error                 { return nil }
func (n *NoopRecorder) RecordDistribution(_ *DistributionEvent) error { return nil }
func (n *NoopRecorder) RecordIncome(_ *IncomeEvent) error             { return nil }
func (n *NoopRecorder) Close() error                                  { return nil }
