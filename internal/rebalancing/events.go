package rebalancing

import (
	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/model"
	"YieldRouter/internal/recorder"

	"go.uber.org/zap"
)

// History sinks are best effort: a failed write is logged and never fails the operation.

func (m *Machine) recordCycle(rec *model.RebalancingRecord, action, note string) {
	err := m.rec.RecordCycle(&recorder.CycleEvent{
		CycleID:        rec.ID,
		Pool:           rec.Pool,
		Asset:          rec.Asset,
		Action:         action,
		TotalLiquidity: rec.TotalLiquidity,
		Steps:          len(rec.Steps),
		Cursor:         rec.Cursor,
		Discarded:      rec.Discarded,
		Note:           note,
	})
	if err != nil {
		m.logger.Warn("record cycle event failed", zap.String("cycle_id", rec.ID), zap.Error(err))
	}
}

func (m *Machine) recordStep(rec *model.RebalancingRecord, step model.RebalancingStep, stepErr error) {
	evt := &recorder.StepEvent{
		CycleID:     rec.ID,
		Pool:        rec.Pool,
		Asset:       rec.Asset,
		Cursor:      rec.Cursor,
		Destination: step.Destination,
		Operation:   string(step.Operation),
		Amount:      step.Amount,
		Collateral:  step.Collateral,
		Released:    step.Released,
	}
	if stepErr != nil {
		evt.Error = stepErr.Error()
	}
	if err := m.rec.RecordStep(evt); err != nil {
		m.logger.Warn("record step event failed", zap.String("cycle_id", rec.ID), zap.Error(err))
	}
}

func (m *Machine) recordIncome(pool, asset string, accrued []uint64) {
	total, err := fixedpoint.Sum(accrued)
	if err != nil || total == 0 {
		return
	}
	m.logger.Info("income credited",
		zap.String("pool", pool), zap.String("asset", asset), zap.Uint64("total", total), zap.Uint64s("accrued", accrued))
	if err := m.rec.RecordIncome(&recorder.IncomeEvent{Pool: pool, Asset: asset, Accrued: accrued, Total: total}); err != nil {
		m.logger.Warn("record income event failed", zap.String("pool", pool), zap.String("asset", asset), zap.Error(err))
	}
}
