package notifier

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"YieldRouter/internal/model"

	"github.com/shopspring/decimal"
)

// FormatShare renders a 1e9-scaled share as a percentage, e.g. 500000000 -> "50.00%".
func FormatShare(scaled uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(scaled), -7).StringFixed(2) + "%"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatCycleStarted describes a freshly planned cycle.
func FormatCycleStarted(rec *model.RebalancingRecord) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔄 <b>Rebalancing started</b> | %s/%s\n\n", rec.Pool, rec.Asset))
	b.WriteString(fmt.Sprintf("Cycle: <code>%s</code>\n", shortID(rec.ID)))
	b.WriteString(fmt.Sprintf("Total liquidity: %d\n", rec.TotalLiquidity))
	b.WriteString(fmt.Sprintf("Oracle sequence: %d\n", rec.OracleSequence))
	if len(rec.Steps) == 0 {
		b.WriteString("\nAlready on target, nothing to do ✅")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("\n📋 <b>Plan (%d steps):</b>\n", len(rec.Steps)))
	for i, s := range rec.Steps {
		b.WriteString(fmt.Sprintf("  %d. %s #%d: %d\n", i+1, s.Operation, s.Destination, s.Amount))
	}
	if len(rec.Clamped) > 0 {
		b.WriteString(fmt.Sprintf("\n⚠️ Clamped to cap: %v\n", rec.Clamped))
	}
	return b.String()
}

// FormatCycleComplete summarizes a finished cycle.
func FormatCycleComplete(rec *model.RebalancingRecord) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ <b>Rebalancing complete</b> | %s/%s\n\n", rec.Pool, rec.Asset))
	b.WriteString(fmt.Sprintf("Cycle: <code>%s</code>\n", shortID(rec.ID)))
	b.WriteString(fmt.Sprintf("Steps executed: %d\n", rec.Cursor))
	if rec.Discarded > 0 {
		b.WriteString(fmt.Sprintf("Steps discarded: %d\n", rec.Discarded))
	}
	if rec.CompletedAt != nil {
		b.WriteString(fmt.Sprintf("Duration: %s\n", rec.CompletedAt.Sub(rec.StartedAt).Round(time.Second)))
	}
	return b.String()
}

// FormatStepFailure reports a step that could not be executed and will be retried.
func FormatStepFailure(pool, asset string, err error) string {
	return fmt.Sprintf("❌ <b>Rebalancing step failed</b> | %s/%s\n\n%v\n\nWill retry on the next tick.", pool, asset, err)
}

// FormatStatus renders the latest cycle and the tracked allocations of a pair.
func FormatStatus(pool, asset string, rec *model.RebalancingRecord, allocs *model.AllocationSet) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>%s/%s</b>\n\n", pool, asset))
	switch {
	case rec == nil:
		b.WriteString("No cycle yet\n")
	case rec.InProgress():
		b.WriteString(fmt.Sprintf("Cycle <code>%s</code>: step %d/%d\n", shortID(rec.ID), rec.Cursor, len(rec.Steps)))
	default:
		b.WriteString(fmt.Sprintf("Cycle <code>%s</code>: complete\n", shortID(rec.ID)))
	}
	if allocs != nil {
		b.WriteString("\n💰 <b>Allocations:</b>\n")
		for _, a := range allocs.Allocations {
			line := fmt.Sprintf("  #%d: %d", a.Destination, a.Amount)
			if rec != nil && a.Destination < len(rec.Targets) {
				line += fmt.Sprintf(" (target %d)", rec.Targets[a.Destination])
			}
			if a.CollateralDrift > 0 {
				line += fmt.Sprintf(" ⚠️ collateral drift %d", a.CollateralDrift)
			}
			b.WriteString(line + "\n")
		}
		if !allocs.IncomeRefreshedAt.IsZero() {
			b.WriteString(fmt.Sprintf("Income refreshed: %s\n", allocs.IncomeRefreshedAt.Format("2006-01-02 15:04")))
		}
	}
	return b.String()
}

// FormatDistribution renders an oracle record.
func FormatDistribution(rec *model.OracleRecord) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🎯 <b>Distribution</b> | %s (seq %d)\n\n", rec.Asset, rec.Sequence))
	for i, s := range rec.Distribution {
		b.WriteString(fmt.Sprintf("  #%d: %s\n", i, FormatShare(s)))
	}
	return b.String()
}

// FormatIncome reports yield credited by income reconciliation.
func FormatIncome(pool, asset string, accrued []uint64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🌱 <b>Income credited</b> | %s/%s\n\n", pool, asset))
	for i, a := range accrued {
		if a > 0 {
			b.WriteString(fmt.Sprintf("  #%d: +%d\n", i, a))
		}
	}
	return b.String()
}

// FormatHistory lists past cycles, newest first.
func FormatHistory(pool, asset string, recs []*model.RebalancingRecord) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📅 <b>History</b> | %s/%s\n\n", pool, asset))
	if len(recs) == 0 {
		b.WriteString("No cycles yet\n")
	}
	for _, r := range recs {
		b.WriteString(fmt.Sprintf("  %s <code>%s</code> %s %d/%d\n",
			r.StartedAt.Format("01-02 15:04"), shortID(r.ID), r.State, r.Cursor, len(r.Steps)))
	}
	return b.String()
}
