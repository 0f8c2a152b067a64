// Package rebalancing drives a pool's liquidity toward the oracle distribution one step at a time.
//
// A cycle is planned by Start and executed by repeated Advance calls. Each Advance performs
// exactly one external deposit or withdraw and persists the result together with the cursor,
// so a failed or interrupted call can simply be retried.
package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"YieldRouter/internal/adapter"
	"YieldRouter/internal/calculator"
	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/income"
	"YieldRouter/internal/lock"
	"YieldRouter/internal/model"
	"YieldRouter/internal/recorder"
	"YieldRouter/internal/registry"
	"YieldRouter/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DistributionSource returns the current oracle record of an asset.
type DistributionSource interface {
	Distribution(ctx context.Context, asset string) (*model.OracleRecord, error)
}

// Custody reports the free (undeployed) balance a pool holds.
type Custody interface {
	BalanceOf(ctx context.Context, account, asset string) (uint64, error)
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Registry *registry.Registry
	Oracle   DistributionSource
	Adapters income.AdapterSource
	Custody  Custody
	Store    store.Store
	Locker   lock.Locker
	Recorder recorder.Recorder
	Logger   *zap.Logger
}

// Config tunes planning and income refresh.
type Config struct {
	CapMode calculator.CapMode
	// RefreshInterval is the minimum time between two standalone income refreshes of a pair.
	RefreshInterval time.Duration
}

// Machine is the rebalancing state machine of every (pool, asset) pair.
type Machine struct {
	reg        *registry.Registry
	oracle     DistributionSource
	adapters   income.AdapterSource
	custody    Custody
	store      store.Store
	locker     lock.Locker
	rec        recorder.Recorder
	logger     *zap.Logger
	reconciler *income.Reconciler
	cfg        Config

	now   func() time.Time
	newID func() string
}

func New(deps Deps, cfg Config) *Machine {
	if cfg.CapMode == "" {
		cfg.CapMode = calculator.CapClamped
	}
	return &Machine{
		reg:        deps.Registry,
		oracle:     deps.Oracle,
		adapters:   deps.Adapters,
		custody:    deps.Custody,
		store:      deps.Store,
		locker:     deps.Locker,
		rec:        deps.Recorder,
		logger:     deps.Logger,
		reconciler: income.NewReconciler(deps.Registry, deps.Adapters),
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// StartRequest selects the pair to plan.
type StartRequest struct {
	Pool  string
	Asset string
	// RequireFreshDistribution rejects the start unless the oracle was updated since the previous cycle.
	RequireFreshDistribution bool
}

// Status is a read-only snapshot of one pair.
type Status struct {
	Cycle       *model.RebalancingRecord
	Allocations *model.AllocationSet
}

func (m *Machine) withPair(ctx context.Context, pool, asset string, fn func(context.Context) error) error {
	return m.locker.WithLock(ctx, lock.Key(pool, asset), fn)
}

func (m *Machine) loadCycle(ctx context.Context, pool, asset string) (*model.RebalancingRecord, error) {
	rec, err := m.store.GetCycle(ctx, pool, asset)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (m *Machine) loadAllocations(ctx context.Context, pool, asset string) (*model.AllocationSet, error) {
	set, err := m.store.GetAllocations(ctx, pool, asset)
	if errors.Is(err, model.ErrNotFound) {
		return model.NewAllocationSet(pool, asset, m.reg.Len()), nil
	}
	if err != nil {
		return nil, err
	}
	set.Resize(m.reg.Len())
	return set, nil
}

// Start reconciles income and plans a new cycle for the pair. A plan with no steps is
// stored already Complete.
func (m *Machine) Start(ctx context.Context, req StartRequest) (*model.RebalancingRecord, error) {
	var out *model.RebalancingRecord
	err := m.withPair(ctx, req.Pool, req.Asset, func(ctx context.Context) error {
		prev, err := m.loadCycle(ctx, req.Pool, req.Asset)
		if err != nil {
			return err
		}
		if !prev.Complete() {
			return fmt.Errorf("start %s/%s: cycle %s at step %d/%d: %w",
				req.Pool, req.Asset, prev.ID, prev.Cursor, len(prev.Steps), model.ErrAlreadyInProgress)
		}

		snap, err := m.oracle.Distribution(ctx, req.Asset)
		if err != nil {
			return err
		}
		if req.RequireFreshDistribution && prev != nil && snap.Sequence <= prev.OracleSequence {
			return fmt.Errorf("start %s/%s: oracle sequence %d already planned: %w",
				req.Pool, req.Asset, snap.Sequence, model.ErrDistributionStale)
		}

		allocs, err := m.loadAllocations(ctx, req.Pool, req.Asset)
		if err != nil {
			return err
		}
		accrued, err := m.reconciler.Reconcile(ctx, allocs)
		if err != nil {
			return fmt.Errorf("start %s/%s: %w", req.Pool, req.Asset, err)
		}

		total, err := m.totalLiquidity(ctx, allocs)
		if err != nil {
			return fmt.Errorf("start %s/%s: %w", req.Pool, req.Asset, err)
		}

		now := m.now()
		rec := &model.RebalancingRecord{
			ID:             m.newID(),
			Pool:           req.Pool,
			Asset:          req.Asset,
			State:          model.CyclePlanning,
			TotalLiquidity: total,
			Distribution:   snap.Distribution.Clone(),
			OracleSequence: snap.Sequence,
			StartedAt:      now,
			UpdatedAt:      now,
		}
		plan, err := calculator.Compute(calculator.Input{
			TotalLiquidity: total,
			Distribution:   snap.Distribution,
			Current:        allocs.Amounts(),
			Caps:           m.reg.Caps(),
			Mode:           m.cfg.CapMode,
			Capacity:       m.reg.Len(),
		})
		if err != nil {
			return fmt.Errorf("start %s/%s: %w", req.Pool, req.Asset, err)
		}
		rec.Targets = plan.Targets
		rec.Clamped = plan.Clamped
		rec.Steps = plan.Steps
		rec.State = model.CycleInProgress
		if len(rec.Steps) == 0 {
			rec.State = model.CycleComplete
			rec.CompletedAt = &now
		}
		allocs.IncomeRefreshedAt = now
		allocs.UpdatedAt = now

		if err := m.store.SaveCycle(ctx, rec, allocs); err != nil {
			return err
		}

		m.logger.Info("rebalancing started",
			zap.String("cycle_id", rec.ID),
			zap.String("pool", rec.Pool),
			zap.String("asset", rec.Asset),
			zap.Uint64("total_liquidity", total),
			zap.Uint64("oracle_sequence", rec.OracleSequence),
			zap.Int("steps", len(rec.Steps)),
		)
		if len(rec.Clamped) > 0 {
			m.logger.Warn("targets clamped to destination caps",
				zap.String("cycle_id", rec.ID), zap.Ints("destinations", rec.Clamped))
		}
		m.recordIncome(rec.Pool, rec.Asset, accrued)
		m.recordCycle(rec, recorder.ActionStart, "")
		if rec.State == model.CycleComplete {
			m.recordCycle(rec, recorder.ActionComplete, "empty plan")
		}

		out = rec.Clone()
		return nil
	})
	return out, err
}

// totalLiquidity is the pool's free custody balance plus everything deployed.
func (m *Machine) totalLiquidity(ctx context.Context, allocs *model.AllocationSet) (uint64, error) {
	free, err := m.custody.BalanceOf(ctx, allocs.Pool, allocs.Asset)
	if err != nil {
		return 0, fmt.Errorf("custody balance: %w", err)
	}
	deployed, err := fixedpoint.Sum(allocs.Amounts())
	if err != nil {
		return 0, fmt.Errorf("deployed liquidity: %w", err)
	}
	return fixedpoint.Add(free, deployed)
}

// Advance executes the step at the cursor of the pair's in-progress cycle.
func (m *Machine) Advance(ctx context.Context, pool, asset string) (*model.RebalancingRecord, error) {
	return m.advance(ctx, pool, asset, -1)
}

// AdvanceAt is Advance guarded by the cursor the caller believes is next. A retry of an
// already applied step fails with model.ErrOutOfOrderExecution instead of executing again.
func (m *Machine) AdvanceAt(ctx context.Context, pool, asset string, cursor int) (*model.RebalancingRecord, error) {
	if cursor < 0 {
		return nil, fmt.Errorf("advance %s/%s at %d: %w", pool, asset, cursor, model.ErrOutOfOrderExecution)
	}
	return m.advance(ctx, pool, asset, cursor)
}

func (m *Machine) advance(ctx context.Context, pool, asset string, expected int) (*model.RebalancingRecord, error) {
	var out *model.RebalancingRecord
	err := m.withPair(ctx, pool, asset, func(ctx context.Context) error {
		rec, err := m.loadCycle(ctx, pool, asset)
		if err != nil {
			return err
		}
		if !rec.InProgress() {
			return fmt.Errorf("advance %s/%s: no cycle in progress: %w", pool, asset, model.ErrOutOfOrderExecution)
		}
		if expected >= 0 && expected != rec.Cursor {
			return fmt.Errorf("advance %s/%s: step %d requested, cursor at %d: %w",
				pool, asset, expected, rec.Cursor, model.ErrOutOfOrderExecution)
		}

		step := rec.Steps[rec.Cursor]
		dest, err := m.reg.Destination(step.Destination)
		if err != nil {
			return err
		}
		ad, err := m.adapters.For(step.Destination)
		if err != nil {
			return err
		}
		allocs, err := m.loadAllocations(ctx, pool, asset)
		if err != nil {
			return err
		}
		alloc := &allocs.Allocations[step.Destination]

		// Amount bookkeeping is checked before the external call so a success is never lost.
		var nextAmount uint64
		if step.Operation == model.OpDeposit {
			nextAmount, err = fixedpoint.Add(alloc.Amount, step.Amount)
		} else {
			nextAmount, err = fixedpoint.Sub(alloc.Amount, step.Amount)
		}
		if err != nil {
			return fmt.Errorf("advance %s/%s step %d: %w", pool, asset, rec.Cursor, err)
		}

		pos := adapter.Position{Pool: pool, Asset: asset, Destination: dest}
		switch step.Operation {
		case model.OpDeposit:
			step.Collateral, err = ad.Deposit(ctx, pos, step.Amount)
		case model.OpWithdraw:
			step.Collateral, step.Released, err = ad.Withdraw(ctx, pos, step.Amount)
		default:
			err = fmt.Errorf("unknown operation %q", step.Operation)
		}
		if err != nil {
			m.logger.Warn("rebalancing step failed",
				zap.String("cycle_id", rec.ID),
				zap.Int("cursor", rec.Cursor),
				zap.Int("destination", step.Destination),
				zap.String("operation", string(step.Operation)),
				zap.Uint64("amount", step.Amount),
				zap.Error(err),
			)
			m.recordStep(rec, step, err)
			return fmt.Errorf("advance %s/%s step %d: %w: %w", pool, asset, rec.Cursor, model.ErrExternalOperationFailed, err)
		}

		alloc.Amount = nextAmount
		if err := applyCollateral(alloc, &step); err != nil {
			m.logger.Error("collateral bookkeeping failed after executed step",
				zap.String("cycle_id", rec.ID), zap.Int("destination", step.Destination), zap.Error(err))
			return err
		}
		if step.CollateralDrift > 0 {
			m.logger.Error("collateral drift detected",
				zap.String("cycle_id", rec.ID),
				zap.Int("destination", step.Destination),
				zap.Uint64("burned", step.Collateral),
				zap.Uint64("untracked", step.CollateralDrift),
				zap.Uint64("total_drift", alloc.CollateralDrift),
			)
		}

		now := m.now()
		step.ExecutedAt = &now
		rec.Steps[rec.Cursor] = step
		rec.Cursor++
		rec.UpdatedAt = now
		if rec.Cursor == len(rec.Steps) {
			rec.State = model.CycleComplete
			rec.CompletedAt = &now
		}
		allocs.UpdatedAt = now

		if err := m.store.SaveCycle(ctx, rec, allocs); err != nil {
			m.logger.Error("persist executed step failed",
				zap.String("cycle_id", rec.ID), zap.Int("cursor", rec.Cursor-1), zap.Error(err))
			return err
		}

		m.logger.Info("rebalancing step executed",
			zap.String("cycle_id", rec.ID),
			zap.Int("cursor", rec.Cursor-1),
			zap.Int("destination", step.Destination),
			zap.String("operation", string(step.Operation)),
			zap.Uint64("amount", step.Amount),
			zap.Uint64("collateral", step.Collateral),
		)
		stepRec := rec.Clone()
		stepRec.Cursor--
		m.recordStep(stepRec, step, nil)
		if rec.State == model.CycleComplete {
			m.logger.Info("rebalancing complete", zap.String("cycle_id", rec.ID), zap.Int("steps", len(rec.Steps)))
			m.recordCycle(rec, recorder.ActionComplete, "")
		}

		out = rec.Clone()
		return nil
	})
	return out, err
}

// Reset abandons the unexecuted steps of the pair's in-progress cycle and marks it Complete.
// Only a pool manager may reset.
func (m *Machine) Reset(ctx context.Context, pool, asset, operator string) (*model.RebalancingRecord, error) {
	if !m.reg.IsPoolManager(pool, operator) {
		return nil, fmt.Errorf("reset %s/%s by %q: %w", pool, asset, operator, model.ErrAuthorityMismatch)
	}
	var out *model.RebalancingRecord
	err := m.withPair(ctx, pool, asset, func(ctx context.Context) error {
		rec, err := m.loadCycle(ctx, pool, asset)
		if err != nil {
			return err
		}
		if !rec.InProgress() {
			return fmt.Errorf("reset %s/%s: no cycle in progress: %w", pool, asset, model.ErrOutOfOrderExecution)
		}

		now := m.now()
		rec.Discarded = len(rec.Steps) - rec.Cursor
		rec.Steps = rec.Steps[:rec.Cursor]
		rec.State = model.CycleComplete
		rec.UpdatedAt = now
		rec.CompletedAt = &now
		if err := m.store.SaveCycle(ctx, rec, nil); err != nil {
			return err
		}

		m.logger.Warn("rebalancing reset, planned steps discarded",
			zap.String("cycle_id", rec.ID),
			zap.String("pool", pool),
			zap.String("asset", asset),
			zap.String("operator", operator),
			zap.Int("executed", rec.Cursor),
			zap.Int("discarded", rec.Discarded),
		)
		m.recordCycle(rec, recorder.ActionReset, "by "+operator)

		out = rec.Clone()
		return nil
	})
	return out, err
}

// RefreshIncome credits accrued yield to the pair's allocations outside of a cycle.
// It is throttled by Config.RefreshInterval and refused while a cycle is executing.
func (m *Machine) RefreshIncome(ctx context.Context, pool, asset string) ([]uint64, error) {
	var out []uint64
	err := m.withPair(ctx, pool, asset, func(ctx context.Context) error {
		rec, err := m.loadCycle(ctx, pool, asset)
		if err != nil {
			return err
		}
		if rec.InProgress() {
			return fmt.Errorf("refresh income %s/%s: %w", pool, asset, model.ErrAlreadyInProgress)
		}
		allocs, err := m.loadAllocations(ctx, pool, asset)
		if err != nil {
			return err
		}
		now := m.now()
		if m.cfg.RefreshInterval > 0 && !allocs.IncomeRefreshedAt.IsZero() &&
			now.Sub(allocs.IncomeRefreshedAt) < m.cfg.RefreshInterval {
			return fmt.Errorf("refresh income %s/%s: last at %s: %w",
				pool, asset, allocs.IncomeRefreshedAt.Format(time.RFC3339), model.ErrIncomeRefreshed)
		}

		accrued, err := m.reconciler.Reconcile(ctx, allocs)
		if err != nil {
			return fmt.Errorf("refresh income %s/%s: %w", pool, asset, err)
		}
		allocs.IncomeRefreshedAt = now
		allocs.UpdatedAt = now
		if err := m.store.SaveAllocations(ctx, allocs); err != nil {
			return err
		}
		m.recordIncome(pool, asset, accrued)
		out = accrued
		return nil
	})
	return out, err
}

// Status returns the latest cycle (nil when none ran yet) and the tracked allocations.
func (m *Machine) Status(ctx context.Context, pool, asset string) (*Status, error) {
	rec, err := m.loadCycle(ctx, pool, asset)
	if err != nil {
		return nil, err
	}
	allocs, err := m.loadAllocations(ctx, pool, asset)
	if err != nil {
		return nil, err
	}
	return &Status{Cycle: rec, Allocations: allocs}, nil
}

// History returns up to limit past cycles of the pair, newest first.
func (m *Machine) History(ctx context.Context, pool, asset string, limit int) ([]*model.RebalancingRecord, error) {
	return m.store.ListCycles(ctx, pool, asset, limit)
}

// applyCollateral moves the step's collateral into the allocation. A withdraw that burns more
// than the tracked collateral leaves zero tracked and books the excess as drift on both.
func applyCollateral(alloc *model.DestinationAllocation, step *model.RebalancingStep) error {
	var err error
	if step.Operation == model.OpDeposit {
		alloc.Collateral, err = fixedpoint.Add(alloc.Collateral, step.Collateral)
		return err
	}
	if step.Collateral <= alloc.Collateral {
		alloc.Collateral -= step.Collateral
		return nil
	}
	step.CollateralDrift = step.Collateral - alloc.Collateral
	if alloc.CollateralDrift, err = fixedpoint.Add(alloc.CollateralDrift, step.CollateralDrift); err != nil {
		return err
	}
	alloc.Collateral = 0
	return nil
}
