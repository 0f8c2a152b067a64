// Package oracle maintains the per-asset target distribution across destinations.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/lock"
	"YieldRouter/internal/model"
	"YieldRouter/internal/recorder"
	"YieldRouter/internal/store"

	"go.uber.org/zap"
)

// Oracle owns one OracleRecord per asset. Updates to a record are serialized through the
// locker, so processes sharing a store and a Redis locker never interleave.
type Oracle struct {
	locker lock.Locker
	n      int
	store  store.Store
	rec    recorder.Recorder
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Oracle for n destinations.
func New(n int, st store.Store, locker lock.Locker, rec recorder.Recorder, logger *zap.Logger) *Oracle {
	return &Oracle{n: n, store: st, locker: locker, rec: rec, logger: logger, now: time.Now}
}

func (o *Oracle) load(ctx context.Context, asset string) (*model.OracleRecord, error) {
	rec, err := o.store.GetOracle(ctx, asset)
	if errors.Is(err, model.ErrNotFound) {
		return &model.OracleRecord{Asset: asset}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Init creates the record for asset and assigns its first authority.
func (o *Oracle) Init(ctx context.Context, asset, authority string) error {
	if authority == "" {
		return fmt.Errorf("init oracle %s: empty authority: %w", asset, model.ErrAuthorityMismatch)
	}
	return o.locker.WithLock(ctx, lock.OracleKey(asset), func(ctx context.Context) error {
		rec, err := o.load(ctx, asset)
		if err != nil {
			return err
		}
		if rec.Initialized() {
			return fmt.Errorf("init oracle %s: %w", asset, model.ErrAlreadyInitialized)
		}
		rec.State = model.OracleInitialized
		rec.Authority = authority
		rec.UpdatedAt = o.now()
		if err := o.store.SaveOracle(ctx, rec); err != nil {
			return err
		}
		o.logger.Info("oracle initialized", zap.String("asset", asset), zap.String("authority", authority))
		return nil
	})
}

// UpdateAuthority hands the record of asset from current to next.
func (o *Oracle) UpdateAuthority(ctx context.Context, asset, current, next string) error {
	if next == "" {
		return fmt.Errorf("update authority of %s: empty authority: %w", asset, model.ErrAuthorityMismatch)
	}
	return o.locker.WithLock(ctx, lock.OracleKey(asset), func(ctx context.Context) error {
		rec, err := o.authorized(ctx, asset, current)
		if err != nil {
			return err
		}
		rec.Authority = next
		rec.UpdatedAt = o.now()
		if err := o.store.SaveOracle(ctx, rec); err != nil {
			return err
		}
		o.logger.Info("oracle authority rotated", zap.String("asset", asset), zap.String("authority", next))
		return nil
	})
}

// SetDistribution replaces the target distribution of asset. The shares must cover every
// destination and sum to at most fixedpoint.Scale. A rejected update leaves the record as it was.
func (o *Oracle) SetDistribution(ctx context.Context, asset, authority string, shares []uint64) error {
	return o.locker.WithLock(ctx, lock.OracleKey(asset), func(ctx context.Context) error {
		return o.setDistribution(ctx, asset, authority, shares)
	})
}

func (o *Oracle) setDistribution(ctx context.Context, asset, authority string, shares []uint64) error {
	rec, err := o.authorized(ctx, asset, authority)
	if err != nil {
		return err
	}
	if len(shares) != o.n {
		return fmt.Errorf("distribution of %s has %d shares, want %d: %w", asset, len(shares), o.n, model.ErrDistributionInvalid)
	}
	sum, err := fixedpoint.Sum(shares)
	if err != nil {
		return fmt.Errorf("distribution of %s: %w", asset, err)
	}
	if sum > fixedpoint.Scale {
		return fmt.Errorf("distribution of %s sums to %d: %w", asset, sum, model.ErrDistributionInvalid)
	}

	rec.Distribution = model.DistributionArray(shares).Clone()
	rec.Sequence++
	rec.UpdatedAt = o.now()
	if err := o.store.SaveOracle(ctx, rec); err != nil {
		return err
	}

	o.logger.Info("distribution updated",
		zap.String("asset", asset),
		zap.Uint64("sequence", rec.Sequence),
		zap.Uint64s("shares", shares),
	)
	if err := o.rec.RecordDistribution(&recorder.DistributionEvent{
		Asset:     asset,
		Authority: authority,
		Sequence:  rec.Sequence,
		Shares:    rec.Distribution.Clone(),
	}); err != nil {
		o.logger.Warn("record distribution failed", zap.String("asset", asset), zap.Error(err))
	}
	return nil
}

// Distribution returns the current record of asset.
func (o *Oracle) Distribution(ctx context.Context, asset string) (*model.OracleRecord, error) {
	rec, err := o.load(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !rec.Initialized() {
		return nil, fmt.Errorf("oracle %s: %w", asset, model.ErrNotInitialized)
	}
	return rec, nil
}

func (o *Oracle) authorized(ctx context.Context, asset, authority string) (*model.OracleRecord, error) {
	rec, err := o.load(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !rec.Initialized() {
		return nil, fmt.Errorf("oracle %s: %w", asset, model.ErrNotInitialized)
	}
	if rec.Authority != authority {
		return nil, fmt.Errorf("oracle %s: %w", asset, model.ErrAuthorityMismatch)
	}
	return rec, nil
}
