// Package store persists oracle records, rebalancing records, and destination allocations.
// Records are stored as opaque JSON blobs keyed by their natural identifiers.
package store

import (
	"context"

	"YieldRouter/internal/model"
)

// Store is the durable state behind the oracle and the rebalancing machine.
// Getters return model.ErrNotFound when nothing was saved for the key, and always
// hand out copies the caller may mutate.
type Store interface {
	GetOracle(ctx context.Context, asset string) (*model.OracleRecord, error)
	SaveOracle(ctx context.Context, rec *model.OracleRecord) error

	// GetCycle returns the most recently started rebalancing record of the pair.
	GetCycle(ctx context.Context, pool, asset string) (*model.RebalancingRecord, error)
	// ListCycles returns up to limit records of the pair, newest first.
	ListCycles(ctx context.Context, pool, asset string, limit int) ([]*model.RebalancingRecord, error)
	GetAllocations(ctx context.Context, pool, asset string) (*model.AllocationSet, error)

	// SaveCycle writes the record and, when allocs is non-nil, the allocations atomically.
	SaveCycle(ctx context.Context, rec *model.RebalancingRecord, allocs *model.AllocationSet) error
	SaveAllocations(ctx context.Context, allocs *model.AllocationSet) error

	Close() error
}

func pairKey(pool, asset string) string {
	return pool + "/" + asset
}
