package store

import (
	"context"
	"sync"

	"YieldRouter/internal/model"
)

// MemoryStore keeps everything in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu          sync.RWMutex
	oracles     map[string]*model.OracleRecord
	cycles      map[string][]*model.RebalancingRecord // oldest first
	allocations map[string]*model.AllocationSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		oracles:     map[string]*model.OracleRecord{},
		cycles:      map[string][]*model.RebalancingRecord{},
		allocations: map[string]*model.AllocationSet{},
	}
}

func (s *MemoryStore) GetOracle(_ context.Context, asset string) (*model.OracleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.oracles[asset]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *rec
	out.Distribution = rec.Distribution.Clone()
	return &out, nil
}

func (s *MemoryStore) SaveOracle(_ context.Context, rec *model.OracleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Distribution = rec.Distribution.Clone()
	s.oracles[rec.Asset] = &cp
	return nil
}

func (s *MemoryStore) GetCycle(_ context.Context, pool, asset string) (*model.RebalancingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.cycles[pairKey(pool, asset)]
	if len(list) == 0 {
		return nil, model.ErrNotFound
	}
	return list[len(list)-1].Clone(), nil
}

func (s *MemoryStore) ListCycles(_ context.Context, pool, asset string, limit int) ([]*model.RebalancingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.cycles[pairKey(pool, asset)]
	var out []*model.RebalancingRecord
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, list[i].Clone())
	}
	return out, nil
}

func (s *MemoryStore) GetAllocations(_ context.Context, pool, asset string) (*model.AllocationSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.allocations[pairKey(pool, asset)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return set.Clone(), nil
}

func (s *MemoryStore) SaveCycle(_ context.Context, rec *model.RebalancingRecord, allocs *model.AllocationSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(rec.Pool, rec.Asset)
	list := s.cycles[key]
	replaced := false
	for i, existing := range list {
		if existing.ID == rec.ID {
			list[i] = rec.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		s.cycles[key] = append(list, rec.Clone())
	}
	if allocs != nil {
		s.allocations[pairKey(allocs.Pool, allocs.Asset)] = allocs.Clone()
	}
	return nil
}

func (s *MemoryStore) SaveAllocations(_ context.Context, allocs *model.AllocationSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[pairKey(allocs.Pool, allocs.Asset)] = allocs.Clone()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
