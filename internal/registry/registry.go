package registry

import (
	"fmt"

	"YieldRouter/internal/fixedpoint"
	"YieldRouter/internal/model"
)

// Destination is one yield-bearing integration slot.
type Destination struct {
	Index     int
	ProgramID string
	Kind      string
	// Cap is the largest share of total liquidity this destination may hold, scaled by fixedpoint.Scale.
	Cap uint64
}

// Registry resolves destination ordinals and pool manager identities.
type Registry struct {
	destinations []Destination
	managers     map[string]map[string]bool
}

// New validates destinations and builds a Registry. Indices must be 0..N-1 in order.
func New(destinations []Destination, managers map[string][]string) (*Registry, error) {
	if len(destinations) == 0 {
		return nil, fmt.Errorf("registry: no destinations")
	}
	for i, d := range destinations {
		if d.Index != i {
			return nil, fmt.Errorf("registry: destination %d has index %d", i, d.Index)
		}
		if d.ProgramID == "" {
			return nil, fmt.Errorf("registry: destination %d has no program id", i)
		}
		if d.Cap > fixedpoint.Scale {
			return nil, fmt.Errorf("registry: destination %d cap %d exceeds scale", i, d.Cap)
		}
	}
	r := &Registry{
		destinations: append([]Destination(nil), destinations...),
		managers:     make(map[string]map[string]bool, len(managers)),
	}
	for pool, ids := range managers {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		r.managers[pool] = set
	}
	return r, nil
}

// Len returns the destination count N.
func (r *Registry) Len() int { return len(r.destinations) }

// Destination resolves an ordinal.
func (r *Registry) Destination(index int) (Destination, error) {
	if index < 0 || index >= len(r.destinations) {
		return Destination{}, fmt.Errorf("destination %d: %w", index, model.ErrUnknownDestination)
	}
	return r.destinations[index], nil
}

// Destinations returns a copy of all destinations in index order.
func (r *Registry) Destinations() []Destination {
	return append([]Destination(nil), r.destinations...)
}

// Caps returns the per-destination allowed-share caps in index order.
func (r *Registry) Caps() []uint64 {
	caps := make([]uint64, len(r.destinations))
	for i, d := range r.destinations {
		caps[i] = d.Cap
	}
	return caps
}

// IsPoolManager reports whether id may administer pool.
func (r *Registry) IsPoolManager(pool, id string) bool {
	return r.managers[pool][id]
}
