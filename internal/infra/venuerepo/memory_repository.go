package venuerepo

import (
	"context"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"github.com/yanqian/sunspot/internal/domain/venue"
)

// MemoryRepository keeps venues in memory with an R-tree over building bounds.
type MemoryRepository struct {
	mu        sync.RWMutex
	patios    map[string]venue.Patio
	buildings map[string]venue.Building
	index     rtree.RTreeG[string]
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patios:    make(map[string]venue.Patio),
		buildings: make(map[string]venue.Building),
	}
}

// GetPatio returns a patio by id.
func (r *MemoryRepository) GetPatio(_ context.Context, id string) (venue.Patio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patios[id]
	if !ok {
		return venue.Patio{}, venue.ErrPatioNotFound
	}
	return p, nil
}

// ListActivePatios returns active patios ordered by id.
func (r *MemoryRepository) ListActivePatios(_ context.Context) ([]venue.Patio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]venue.Patio, 0, len(r.patios))
	for _, p := range r.patios {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BuildingsWithin returns buildings whose bounds intersect bound, ordered by id.
func (r *MemoryRepository) BuildingsWithin(_ context.Context, bound orb.Bound) ([]venue.Building, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []venue.Building
	r.index.Search(
		[2]float64{bound.Min.Lon(), bound.Min.Lat()},
		[2]float64{bound.Max.Lon(), bound.Max.Lat()},
		func(_, _ [2]float64, id string) bool {
			if b, ok := r.buildings[id]; ok {
				out = append(out, b)
			}
			return true
		},
	)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertPatio stores or replaces a patio.
func (r *MemoryRepository) UpsertPatio(_ context.Context, p venue.Patio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patios[p.ID] = p
	return nil
}

// UpsertBuilding stores or replaces a building and reindexes it.
func (r *MemoryRepository) UpsertBuilding(_ context.Context, b venue.Building) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.buildings[b.ID]; ok {
		lo, hi := boundKeys(old.Bound())
		r.index.Delete(lo, hi, old.ID)
	}
	r.buildings[b.ID] = b
	lo, hi := boundKeys(b.Bound())
	r.index.Insert(lo, hi, b.ID)
	return nil
}

func boundKeys(b orb.Bound) ([2]float64, [2]float64) {
	return [2]float64{b.Min.Lon(), b.Min.Lat()}, [2]float64{b.Max.Lon(), b.Max.Lat()}
}

var _ venue.Repository = (*MemoryRepository)(nil)
