package weatherstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yanqian/sunspot/internal/domain/weather"
)

// MemoryStore is an append-only slice log partitioned by cell.
type MemoryStore struct {
	mu    sync.RWMutex
	cells map[string][]weather.Slice
}

// NewMemoryStore constructs the store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cells: make(map[string][]weather.Slice)}
}

// Append adds slices; existing slices are never modified.
func (s *MemoryStore) Append(_ context.Context, slices []weather.Slice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]bool)
	for _, sl := range slices {
		s.cells[sl.CellID] = append(s.cells[sl.CellID], sl)
		touched[sl.CellID] = true
	}
	for id := range touched {
		list := s.cells[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	}
	return nil
}

// Range returns a cell's slices with timestamps in [from, to].
func (s *MemoryStore) Range(_ context.Context, cellID string, from, to time.Time) ([]weather.Slice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.cells[cellID]
	start := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(from) })
	var out []weather.Slice
	for _, sl := range list[start:] {
		if sl.Timestamp.After(to) {
			break
		}
		out = append(out, sl)
	}
	return out, nil
}

// Prune drops slices older than before.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, list := range s.cells {
		keep := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(before) })
		removed += keep
		if keep == len(list) {
			delete(s.cells, id)
			continue
		}
		s.cells[id] = append([]weather.Slice(nil), list[keep:]...)
	}
	return removed, nil
}

var _ weather.Store = (*MemoryStore)(nil)
