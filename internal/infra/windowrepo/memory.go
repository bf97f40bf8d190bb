package windowrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/timeline"
)

// MemoryWindowRepository keeps materialized windows in memory keyed by patio and date.
type MemoryWindowRepository struct {
	mu      sync.RWMutex
	windows map[string]map[string][]timeline.Window
}

// NewMemoryWindowRepository constructs an empty repository.
func NewMemoryWindowRepository() *MemoryWindowRepository {
	return &MemoryWindowRepository{windows: make(map[string]map[string][]timeline.Window)}
}

// ReplaceWindows swaps the window set for one patio and date.
func (r *MemoryWindowRepository) ReplaceWindows(_ context.Context, patioID, date string, windows []timeline.Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPatio, ok := r.windows[date]
	if !ok {
		byPatio = make(map[string][]timeline.Window)
		r.windows[date] = byPatio
	}
	if len(windows) == 0 {
		delete(byPatio, patioID)
		return nil
	}
	byPatio[patioID] = append([]timeline.Window(nil), windows...)
	return nil
}

// ListWindows returns one patio's windows for date in start order.
func (r *MemoryWindowRepository) ListWindows(_ context.Context, patioID, date string) ([]timeline.Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]timeline.Window(nil), r.windows[date][patioID]...), nil
}

// ListWindowsByDate returns every patio's windows for date ordered by patio then start.
func (r *MemoryWindowRepository) ListWindowsByDate(_ context.Context, date string) ([]timeline.Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []timeline.Window
	for _, ws := range r.windows[date] {
		out = append(out, ws...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatioID != out[j].PatioID {
			return out[i].PatioID < out[j].PatioID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// MemoryJobRunRepository tracks daily runs in memory.
type MemoryJobRunRepository struct {
	mu   sync.Mutex
	runs map[string]precompute.JobRun
}

// NewMemoryJobRunRepository constructs an empty repository.
func NewMemoryJobRunRepository() *MemoryJobRunRepository {
	return &MemoryJobRunRepository{runs: make(map[string]precompute.JobRun)}
}

// ClaimRun implements precompute.JobRunRepository.
func (r *MemoryJobRunRepository) ClaimRun(_ context.Context, run precompute.JobRun, staleAfter time.Duration) (precompute.JobRun, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.runs[run.RunDate]; ok && !claimable(existing, run.StartedAt, staleAfter) {
		return existing, false, nil
	}
	r.runs[run.RunDate] = run
	return run, true, nil
}

// CompleteRun records the final state of a claimed run.
func (r *MemoryJobRunRepository) CompleteRun(_ context.Context, run precompute.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.runs[run.RunDate]; ok && existing.ID != run.ID {
		return ErrRunNotOwned
	}
	r.runs[run.RunDate] = run
	return nil
}

// LatestRun returns the run with the most recent start.
func (r *MemoryJobRunRepository) LatestRun(_ context.Context) (precompute.JobRun, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		latest precompute.JobRun
		found  bool
	)
	for _, run := range r.runs {
		if !found || run.StartedAt.After(latest.StartedAt) {
			latest = run
			found = true
		}
	}
	return latest, found, nil
}

// claimable reports whether a new run may take over existing: failed runs
// are retried and running runs are abandoned once stale.
func claimable(existing precompute.JobRun, now time.Time, staleAfter time.Duration) bool {
	switch existing.Status {
	case precompute.RunFailed:
		return true
	case precompute.RunRunning:
		return staleAfter > 0 && now.Sub(existing.StartedAt) > staleAfter
	default:
		return false
	}
}

var (
	_ precompute.WindowRepository = (*MemoryWindowRepository)(nil)
	_ precompute.JobRunRepository = (*MemoryJobRunRepository)(nil)
)
