package windowrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/timeline"
)

var base = time.Date(2025, time.June, 21, 1, 0, 0, 0, time.UTC)

func window(patio string, startHour int) timeline.Window {
	start := time.Date(2025, time.June, 21, startHour, 0, 0, 0, time.UTC)
	return timeline.Window{PatioID: patio, Date: "2025-06-21", Start: start, End: start.Add(time.Hour)}
}

func TestReplaceWindowsSwapsSet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWindowRepository()

	require.NoError(t, repo.ReplaceWindows(ctx, "p1", "2025-06-21", []timeline.Window{window("p1", 9), window("p1", 14)}))
	require.NoError(t, repo.ReplaceWindows(ctx, "p2", "2025-06-21", []timeline.Window{window("p2", 8)}))
	require.NoError(t, repo.ReplaceWindows(ctx, "p1", "2025-06-21", []timeline.Window{window("p1", 12)}))

	got, err := repo.ListWindows(ctx, "p1", "2025-06-21")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 12, got[0].Start.Hour())

	all, err := repo.ListWindowsByDate(ctx, "2025-06-21")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "p1", all[0].PatioID)
	require.Equal(t, "p2", all[1].PatioID)

	require.NoError(t, repo.ReplaceWindows(ctx, "p1", "2025-06-21", nil))
	got, err = repo.ListWindows(ctx, "p1", "2025-06-21")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestClaimRunGuardsDate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRunRepository()
	first := precompute.JobRun{ID: "a", RunDate: "2025-06-21", Status: precompute.RunRunning, StartedAt: base}

	run, claimed, err := repo.ClaimRun(ctx, first, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, "a", run.ID)

	second := precompute.JobRun{ID: "b", RunDate: "2025-06-21", Status: precompute.RunRunning, StartedAt: base.Add(time.Hour)}
	run, claimed, err = repo.ClaimRun(ctx, second, 2*time.Hour)
	require.NoError(t, err)
	require.False(t, claimed)
	require.Equal(t, "a", run.ID)

	stale := second
	stale.StartedAt = base.Add(3 * time.Hour)
	run, claimed, err = repo.ClaimRun(ctx, stale, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, "b", run.ID)

	require.ErrorIs(t, repo.CompleteRun(ctx, first), ErrRunNotOwned)

	done := stale
	done.Status = precompute.RunSucceeded
	done.FinishedAt = base.Add(4 * time.Hour)
	require.NoError(t, repo.CompleteRun(ctx, done))

	_, claimed, err = repo.ClaimRun(ctx, precompute.JobRun{ID: "c", RunDate: "2025-06-21", Status: precompute.RunRunning, StartedAt: base.Add(48 * time.Hour)}, 2*time.Hour)
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestClaimRunRetriesFailedRun(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRunRepository()
	failed := precompute.JobRun{ID: "a", RunDate: "2025-06-21", Status: precompute.RunRunning, StartedAt: base}
	_, _, err := repo.ClaimRun(ctx, failed, time.Hour)
	require.NoError(t, err)
	failed.Status = precompute.RunFailed
	require.NoError(t, repo.CompleteRun(ctx, failed))

	_, claimed, err := repo.ClaimRun(ctx, precompute.JobRun{ID: "b", RunDate: "2025-06-21", Status: precompute.RunRunning, StartedAt: base.Add(time.Minute)}, time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	latest, ok, err := repo.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", latest.ID)
}
