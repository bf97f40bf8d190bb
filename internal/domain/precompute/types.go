package precompute

import (
	"context"
	"time"

	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/internal/domain/venue"
)

// JobRecompute is the queue job name for on-demand patio recomputation.
const JobRecompute = "recompute_patio"

// RunStatus is the lifecycle of a persisted daily run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// JobRun is the persisted record of one daily precompute run, keyed by run date.
type JobRun struct {
	ID         string    `json:"id"`
	RunDate    string    `json:"runDate"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// PatioFailure is a patio whose day schedule could not be computed.
type PatioFailure struct {
	PatioID string `json:"patioId"`
	Date    string `json:"date"`
	Reason  string `json:"reason"`
}

// RunReport summarizes a daily run.
type RunReport struct {
	Run         JobRun         `json:"run"`
	Skipped     bool           `json:"skipped"`
	Patios      int            `json:"patios"`
	Failures    []PatioFailure `json:"failures,omitempty"`
	SnapshotKey string         `json:"snapshotKey,omitempty"`
}

// Cache stores day schedules by timeline.ScheduleKey.
type Cache interface {
	Get(ctx context.Context, key string) (timeline.DaySchedule, bool, error)
	Set(ctx context.Context, key string, schedule timeline.DaySchedule) error
	Delete(ctx context.Context, keys ...string) error
}

// Calculator computes one patio-local day.
type Calculator interface {
	ComputeDay(ctx context.Context, patio venue.Patio, date time.Time, resolution time.Duration) (timeline.DaySchedule, error)
}

// WindowRepository persists materialized windows. ReplaceWindows swaps a
// patio's window set for one date atomically.
type WindowRepository interface {
	ReplaceWindows(ctx context.Context, patioID, date string, windows []timeline.Window) error
	ListWindows(ctx context.Context, patioID, date string) ([]timeline.Window, error)
	ListWindowsByDate(ctx context.Context, date string) ([]timeline.Window, error)
}

// JobRunRepository guards daily runs across restarts and instances.
type JobRunRepository interface {
	// ClaimRun records a running run for runDate unless one already succeeded
	// or is still running within staleAfter. It reports whether the caller owns the run.
	ClaimRun(ctx context.Context, run JobRun, staleAfter time.Duration) (JobRun, bool, error)
	CompleteRun(ctx context.Context, run JobRun) error
	LatestRun(ctx context.Context) (JobRun, bool, error)
}

// SnapshotExporter archives a run's windows.
type SnapshotExporter interface {
	Export(ctx context.Context, runDate, runID string, windows []timeline.Window) (string, error)
}

// LiveInvalidator drops request-level caches for a patio.
type LiveInvalidator interface {
	InvalidatePatio(patioID string)
}

// JobQueue accepts background jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) error
}
