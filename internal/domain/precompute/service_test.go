package precompute

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/internal/domain/venue"
	apperrors "github.com/yanqian/sunspot/pkg/errors"
	"github.com/yanqian/sunspot/pkg/util"
)

var now = time.Date(2025, time.June, 21, 1, 0, 0, 0, time.UTC)

type stubPatios struct {
	patios map[string]venue.Patio
}

func (s stubPatios) GetPatio(_ context.Context, id string) (venue.Patio, error) {
	p, ok := s.patios[id]
	if !ok {
		return venue.Patio{}, venue.ErrPatioNotFound
	}
	return p, nil
}

func (s stubPatios) ListActivePatios(context.Context) ([]venue.Patio, error) {
	out := make([]venue.Patio, 0, len(s.patios))
	for _, p := range s.patios {
		out = append(out, p)
	}
	return out, nil
}

type stubCalculator struct {
	calls     atomic.Int32
	release   chan struct{}
	holdFirst chan struct{}
	fail      map[string]bool
	version   atomic.Int32
}

func (c *stubCalculator) ComputeDay(_ context.Context, patio venue.Patio, date time.Time, res time.Duration) (timeline.DaySchedule, error) {
	n := c.calls.Add(1)
	version := c.version.Load()
	if c.release != nil {
		<-c.release
	}
	if n == 1 && c.holdFirst != nil {
		<-c.holdFirst
	}
	if c.fail[patio.ID] {
		return timeline.DaySchedule{}, apperrors.Wrap(apperrors.CodeComputation, "bad geometry", nil)
	}
	day := date.Format(util.DateLayout)
	return timeline.DaySchedule{
		PatioID:    patio.ID,
		Date:       day,
		Resolution: res,
		Windows: []timeline.Window{{
			PatioID:       patio.ID,
			Date:          day,
			PriorityScore: float64(version),
		}},
	}, nil
}

type stubCache struct {
	mu      sync.Mutex
	entries map[string]timeline.DaySchedule
	gets    atomic.Int32
	sets    atomic.Int32
	deleted []string
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]timeline.DaySchedule)}
}

func (c *stubCache) Get(_ context.Context, key string) (timeline.DaySchedule, bool, error) {
	c.gets.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[key]
	return d, ok, nil
}

func (c *stubCache) Set(_ context.Context, key string, d timeline.DaySchedule) error {
	c.sets.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = d
	return nil
}

func (c *stubCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

type stubWindows struct {
	mu   sync.Mutex
	sets map[string][]timeline.Window
}

func newStubWindows() *stubWindows {
	return &stubWindows{sets: make(map[string][]timeline.Window)}
}

func (w *stubWindows) ReplaceWindows(_ context.Context, patioID, date string, windows []timeline.Window) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sets[patioID+"|"+date] = windows
	return nil
}

func (w *stubWindows) ListWindows(_ context.Context, patioID, date string) ([]timeline.Window, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sets[patioID+"|"+date], nil
}

func (w *stubWindows) ListWindowsByDate(_ context.Context, date string) ([]timeline.Window, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []timeline.Window
	for _, ws := range w.sets {
		for _, win := range ws {
			if win.Date == date {
				out = append(out, win)
			}
		}
	}
	return out, nil
}

type stubRuns struct {
	refuse    bool
	completed []JobRun
}

func (r *stubRuns) ClaimRun(_ context.Context, run JobRun, _ time.Duration) (JobRun, bool, error) {
	if r.refuse {
		return JobRun{RunDate: run.RunDate, Status: RunSucceeded}, false, nil
	}
	return run, true, nil
}

func (r *stubRuns) CompleteRun(_ context.Context, run JobRun) error {
	r.completed = append(r.completed, run)
	return nil
}

func (r *stubRuns) LatestRun(context.Context) (JobRun, bool, error) {
	if len(r.completed) == 0 {
		return JobRun{}, false, nil
	}
	return r.completed[len(r.completed)-1], true, nil
}

type stubSnapshots struct {
	windows []timeline.Window
}

func (s *stubSnapshots) Export(_ context.Context, runDate, runID string, windows []timeline.Window) (string, error) {
	s.windows = windows
	return "windows/" + runDate + "/" + runID + ".json", nil
}

type stubLive struct {
	invalidated []string
}

func (l *stubLive) InvalidatePatio(id string) {
	l.invalidated = append(l.invalidated, id)
}

type stubQueue struct {
	names    []string
	payloads []any
}

func (q *stubQueue) Enqueue(_ context.Context, name string, payload any) error {
	q.names = append(q.names, name)
	q.payloads = append(q.payloads, payload)
	return nil
}

type fixture struct {
	svc       *Service
	calc      *stubCalculator
	cache     *stubCache
	windows   *stubWindows
	runs      *stubRuns
	snapshots *stubSnapshots
	live      *stubLive
}

func newFixture(ids ...string) *fixture {
	patios := stubPatios{patios: make(map[string]venue.Patio)}
	for _, id := range ids {
		patios.patios[id] = venue.Patio{ID: id, Active: true}
	}
	f := &fixture{
		calc:      &stubCalculator{fail: map[string]bool{}},
		cache:     newStubCache(),
		windows:   newStubWindows(),
		runs:      &stubRuns{},
		snapshots: &stubSnapshots{},
		live:      &stubLive{},
	}
	f.svc = NewService(DefaultConfig(), patios, f.calc, f.cache, f.windows, f.runs, f.snapshots, f.live,
		util.FixedClock(now), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.idGenerator = func() string { return "run-1" }
	return f
}

func TestScheduleCoalescesConcurrentMisses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture("p1")
	f.calc.release = make(chan struct{})
	date := time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]timeline.DaySchedule, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Schedule(context.Background(), "p1", date)
		}()
	}
	require.Eventually(t, func() bool { return f.cache.gets.Load() == callers }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.calc.release)
	wg.Wait()

	require.Equal(t, int32(1), f.calc.calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "2025-06-21", results[i].Date)
	}

	_, err := f.svc.Schedule(context.Background(), "p1", date)
	require.NoError(t, err)
	require.Equal(t, int32(1), f.calc.calls.Load())
}

func TestScheduleCallerCancellationDoesNotAbortComputation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture("p1")
	f.calc.release = make(chan struct{})
	date := time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Schedule(ctx, "p1", date)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.calc.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(f.calc.release)
	require.Eventually(t, func() bool { return f.cache.sets.Load() == 1 }, time.Second, time.Millisecond)
}

func TestScheduleUnknownPatio(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Schedule(context.Background(), "missing", now)

	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestRunDailyIsolatesFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture("a", "bad", "c")
	f.calc.fail["bad"] = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.svc.RunDaily(ctx)
	require.NoError(t, err)

	require.False(t, report.Skipped)
	require.Equal(t, 3, report.Patios)
	require.Len(t, report.Failures, 2)
	require.Equal(t, "bad", report.Failures[0].PatioID)
	require.Equal(t, "2025-06-21", report.Failures[0].Date)
	require.Equal(t, "2025-06-22", report.Failures[1].Date)
	require.Equal(t, int32(6), f.calc.calls.Load())
	require.Equal(t, int32(4), f.cache.sets.Load())

	require.Len(t, f.runs.completed, 1)
	run := f.runs.completed[0]
	require.Equal(t, RunSucceeded, run.Status)
	require.Equal(t, 4, run.Succeeded)
	require.Equal(t, 2, run.Failed)
	require.Equal(t, "2025-06-21", run.RunDate)

	require.Equal(t, "windows/2025-06-21/run-1.json", report.SnapshotKey)
	require.Len(t, f.snapshots.windows, 2)
}

func TestRunDailySkipsClaimedRun(t *testing.T) {
	f := newFixture("a")
	f.runs.refuse = true

	report, err := f.svc.RunDaily(context.Background())

	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Zero(t, f.calc.calls.Load())
	require.Empty(t, f.runs.completed)
}

func TestRecomputeSwapsWindowsAndInvalidates(t *testing.T) {
	f := newFixture("p1")
	_, err := f.svc.RunDaily(context.Background())
	require.NoError(t, err)

	f.calc.version.Store(7)
	require.NoError(t, f.svc.Recompute(context.Background(), "p1"))

	windows, err := f.windows.ListWindows(context.Background(), "p1", "2025-06-21")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.Equal(t, 7.0, windows[0].PriorityScore)

	cached, ok, err := f.cache.Get(context.Background(), "p1|2025-06-22|10m0s")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7.0, cached.Windows[0].PriorityScore)
	require.Equal(t, []string{"p1"}, f.live.invalidated)
}

func TestRecomputeSupersedesInFlightSchedule(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture("p1")
	f.calc.holdFirst = make(chan struct{})
	date := time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC)

	done := make(chan timeline.DaySchedule, 1)
	go func() {
		schedule, _ := f.svc.Schedule(context.Background(), "p1", date)
		done <- schedule
	}()
	require.Eventually(t, func() bool { return f.calc.calls.Load() == 1 }, time.Second, time.Millisecond)

	f.calc.version.Store(7)
	require.NoError(t, f.svc.Recompute(context.Background(), "p1"))
	close(f.calc.holdFirst)
	served := <-done

	require.Equal(t, 7.0, served.Windows[0].PriorityScore)
	windows, err := f.windows.ListWindows(context.Background(), "p1", "2025-06-21")
	require.NoError(t, err)
	require.Equal(t, 7.0, windows[0].PriorityScore)
	cached, ok, err := f.cache.Get(context.Background(), "p1|2025-06-21|10m0s")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7.0, cached.Windows[0].PriorityScore)
	require.Equal(t, int32(2), f.cache.sets.Load())
}

func TestInvalidateDiscardsInFlightSchedule(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture("p1")
	f.calc.holdFirst = make(chan struct{})
	date := time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.Schedule(context.Background(), "p1", date)
	}()
	require.Eventually(t, func() bool { return f.calc.calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.svc.Invalidate(context.Background(), "p1"))
	close(f.calc.holdFirst)
	<-done

	require.Zero(t, f.cache.sets.Load())
	windows, err := f.windows.ListWindows(context.Background(), "p1", "2025-06-21")
	require.NoError(t, err)
	require.Empty(t, windows)
}

func TestScheduleRegradesCachedWindows(t *testing.T) {
	f := newFixture("p1")
	ended := timeline.Window{
		PatioID:              "p1",
		Date:                 "2025-06-21",
		Start:                now.Add(-3 * time.Hour),
		End:                  now.Add(-time.Hour),
		Duration:             2 * time.Hour,
		AvgExposure:          95,
		Confidence:           85,
		AvgCloudCover:        0.1,
		Quality:              timeline.GradeExcellent,
		IsRecommended:        true,
		RecommendationReason: "excellent sun",
		PriorityScore:        99,
	}
	require.NoError(t, f.cache.Set(context.Background(), "p1|2025-06-21|10m0s", timeline.DaySchedule{
		PatioID:    "p1",
		Date:       "2025-06-21",
		Resolution: 10 * time.Minute,
		Windows:    []timeline.Window{ended},
	}))

	got, err := f.svc.Schedule(context.Background(), "p1", time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Zero(t, f.calc.calls.Load())
	require.Len(t, got.Windows, 1)
	require.False(t, got.Windows[0].IsRecommended)
	require.Equal(t, "window has already ended", got.Windows[0].RecommendationReason)
	require.Less(t, got.Windows[0].PriorityScore, 99.0)
}

func TestInvalidateDropsCachedDays(t *testing.T) {
	f := newFixture("p1")

	require.NoError(t, f.svc.Invalidate(context.Background(), "p1"))

	require.Equal(t, []string{"p1|2025-06-21|10m0s", "p1|2025-06-22|10m0s"}, f.cache.deleted)
	require.Equal(t, []string{"p1"}, f.live.invalidated)
}

func TestEnqueueRecomputeUsesQueue(t *testing.T) {
	f := newFixture("p1")
	q := &stubQueue{}
	f.svc.SetQueue(q)

	require.NoError(t, f.svc.EnqueueRecompute(context.Background(), "p1"))
	require.Equal(t, []string{JobRecompute}, q.names)
	require.Zero(t, f.calc.calls.Load())

	f.svc.HandleJob(context.Background(), JobRecompute, q.payloads[0].(map[string]any))
	require.Equal(t, int32(2), f.calc.calls.Load())

	err := f.svc.EnqueueRecompute(context.Background(), "missing")
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestRecomputeReportsComputationErrors(t *testing.T) {
	f := newFixture("p1")
	f.calc.fail["p1"] = true

	err := f.svc.Recompute(context.Background(), "p1")

	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeComputation))
	require.False(t, errors.Is(err, context.Canceled))
}
