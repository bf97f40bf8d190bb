package precompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/internal/domain/venue"
	apperrors "github.com/yanqian/sunspot/pkg/errors"
	"github.com/yanqian/sunspot/pkg/metrics"
	"github.com/yanqian/sunspot/pkg/util"
)

// Config controls the daily run.
type Config struct {
	Resolution time.Duration `yaml:"resolution"`
	Workers    int           `yaml:"workers"`
	// Timezone decides which local date counts as today.
	Timezone string `yaml:"timezone"`
	// Days is how many local dates from today are materialized.
	Days int `yaml:"days"`
	// StaleRunAfter lets a new run take over a run left in running state.
	StaleRunAfter time.Duration `yaml:"staleRunAfter"`
	// Windows re-grades cached windows against the current time.
	Windows timeline.WindowPolicy `yaml:"-"`
}

// DefaultConfig materializes today and tomorrow at ten minute resolution.
func DefaultConfig() Config {
	return Config{
		Resolution:    10 * time.Minute,
		Workers:       4,
		Timezone:      "Europe/Stockholm",
		Days:          2,
		StaleRunAfter: 2 * time.Hour,
		Windows:       timeline.DefaultWindowPolicy(),
	}
}

// Service materializes day schedules and their windows.
type Service struct {
	cfg         Config
	loc         *time.Location
	patios      venue.PatioRepository
	calculator  Calculator
	cache       Cache
	windows     WindowRepository
	runs        JobRunRepository
	snapshots   SnapshotExporter
	live        LiveInvalidator
	queue       JobQueue
	group       singleflight.Group
	gens        generations
	clock       util.Clock
	metrics     *metrics.Engine
	logger      *slog.Logger
	queueMu     sync.RWMutex
	idGenerator func() string
}

// NewService wires the precompute domain. snapshots, live and queue may be nil.
func NewService(
	cfg Config,
	patios venue.PatioRepository,
	calculator Calculator,
	cache Cache,
	windows WindowRepository,
	runs JobRunRepository,
	snapshots SnapshotExporter,
	live LiveInvalidator,
	clock util.Clock,
	m *metrics.Engine,
	logger *slog.Logger,
) *Service {
	def := DefaultConfig()
	if cfg.Resolution <= 0 {
		cfg.Resolution = def.Resolution
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.Days <= 0 {
		cfg.Days = def.Days
	}
	if cfg.StaleRunAfter <= 0 {
		cfg.StaleRunAfter = def.StaleRunAfter
	}
	if cfg.Windows == (timeline.WindowPolicy{}) {
		cfg.Windows = def.Windows
	}
	if clock == nil {
		clock = util.NowUTC
	}
	return &Service{
		cfg:         cfg,
		loc:         util.LoadLocation(cfg.Timezone, time.UTC),
		patios:      patios,
		calculator:  calculator,
		cache:       cache,
		windows:     windows,
		runs:        runs,
		snapshots:   snapshots,
		live:        live,
		clock:       clock,
		metrics:     m,
		logger:      logger.With("component", "precompute.service"),
		idGenerator: func() string { return uuid.NewString() },
	}
}

// SetQueue attaches the recompute queue.
func (s *Service) SetQueue(q JobQueue) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = q
}

// Resolution is the resolution schedules are materialized at.
func (s *Service) Resolution() time.Duration {
	return s.cfg.Resolution
}

// Schedule returns a patio's day schedule, computing it on a cache miss.
// Concurrent misses for the same key share one computation; a cancelled
// caller stops waiting without cancelling the computation for the others.
// Cached windows are re-graded against the current time.
func (s *Service) Schedule(ctx context.Context, patioID string, date time.Time) (timeline.DaySchedule, error) {
	patioID = strings.TrimSpace(patioID)
	if patioID == "" {
		return timeline.DaySchedule{}, apperrors.Wrap(apperrors.CodeInvalidInput, "patio id is required", nil)
	}
	day := date.Format(util.DateLayout)
	key := timeline.ScheduleKey(patioID, day, s.cfg.Resolution)

	if schedule, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("schedule cache read failed", "key", key, "error", err)
	} else if ok {
		schedule.Windows = timeline.Refresh(schedule.Windows, s.cfg.Windows, s.clock())
		return schedule, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		gen := s.gens.get(key)
		patio, err := s.patio(detached, patioID)
		if err != nil {
			return timeline.DaySchedule{}, err
		}
		return s.materialize(detached, patio, date, gen)
	})
	select {
	case <-ctx.Done():
		return timeline.DaySchedule{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return timeline.DaySchedule{}, res.Err
		}
		return res.Val.(timeline.DaySchedule), nil
	}
}

// Windows returns the windows of a patio-local date.
func (s *Service) Windows(ctx context.Context, patioID string, date time.Time) ([]timeline.Window, error) {
	schedule, err := s.Schedule(ctx, patioID, date)
	if err != nil {
		return nil, err
	}
	return schedule.Windows, nil
}

// RunDaily materializes every active patio for today and the following days.
// It owns its context once started so that the run always completes, and a
// failing patio is tallied without stopping the rest.
func (s *Service) RunDaily(ctx context.Context) (RunReport, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.clock()
	runDate := util.LocalDate(now, s.loc)

	run, claimed, err := s.runs.ClaimRun(ctx, JobRun{
		ID:        s.idGenerator(),
		RunDate:   runDate,
		Status:    RunRunning,
		StartedAt: now,
	}, s.cfg.StaleRunAfter)
	if err != nil {
		return RunReport{}, apperrors.Wrap(apperrors.CodeStorage, "claim precompute run", err)
	}
	if !claimed {
		s.logger.Info("precompute run already claimed", "run_date", runDate, "status", run.Status)
		s.metrics.RecordPrecompute("skipped")
		return RunReport{Run: run, Skipped: true}, nil
	}
	logger := s.logger.With("run_id", run.ID, "run_date", runDate)
	logger.Info("precompute run started")

	gens := s.gens.snapshot()
	patios, err := s.patios.ListActivePatios(ctx)
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		run.FinishedAt = s.clock()
		if completeErr := s.runs.CompleteRun(ctx, run); completeErr != nil {
			logger.Error("record failed run", "error", completeErr)
		}
		return RunReport{Run: run}, apperrors.Wrap(apperrors.CodeStorage, "list active patios", err)
	}

	dates := s.dates(now)
	var (
		mu       sync.Mutex
		failures []PatioFailure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, patio := range patios {
		for _, date := range dates {
			gen := gens[timeline.ScheduleKey(patio.ID, date.Format(util.DateLayout), s.cfg.Resolution)]
			g.Go(func() error {
				if _, err := s.materialize(gctx, patio, date, gen); err != nil {
					logger.Warn("patio precompute failed", "patio_id", patio.ID, "date", date.Format(util.DateLayout), "error", err)
					s.metrics.RecordPrecompute("failed")
					mu.Lock()
					failures = append(failures, PatioFailure{PatioID: patio.ID, Date: date.Format(util.DateLayout), Reason: err.Error()})
					mu.Unlock()
					return nil
				}
				s.metrics.RecordPrecompute("succeeded")
				return nil
			})
		}
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].PatioID != failures[j].PatioID {
			return failures[i].PatioID < failures[j].PatioID
		}
		return failures[i].Date < failures[j].Date
	})
	report := RunReport{Patios: len(patios), Failures: failures}
	report.SnapshotKey = s.exportSnapshot(ctx, runDate, run.ID, logger)

	run.Failed = len(failures)
	run.Succeeded = len(patios)*len(dates) - run.Failed
	run.Status = RunSucceeded
	run.FinishedAt = s.clock()
	if err := s.runs.CompleteRun(ctx, run); err != nil {
		logger.Error("record completed run", "error", err)
	}
	report.Run = run
	logger.Info("precompute run finished", "succeeded", run.Succeeded, "failed", run.Failed)
	return report, nil
}

// LatestRun returns the most recent run record.
func (s *Service) LatestRun(ctx context.Context) (JobRun, bool, error) {
	return s.runs.LatestRun(ctx)
}

// Recompute rebuilds a patio's schedules after its geometry or heights
// changed. Each date's window set is replaced in one swap, and computations
// already in flight for those dates are not allowed to publish afterwards.
func (s *Service) Recompute(ctx context.Context, patioID string) error {
	patio, err := s.patio(ctx, patioID)
	if err != nil {
		return err
	}
	var errs []error
	for _, date := range s.dates(s.clock()) {
		key := timeline.ScheduleKey(patio.ID, date.Format(util.DateLayout), s.cfg.Resolution)
		gen := s.gens.bump(key)
		s.group.Forget(key)
		if _, err := s.materialize(ctx, patio, date, gen); err != nil {
			errs = append(errs, err)
		}
	}
	if s.live != nil {
		s.live.InvalidatePatio(patio.ID)
	}
	return errors.Join(errs...)
}

// Invalidate drops cached schedules for a patio without recomputing them.
func (s *Service) Invalidate(ctx context.Context, patioID string) error {
	var keys []string
	for _, date := range s.dates(s.clock()) {
		key := timeline.ScheduleKey(patioID, date.Format(util.DateLayout), s.cfg.Resolution)
		s.gens.bump(key)
		s.group.Forget(key)
		keys = append(keys, key)
	}
	if s.live != nil {
		s.live.InvalidatePatio(patioID)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return apperrors.Wrap(apperrors.CodeStorage, "invalidate schedules", err)
	}
	return nil
}

// EnqueueRecompute schedules a recompute in the background, or runs it inline without a queue.
func (s *Service) EnqueueRecompute(ctx context.Context, patioID string) error {
	patioID = strings.TrimSpace(patioID)
	if patioID == "" {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "patio id is required", nil)
	}
	if _, err := s.patio(ctx, patioID); err != nil {
		return err
	}
	s.queueMu.RLock()
	q := s.queue
	s.queueMu.RUnlock()
	if q == nil {
		return s.Recompute(ctx, patioID)
	}
	if err := q.Enqueue(ctx, JobRecompute, map[string]any{"patio_id": patioID}); err != nil {
		return apperrors.Wrap(apperrors.CodeStorage, "enqueue recompute", err)
	}
	return nil
}

// HandleJob is the queue handler for recompute jobs.
func (s *Service) HandleJob(ctx context.Context, name string, payload map[string]any) {
	if name != JobRecompute {
		s.logger.Warn("unknown job", "name", name)
		return
	}
	patioID, _ := payload["patio_id"].(string)
	if err := s.Recompute(context.WithoutCancel(ctx), patioID); err != nil {
		s.logger.Error("recompute job failed", "patio_id", patioID, "error", err)
	}
}

// materialize computes a schedule, swaps its windows and caches it. The
// result is only published while key is still at generation gen; otherwise
// the newer cached schedule, if any, is returned.
func (s *Service) materialize(ctx context.Context, patio venue.Patio, date time.Time, gen uint64) (timeline.DaySchedule, error) {
	key := timeline.ScheduleKey(patio.ID, date.Format(util.DateLayout), s.cfg.Resolution)
	started := time.Now()
	schedule, err := s.calculator.ComputeDay(ctx, patio, date, s.cfg.Resolution)
	if err != nil {
		return timeline.DaySchedule{}, err
	}
	s.metrics.ObserveDayCompute(time.Since(started))

	unlock := s.gens.lock(key)
	defer unlock()
	if s.gens.get(key) != gen {
		s.logger.Info("discarding superseded schedule", "key", key)
		if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return cached, nil
		}
		return schedule, nil
	}
	if err := s.windows.ReplaceWindows(ctx, patio.ID, schedule.Date, schedule.Windows); err != nil {
		return timeline.DaySchedule{}, apperrors.Wrap(apperrors.CodeStorage, "replace windows", err)
	}
	if err := s.cache.Set(ctx, key, schedule); err != nil {
		s.logger.Warn("schedule cache write failed", "key", key, "error", err)
	}
	return schedule, nil
}

func (s *Service) exportSnapshot(ctx context.Context, runDate, runID string, logger *slog.Logger) string {
	if s.snapshots == nil {
		return ""
	}
	windows, err := s.windows.ListWindowsByDate(ctx, runDate)
	if err != nil {
		logger.Warn("list windows for snapshot failed", "error", err)
		return ""
	}
	key, err := s.snapshots.Export(ctx, runDate, runID, windows)
	if err != nil {
		logger.Warn("snapshot export failed", "error", err)
		return ""
	}
	return key
}

func (s *Service) patio(ctx context.Context, id string) (venue.Patio, error) {
	patio, err := s.patios.GetPatio(ctx, id)
	if err != nil {
		if errors.Is(err, venue.ErrPatioNotFound) {
			return venue.Patio{}, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("unknown patio id %q", id), err)
		}
		return venue.Patio{}, apperrors.Wrap(apperrors.CodeStorage, "load patio", err)
	}
	return patio, nil
}

// dates returns today and the following days as calendar dates.
func (s *Service) dates(now time.Time) []time.Time {
	today, _ := util.ParseDate(util.LocalDate(now, s.loc))
	out := make([]time.Time, s.cfg.Days)
	for i := range out {
		out[i] = today.AddDate(0, 0, i)
	}
	return out
}
