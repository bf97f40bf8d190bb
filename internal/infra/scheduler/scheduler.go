package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/venue"
	"github.com/yanqian/sunspot/internal/domain/weather"
	"github.com/yanqian/sunspot/pkg/util"
)

// Job tags.
const (
	TagPrecompute = "precompute"
	TagIngest     = "weather-ingest"
	TagPrune      = "weather-prune"
)

// Precomputer runs the daily materialization.
type Precomputer interface {
	RunDaily(ctx context.Context) (precompute.RunReport, error)
}

// Weather refreshes and prunes the slice log.
type Weather interface {
	IngestPatios(ctx context.Context, patios []venue.Patio) weather.IngestReport
	Prune(ctx context.Context) (int, error)
}

// Config selects which jobs run and when.
type Config struct {
	PrecomputeEnabled bool
	// DailyAt is "HH:MM" in Timezone.
	DailyAt        string
	Timezone       string
	RunOnStart     bool
	IngestInterval time.Duration
	PruneAt        string
	JobTimeout     time.Duration
}

// Scheduler owns the background jobs.
type Scheduler struct {
	cfg        Config
	scheduler  *gocron.Scheduler
	precompute Precomputer
	weather    Weather
	patios     venue.PatioRepository
	logger     *slog.Logger
}

// New creates a Scheduler. Jobs are registered by Start.
func New(cfg Config, pre Precomputer, w Weather, patios venue.PatioRepository, logger *slog.Logger) *Scheduler {
	if cfg.DailyAt == "" {
		cfg.DailyAt = "03:00"
	}
	if cfg.PruneAt == "" {
		cfg.PruneAt = "04:00"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	loc := util.LoadLocation(cfg.Timezone, time.UTC)
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &Scheduler{
		cfg:        cfg,
		scheduler:  s,
		precompute: pre,
		weather:    w,
		patios:     patios,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start registers the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.cfg.PrecomputeEnabled && s.precompute != nil {
		if _, err := s.scheduler.Every(1).Day().At(s.cfg.DailyAt).Tag(TagPrecompute).Do(s.runPrecompute); err != nil {
			return err
		}
		if s.cfg.RunOnStart {
			// the run record makes this a no-op when today's run already succeeded
			if _, err := s.scheduler.Every(1).Day().StartImmediately().LimitRunsTo(1).Tag(TagPrecompute + "-startup").Do(s.runPrecompute); err != nil {
				return err
			}
		}
	}
	if s.weather != nil {
		if s.cfg.IngestInterval > 0 {
			if _, err := s.scheduler.Every(s.cfg.IngestInterval).StartImmediately().Tag(TagIngest).Do(s.runIngest); err != nil {
				return err
			}
		}
		if _, err := s.scheduler.Every(1).Day().At(s.cfg.PruneAt).Tag(TagPrune).Do(s.runPrune); err != nil {
			return err
		}
	}
	s.logger.Info("scheduler started", "jobs", len(s.scheduler.Jobs()), "daily_at", s.cfg.DailyAt, "timezone", s.scheduler.Location().String())
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Tags lists the registered job tags.
func (s *Scheduler) Tags() []string {
	var out []string
	for _, job := range s.scheduler.Jobs() {
		out = append(out, job.Tags()...)
	}
	return out
}

func (s *Scheduler) runPrecompute() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	report, err := s.precompute.RunDaily(ctx)
	if err != nil {
		s.logger.Error("precompute job failed", "error", err)
		return
	}
	if report.Skipped {
		return
	}
	s.logger.Info("precompute job completed", "run_id", report.Run.ID, "patios", report.Patios, "failed", len(report.Failures), "snapshot", report.SnapshotKey)
}

func (s *Scheduler) runIngest() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	patios, err := s.patios.ListActivePatios(ctx)
	if err != nil {
		s.logger.Error("weather ingest: list patios failed", "error", err)
		return
	}
	if len(patios) == 0 {
		return
	}
	s.weather.IngestPatios(ctx, patios)
}

func (s *Scheduler) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	removed, err := s.weather.Prune(ctx)
	if err != nil {
		s.logger.Error("weather prune failed", "error", err)
		return
	}
	s.logger.Info("weather prune completed", "removed", removed)
}
