package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yanqian/sunspot/internal/domain/venue"
	apperrors "github.com/yanqian/sunspot/pkg/errors"
	"github.com/yanqian/sunspot/pkg/metrics"
	"github.com/yanqian/sunspot/pkg/util"
)

// Config holds weather freshness knobs.
type Config struct {
	Lookback            time.Duration
	MaxAge              time.Duration
	Retention           time.Duration
	IngestHorizon       time.Duration
	IngestWorkers       int
	EstimatedCloudCover float64
	EstimatedCertainty  float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:            3 * time.Hour,
		MaxAge:              3 * time.Hour,
		Retention:           7 * 24 * time.Hour,
		IngestHorizon:       48 * time.Hour,
		IngestWorkers:       4,
		EstimatedCloudCover: 0.5,
		EstimatedCertainty:  0.3,
	}
}

// IngestReport tallies one ingestion pass.
type IngestReport struct {
	Cells  int `json:"cells"`
	Slices int `json:"slices"`
	Failed int `json:"failed"`
}

// Service reads stored weather and falls back through the provider chain.
type Service struct {
	cfg       Config
	store     Store
	providers []Provider
	clock     util.Clock
	metrics   *metrics.Engine
	logger    *slog.Logger
}

// NewService wires the weather domain. Providers are tried in order.
func NewService(cfg Config, store Store, providers []Provider, clock util.Clock, m *metrics.Engine, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.IngestHorizon <= 0 {
		cfg.IngestHorizon = def.IngestHorizon
	}
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = def.IngestWorkers
	}
	if cfg.EstimatedCertainty <= 0 {
		cfg.EstimatedCertainty = def.EstimatedCertainty
	}
	if cfg.EstimatedCloudCover <= 0 {
		cfg.EstimatedCloudCover = def.EstimatedCloudCover
	}
	if clock == nil {
		clock = util.NowUTC
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		providers: providers,
		clock:     clock,
		metrics:   m,
		logger:    logger.With("component", "weather.service"),
	}
}

// Load fetches the weather for [from, to] once. It prefers stored slices,
// then live providers, then an estimated series; it does not fail.
func (s *Service) Load(ctx context.Context, lat, lon float64, from, to time.Time) Series {
	cell := CellFor(lat, lon)
	start := from.Add(-s.cfg.Lookback)

	stored, err := s.store.Range(ctx, cell.ID, start, to)
	if err != nil {
		s.logger.Warn("weather store read failed", "cell", cell.ID, "error", err)
		stored = nil
	}
	series := Series{Cell: cell, Mode: ModeStored, Slices: sortSlices(stored), MaxAge: s.cfg.MaxAge}
	if s.covers(series, from, to) {
		return series
	}

	live, err := s.fetch(ctx, cell, start, to)
	if err == nil {
		if appendErr := s.store.Append(ctx, live); appendErr != nil {
			s.logger.Warn("weather store append failed", "cell", cell.ID, "error", appendErr)
		}
		merged := append(append([]Slice(nil), series.Slices...), live...)
		series.Slices = sortSlices(merged)
		series.Mode = ModeLive
		return series
	}

	if len(series.Slices) > 0 {
		series.Notes = append(series.Notes, "live weather unavailable; using stored slices")
		return series
	}
	s.logger.Warn("weather unavailable, using estimated mode", "cell", cell.ID, "error", err)
	return s.estimatedSeries(cell)
}

func (s *Service) estimatedSeries(cell Cell) Series {
	return Series{
		Cell:  cell,
		Mode:  ModeEstimated,
		Notes: []string{"estimated weather: no provider available"},
		estimated: Slice{
			CellID:     cell.ID,
			CloudCover: s.cfg.EstimatedCloudCover,
			Certainty:  s.cfg.EstimatedCertainty,
			Source:     string(ModeEstimated),
			IsForecast: true,
		},
	}
}

func (s *Service) covers(series Series, from, to time.Time) bool {
	if len(series.Slices) == 0 {
		return false
	}
	if _, ok := series.At(from); !ok {
		return false
	}
	last := series.Slices[len(series.Slices)-1].Timestamp
	return !last.Before(to.Add(-s.cfg.MaxAge))
}

// fetch walks the provider chain and returns the first non-empty answer.
func (s *Service) fetch(ctx context.Context, cell Cell, from, to time.Time) ([]Slice, error) {
	var errs []error
	for _, p := range s.providers {
		slices, err := p.Fetch(ctx, cell, from, to)
		if err == nil && len(slices) == 0 {
			err = errors.New("empty response")
		}
		s.metrics.RecordWeatherFetch(p.Name(), err)
		if err != nil {
			s.logger.Warn("weather provider failed", "provider", p.Name(), "cell", cell.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		fetched := s.clock()
		for i := range slices {
			slices[i].CellID = cell.ID
			if slices[i].FetchedAt.IsZero() {
				slices[i].FetchedAt = fetched
			}
		}
		return slices, nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no providers configured"))
	}
	return nil, apperrors.Wrap(apperrors.CodeProviderUnavailable, "all weather providers failed", errors.Join(errs...))
}

// IngestPatios refreshes every distinct weather cell covering the patios.
func (s *Service) IngestPatios(ctx context.Context, patios []venue.Patio) IngestReport {
	seen := make(map[string]Cell)
	for _, p := range patios {
		c := p.Centroid()
		cell := CellFor(c.Lat(), c.Lon())
		seen[cell.ID] = cell
	}
	cells := make([]Cell, 0, len(seen))
	for _, cell := range seen {
		cells = append(cells, cell)
	}
	return s.Ingest(ctx, cells)
}

// Ingest fetches and appends slices for each cell; failures are tallied.
func (s *Service) Ingest(ctx context.Context, cells []Cell) IngestReport {
	now := s.clock()
	from := now.Add(-s.cfg.Lookback)
	to := now.Add(s.cfg.IngestHorizon)

	counts := make([]int, len(cells))
	failed := make([]bool, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.IngestWorkers)
	for i, cell := range cells {
		g.Go(func() error {
			slices, err := s.fetch(gctx, cell, from, to)
			if err != nil {
				failed[i] = true
				return nil
			}
			if err := s.store.Append(gctx, slices); err != nil {
				s.logger.Warn("weather ingest append failed", "cell", cell.ID, "error", err)
				failed[i] = true
				return nil
			}
			counts[i] = len(slices)
			return nil
		})
	}
	_ = g.Wait()

	report := IngestReport{Cells: len(cells)}
	for i := range cells {
		report.Slices += counts[i]
		if failed[i] {
			report.Failed++
		}
	}
	s.logger.Info("weather ingest finished", "cells", report.Cells, "slices", report.Slices, "failed", report.Failed)
	return report
}

// Prune drops slices older than the retention window.
func (s *Service) Prune(ctx context.Context) (int, error) {
	removed, err := s.store.Prune(ctx, s.clock().Add(-s.cfg.Retention))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorage, "prune weather slices", err)
	}
	return removed, nil
}
