package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/yanqian/sunspot/internal/domain/confidence"
	"github.com/yanqian/sunspot/internal/domain/exposure"
	"github.com/yanqian/sunspot/internal/domain/shadow"
	"github.com/yanqian/sunspot/internal/domain/solar"
	"github.com/yanqian/sunspot/internal/domain/venue"
	"github.com/yanqian/sunspot/internal/domain/weather"
	apperrors "github.com/yanqian/sunspot/pkg/errors"
	"github.com/yanqian/sunspot/pkg/metrics"
	"github.com/yanqian/sunspot/pkg/util"
)

// WeatherSource loads one weather series per request.
type WeatherSource interface {
	Load(ctx context.Context, lat, lon float64, from, to time.Time) weather.Series
}

// ScheduleReader reads already materialized day schedules without computing them.
type ScheduleReader interface {
	Get(ctx context.Context, key string) (DaySchedule, bool, error)
}

// Service evaluates sun exposure timelines.
type Service struct {
	cfg        Config
	repo       venue.Repository
	sun        solar.Calculator
	shadows    *shadow.Engine
	classifier *exposure.Service
	scorer     *confidence.Calculator
	weather    WeatherSource
	schedules  ScheduleReader
	live       *gocache.Cache
	defaultLoc *time.Location
	clock      util.Clock
	metrics    *metrics.Engine
	logger     *slog.Logger
}

// NewService wires the timeline domain. schedules may be nil.
func NewService(
	cfg Config,
	repo venue.Repository,
	sun solar.Calculator,
	shadows *shadow.Engine,
	classifier *exposure.Service,
	scorer *confidence.Calculator,
	weatherSource WeatherSource,
	schedules ScheduleReader,
	clock util.Clock,
	m *metrics.Engine,
	logger *slog.Logger,
) *Service {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = util.NowUTC
	}
	return &Service{
		cfg:        cfg,
		repo:       repo,
		sun:        sun,
		shadows:    shadows,
		classifier: classifier,
		scorer:     scorer,
		weather:    weatherSource,
		schedules:  schedules,
		live:       gocache.New(cfg.LiveCacheTTL, 2*cfg.LiveCacheTTL),
		defaultLoc: util.LoadLocation(cfg.DefaultTimezone, time.UTC),
		clock:      clock,
		metrics:    m,
		logger:     logger.With("component", "timeline.service"),
	}
}

// Config exposes the active bounds.
func (s *Service) Config() Config {
	return s.cfg
}

// Location resolves the patio's timezone.
func (s *Service) Location(p venue.Patio) *time.Location {
	return util.LoadLocation(p.Timezone, s.defaultLoc)
}

// Validate rejects a malformed request before any work is done and fills in the default resolution.
func (s *Service) Validate(req Request) (Request, error) {
	req.PatioID = strings.TrimSpace(req.PatioID)
	if req.PatioID == "" {
		return req, apperrors.Wrap(apperrors.CodeInvalidInput, "patio id is required", nil)
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return req, apperrors.Wrap(apperrors.CodeInvalidInput, "start and end are required", nil)
	}
	req.Start, req.End = req.Start.UTC(), req.End.UTC()
	if !req.Start.Before(req.End) {
		return req, apperrors.Wrap(apperrors.CodeInvalidInput, "start must be before end", nil)
	}
	if req.End.Sub(req.Start) > s.cfg.MaxRange {
		return req, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("time range exceeds %s", s.cfg.MaxRange), nil)
	}
	if req.Resolution == 0 {
		req.Resolution = s.cfg.DefaultResolution
	}
	if req.Resolution < s.cfg.MinResolution || req.Resolution > s.cfg.MaxRange {
		return req, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("resolution must be between %s and %s", s.cfg.MinResolution, s.cfg.MaxRange), nil)
	}
	return req, nil
}

// Timeline evaluates one point per tick in [Start, End). Points are served from
// the live cache, then precomputed schedules, then interpolation, and are
// otherwise calculated. Cancelling ctx aborts the evaluation.
func (s *Service) Timeline(ctx context.Context, req Request) (Timeline, error) {
	req, err := s.Validate(req)
	if err != nil {
		return Timeline{}, err
	}
	patio, err := s.patio(ctx, req.PatioID)
	if err != nil {
		return Timeline{}, err
	}
	loc := s.Location(patio)
	now := s.clock()
	ticks := tickTimes(req.Start, req.End, req.Resolution)
	points := make([]Point, len(ticks))

	known := s.knownPoints(ctx, patio, loc, ticks)
	obs := observerFor(patio)
	maxGap := time.Duration(s.cfg.InterpolationFactor) * s.cfg.PrecomputedResolution

	var (
		pending   []int
		quality   dataQuality
		usedKnown bool
	)
	for i, at := range ticks {
		if entry, ok := s.cachedEntry(patio.ID, at); ok {
			points[i] = s.rescore(entry, at, now)
			quality.add(entry.quality)
			continue
		}
		if p, ok := pointAt(known.points, at); ok {
			p.Provenance = ProvenancePrecomputed
			points[i] = p
			usedKnown = true
			continue
		}
		if p, ok := s.interpolate(known.points, obs, at, maxGap); ok {
			points[i] = p
			usedKnown = true
			continue
		}
		pending = append(pending, i)
	}
	if usedKnown {
		quality.add(known.quality)
	}

	out := Timeline{
		PatioID:    patio.ID,
		Timezone:   loc.String(),
		Start:      req.Start,
		End:        req.End,
		Resolution: req.Resolution,
	}
	if len(pending) > 0 {
		scene, series, err := s.prepare(ctx, patio, ticks[pending[0]], ticks[pending[len(pending)-1]])
		if err != nil {
			return Timeline{}, err
		}
		inputs := make([]confidence.Input, len(ticks))
		if err := s.evaluateAll(ctx, scene, patio, series, ticks, pending, points, inputs, now); err != nil {
			return Timeline{}, err
		}
		computed := qualityOf(scene, series)
		for _, idx := range pending {
			s.live.SetDefault(liveKey(patio.ID, ticks[idx]), liveEntry{point: points[idx], input: inputs[idx], quality: computed})
		}
		quality.add(computed)
	}
	out.Notes = quality.notes
	out.Degraded = quality.degraded
	out.FailedBuildings = quality.failures
	for _, p := range points {
		s.metrics.RecordTimelinePoint(string(p.Provenance))
	}
	out.Points = points
	out.Windows = BuildWindows(patio.ID, points, req.Resolution, s.cfg.Windows, loc, now)
	return out, nil
}

// Exposure evaluates a single instant.
func (s *Service) Exposure(ctx context.Context, patioID string, at time.Time) (Exposure, error) {
	if at.IsZero() {
		return Exposure{}, apperrors.Wrap(apperrors.CodeInvalidInput, "timestamp is required", nil)
	}
	tl, err := s.Timeline(ctx, Request{PatioID: patioID, Start: at, End: at.Add(s.cfg.MinResolution), Resolution: s.cfg.MinResolution})
	if err != nil {
		return Exposure{}, err
	}
	return Exposure{
		PatioID:  tl.PatioID,
		Timezone: tl.Timezone,
		Point:    tl.Points[0],
		Notes:    tl.Notes,
		Degraded: tl.Degraded,
	}, nil
}

// Batch evaluates many patios at one instant and ranks them sunniest first.
// Oversized or empty batches are rejected before any evaluation; individual
// patio failures are reported alongside the ranking.
func (s *Service) Batch(ctx context.Context, patioIDs []string, at time.Time) (BatchResult, error) {
	if len(patioIDs) == 0 {
		return BatchResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "at least one patio id is required", nil)
	}
	if len(patioIDs) > s.cfg.MaxBatch {
		return BatchResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("batch of %d exceeds limit of %d patios", len(patioIDs), s.cfg.MaxBatch), nil)
	}
	if at.IsZero() {
		return BatchResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "timestamp is required", nil)
	}
	ids := dedupe(patioIDs)

	results := make([]Exposure, len(ids))
	failures := make([]error, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.Exposure(gctx, id, at)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{At: at.UTC()}
	for i, id := range ids {
		if err := failures[i]; err != nil {
			s.logger.Warn("batch patio evaluation failed", "patio_id", id, "error", err)
			out.Failed = append(out.Failed, BatchFailure{PatioID: id, Code: apperrors.CodeOf(err), Reason: err.Error()})
			continue
		}
		out.Results = append(out.Results, results[i])
	}
	Rank(out.Results)
	return out, nil
}

// Rank orders exposures by state, then exposure, then confidence.
func Rank(results []Exposure) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Point, results[j].Point
		if a.State.Rank() != b.State.Rank() {
			return a.State.Rank() > b.State.Rank()
		}
		if a.ExposurePercent != b.ExposurePercent {
			return a.ExposurePercent > b.ExposurePercent
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return results[i].PatioID < results[j].PatioID
	})
}

// ComputeDay calculates a full local day for a patio, ignoring every cache.
func (s *Service) ComputeDay(ctx context.Context, patio venue.Patio, date time.Time, resolution time.Duration) (DaySchedule, error) {
	if resolution <= 0 {
		resolution = s.cfg.PrecomputedResolution
	}
	loc := s.Location(patio)
	start, end := util.LocalDayBounds(date, loc)
	ticks := tickTimes(start, end, resolution)

	scene, series, err := s.prepare(ctx, patio, start, end)
	if err != nil {
		return DaySchedule{}, err
	}
	now := s.clock()
	points := make([]Point, len(ticks))
	pending := make([]int, len(ticks))
	for i := range pending {
		pending[i] = i
	}
	if err := s.evaluateAll(ctx, scene, patio, series, ticks, pending, points, nil, now); err != nil {
		return DaySchedule{}, err
	}
	quality := qualityOf(scene, series)

	return DaySchedule{
		PatioID:         patio.ID,
		Date:            date.Format(util.DateLayout),
		Timezone:        loc.String(),
		Resolution:      resolution,
		Points:          points,
		Windows:         BuildWindows(patio.ID, points, resolution, s.cfg.Windows, loc, now),
		Daylight:        solar.DaylightBounds(observerFor(patio), date),
		ComputedAt:      now,
		WeatherMode:     series.Mode,
		Notes:           quality.notes,
		Degraded:        quality.degraded,
		FailedBuildings: quality.failures,
	}, nil
}

// InvalidatePatio drops live-cached points for a patio.
func (s *Service) InvalidatePatio(patioID string) {
	prefix := patioID + "|"
	for key := range s.live.Items() {
		if strings.HasPrefix(key, prefix) {
			s.live.Delete(key)
		}
	}
}

func (s *Service) patio(ctx context.Context, id string) (venue.Patio, error) {
	patio, err := s.repo.GetPatio(ctx, id)
	if err != nil {
		if errors.Is(err, venue.ErrPatioNotFound) {
			return venue.Patio{}, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("unknown patio id %q", id), err)
		}
		return venue.Patio{}, apperrors.Wrap(apperrors.CodeStorage, "load patio", err)
	}
	return patio, nil
}

// prepare loads candidates, projects the scene and fetches weather once.
func (s *Service) prepare(ctx context.Context, patio venue.Patio, from, to time.Time) (*shadow.Scene, weather.Series, error) {
	buildings, err := s.repo.BuildingsWithin(ctx, s.shadows.SearchBound(patio))
	if err != nil {
		return nil, weather.Series{}, apperrors.Wrap(apperrors.CodeStorage, "load candidate buildings", err)
	}
	scene, err := s.shadows.Prepare(patio, buildings)
	if err != nil {
		s.logger.Warn("patio geometry rejected", "patio_id", patio.ID, "error", err)
		return nil, weather.Series{}, err
	}
	c := patio.Centroid()
	series := s.weather.Load(ctx, c.Lat(), c.Lon(), from, to)
	return scene, series, nil
}

// evaluateAll fills points (and inputs, when non-nil) at the pending indexes.
func (s *Service) evaluateAll(ctx context.Context, scene *shadow.Scene, patio venue.Patio, series weather.Series, ticks []time.Time, pending []int, points []Point, inputs []confidence.Input, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, idx := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			point, input := s.evaluate(scene, patio, series, ticks[idx], now)
			points[idx] = point
			if inputs != nil {
				inputs[idx] = input
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// evaluate is the pure per-tick pipeline: sun, shadow, exposure, confidence.
// The confidence input is returned so a cached point can be re-scored later.
func (s *Service) evaluate(scene *shadow.Scene, patio venue.Patio, series weather.Series, at, now time.Time) (Point, confidence.Input) {
	pos := s.sun.Position(scene.Observer(), at)
	cast := s.shadows.Cast(scene, pos)
	assessment := s.classifier.Classify(cast.ShadedFraction, pos)

	cloud := -1.0
	var w *confidence.Weather
	if slice, ok := series.At(at); ok {
		cloud = slice.CloudCover
		w = &confidence.Weather{
			Certainty:  slice.Certainty,
			Lead:       at.Sub(now),
			IsForecast: slice.IsForecast,
			Estimated:  series.Degraded(),
		}
	}
	input := confidence.Input{
		PatioQuality: patio.QualityScore,
		HeightSource: cast.HeightSource,
		Weather:      w,
	}
	score := s.scorer.Compute(input)

	return Point{
		Timestamp:       at,
		ExposurePercent: assessment.ExposurePercent,
		State:           assessment.State,
		Confidence:      score.Value,
		IsSunVisible:    assessment.Visible,
		SolarElevation:  pos.Elevation,
		SolarAzimuth:    pos.Azimuth,
		CloudCover:      cloud,
		Provenance:      ProvenanceCalculated,
		Contributing:    cast.Contributing,
	}, input
}

// precomputed is what the materialized schedules contribute to a request.
type precomputed struct {
	points  []Point
	quality dataQuality
}

// knownPoints gathers precomputed points for every local date the ticks touch.
func (s *Service) knownPoints(ctx context.Context, patio venue.Patio, loc *time.Location, ticks []time.Time) precomputed {
	var known precomputed
	if s.schedules == nil || len(ticks) == 0 {
		return known
	}
	seen := make(map[string]bool)
	for _, at := range ticks {
		date := util.LocalDate(at, loc)
		if seen[date] {
			continue
		}
		seen[date] = true
		schedule, ok, err := s.schedules.Get(ctx, ScheduleKey(patio.ID, date, s.cfg.PrecomputedResolution))
		if err != nil {
			s.logger.Warn("precomputed schedule lookup failed", "patio_id", patio.ID, "date", date, "error", err)
			continue
		}
		if ok {
			known.points = append(known.points, schedule.Points...)
			known.quality.add(dataQuality{
				notes:    schedule.Notes,
				degraded: schedule.Degraded || schedule.WeatherMode == weather.ModeEstimated,
				failures: schedule.FailedBuildings,
			})
		}
	}
	sort.Slice(known.points, func(i, j int) bool { return known.points[i].Timestamp.Before(known.points[j].Timestamp) })
	return known
}

// interpolate blends the two nearest precomputed points; the sun position is
// recomputed for the exact instant and confidence takes the weaker neighbour.
func (s *Service) interpolate(known []Point, obs solar.Observer, at time.Time, maxGap time.Duration) (Point, bool) {
	prev, next, ok := bracket(known, at)
	if !ok || next.Timestamp.Sub(prev.Timestamp) > maxGap {
		return Point{}, false
	}
	span := next.Timestamp.Sub(prev.Timestamp)
	frac := float64(at.Sub(prev.Timestamp)) / float64(span)
	pos := s.sun.Position(obs, at)

	exposurePct := prev.ExposurePercent + frac*(next.ExposurePercent-prev.ExposurePercent)
	assessment := s.classifier.Classify(1-exposurePct/100, pos)

	cloud := -1.0
	if prev.CloudCover >= 0 && next.CloudCover >= 0 {
		cloud = prev.CloudCover + frac*(next.CloudCover-prev.CloudCover)
	}
	return Point{
		Timestamp:       at,
		ExposurePercent: assessment.ExposurePercent,
		State:           assessment.State,
		Confidence:      math.Min(prev.Confidence, next.Confidence),
		IsSunVisible:    assessment.Visible,
		SolarElevation:  pos.Elevation,
		SolarAzimuth:    pos.Azimuth,
		CloudCover:      cloud,
		Provenance:      ProvenanceInterpolated,
	}, true
}

// liveEntry is a calculated point kept with what it was scored from.
type liveEntry struct {
	point   Point
	input   confidence.Input
	quality dataQuality
}

func (s *Service) cachedEntry(patioID string, at time.Time) (liveEntry, bool) {
	v, ok := s.live.Get(liveKey(patioID, at))
	if !ok {
		return liveEntry{}, false
	}
	entry, ok := v.(liveEntry)
	return entry, ok
}

// rescore recomputes a cached point's confidence for the lead it has now.
func (s *Service) rescore(entry liveEntry, at, now time.Time) Point {
	p := entry.point
	p.Provenance = ProvenanceCached
	in := entry.input
	if in.Weather != nil {
		w := *in.Weather
		w.Lead = at.Sub(now)
		in.Weather = &w
	}
	p.Confidence = s.scorer.Compute(in).Value
	return p
}

func liveKey(patioID string, at time.Time) string {
	return fmt.Sprintf("%s|%d", patioID, at.Unix())
}

func observerFor(p venue.Patio) solar.Observer {
	c := p.Centroid()
	return solar.Observer{Latitude: c.Lat(), Longitude: c.Lon()}
}

func tickTimes(start, end time.Time, resolution time.Duration) []time.Time {
	var ticks []time.Time
	for t := start; t.Before(end); t = t.Add(resolution) {
		ticks = append(ticks, t)
	}
	return ticks
}

// dataQuality collects the notes behind a response, whichever path served it.
type dataQuality struct {
	notes    []string
	degraded bool
	failures []shadow.Failure
}

func qualityOf(scene *shadow.Scene, series weather.Series) dataQuality {
	q := dataQuality{
		notes:    append([]string(nil), series.Notes...),
		degraded: series.Degraded(),
		failures: scene.Failures,
	}
	for _, src := range scene.Sources() {
		if src == venue.HeightSourceHeuristic {
			q.notes = append(q.notes, "heuristic building height")
			break
		}
	}
	for _, f := range scene.Failures {
		q.notes = append(q.notes, fmt.Sprintf("excluded building %s: %s", f.BuildingID, f.Reason))
	}
	return q
}

func (q *dataQuality) add(other dataQuality) {
	q.degraded = q.degraded || other.degraded
	for _, note := range other.notes {
		if !slices.Contains(q.notes, note) {
			q.notes = append(q.notes, note)
		}
	}
	for _, f := range other.failures {
		if !slices.ContainsFunc(q.failures, func(have shadow.Failure) bool { return have.BuildingID == f.BuildingID }) {
			q.failures = append(q.failures, f)
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
