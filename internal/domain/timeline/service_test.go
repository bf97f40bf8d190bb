package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/sunspot/internal/domain/confidence"
	"github.com/yanqian/sunspot/internal/domain/exposure"
	"github.com/yanqian/sunspot/internal/domain/shadow"
	"github.com/yanqian/sunspot/internal/domain/solar"
	"github.com/yanqian/sunspot/internal/domain/venue"
	"github.com/yanqian/sunspot/internal/domain/weather"
	apperrors "github.com/yanqian/sunspot/pkg/errors"
	"github.com/yanqian/sunspot/pkg/util"
)

type stubRepo struct {
	mu            sync.Mutex
	patios        map[string]venue.Patio
	buildings     []venue.Building
	patioCalls    int
	buildingCalls int
}

func (r *stubRepo) GetPatio(_ context.Context, id string) (venue.Patio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patioCalls++
	p, ok := r.patios[id]
	if !ok {
		return venue.Patio{}, venue.ErrPatioNotFound
	}
	return p, nil
}

func (r *stubRepo) ListActivePatios(context.Context) ([]venue.Patio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]venue.Patio, 0, len(r.patios))
	for _, p := range r.patios {
		out = append(out, p)
	}
	return out, nil
}

func (r *stubRepo) BuildingsWithin(context.Context, orb.Bound) ([]venue.Building, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buildingCalls++
	return r.buildings, nil
}

type fixedSun struct {
	pos solar.Position
}

func (s fixedSun) Position(solar.Observer, time.Time) solar.Position {
	return s.pos
}

type stubWeather struct {
	series weather.Series
}

func (w stubWeather) Load(context.Context, float64, float64, time.Time, time.Time) weather.Series {
	return w.series
}

type stubSchedules map[string]DaySchedule

func (s stubSchedules) Get(_ context.Context, key string) (DaySchedule, bool, error) {
	d, ok := s[key]
	return d, ok, nil
}

func square(id string, lon, lat, quality float64) venue.Patio {
	return venue.Patio{
		ID:           id,
		Polygon:      orb.Polygon{{{lon, lat}, {lon + 0.0001, lat}, {lon + 0.0001, lat + 0.0001}, {lon, lat + 0.0001}, {lon, lat}}},
		QualityScore: quality,
		Active:       true,
		Timezone:     "Europe/Stockholm",
	}
}

func clearWeather() weather.Series {
	return weather.Series{Mode: weather.ModeStored, Slices: []weather.Slice{
		{Timestamp: noon.Add(-time.Hour), CloudCover: 0.2, Certainty: 0.9, Source: "stub"},
	}}
}

func newTestService(t *testing.T, repo *stubRepo, schedules ScheduleReader) *Service {
	t.Helper()
	return newServiceWith(t, repo, schedules, stubWeather{series: clearWeather()}, util.FixedClock(noon))
}

func newServiceWith(t *testing.T, repo *stubRepo, schedules ScheduleReader, source WeatherSource, clock util.Clock) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	classifier, err := exposure.NewService(exposure.DefaultThresholds())
	require.NoError(t, err)
	return NewService(
		DefaultConfig(),
		repo,
		fixedSun{pos: solar.Position{Elevation: 45, Azimuth: 180, TrueElevation: 45, Visible: true}},
		shadow.NewEngine(shadow.DefaultConfig(), nil, nil, logger),
		classifier,
		confidence.NewCalculator(confidence.DefaultConfig()),
		source,
		schedules,
		clock,
		nil,
		logger,
	)
}

func newRepo(patios ...venue.Patio) *stubRepo {
	repo := &stubRepo{patios: make(map[string]venue.Patio)}
	for _, p := range patios {
		repo.patios[p.ID] = p
	}
	return repo
}

func TestValidateRejectsMalformedRequests(t *testing.T) {
	svc := newTestService(t, newRepo(), nil)
	cases := []Request{
		{Start: noon, End: noon.Add(time.Hour)},
		{PatioID: "p", Start: noon, End: noon},
		{PatioID: "p", Start: noon, End: noon.Add(49 * time.Hour)},
		{PatioID: "p", Start: noon, End: noon.Add(time.Hour), Resolution: time.Second},
	}
	for _, req := range cases {
		_, err := svc.Validate(req)
		require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput), "%+v", req)
	}

	got, err := svc.Validate(Request{PatioID: " p ", Start: noon, End: noon.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, "p", got.PatioID)
	require.Equal(t, 10*time.Minute, got.Resolution)
}

func TestTimelineCalculatesThenServesFromCache(t *testing.T) {
	repo := newRepo(square("p1", 11.97, 57.70, 0.9))
	svc := newTestService(t, repo, nil)
	req := Request{PatioID: "p1", Start: noon, End: noon.Add(time.Hour), Resolution: 10 * time.Minute}

	first, err := svc.Timeline(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Points, 6)
	require.Equal(t, "Europe/Stockholm", first.Timezone)
	for _, p := range first.Points {
		require.Equal(t, ProvenanceCalculated, p.Provenance)
		require.Equal(t, exposure.StateSunny, p.State)
		require.Equal(t, 100.0, p.ExposurePercent)
		require.InDelta(t, 73.8, p.Confidence, 1e-9)
		require.Equal(t, 0.2, p.CloudCover)
	}
	require.Len(t, first.Windows, 1)
	require.Equal(t, time.Hour, first.Windows[0].Duration)

	second, err := svc.Timeline(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, repo.buildingCalls)
	for i, p := range second.Points {
		require.Equal(t, ProvenanceCached, p.Provenance)
		p.Provenance = ProvenanceCalculated
		require.Equal(t, first.Points[i], p)
	}

	svc.InvalidatePatio("p1")
	third, err := svc.Timeline(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ProvenanceCalculated, third.Points[0].Provenance)
}

func TestTimelineUsesPrecomputedAndInterpolatedPoints(t *testing.T) {
	repo := newRepo(square("p1", 11.97, 57.70, 0.9))
	date := util.LocalDate(noon, util.LoadLocation("Europe/Stockholm", time.UTC))
	schedules := stubSchedules{
		ScheduleKey("p1", date, 10*time.Minute): {
			PatioID: "p1",
			Date:    date,
			Points: []Point{
				{Timestamp: noon, ExposurePercent: 100, State: exposure.StateSunny, Confidence: 80, CloudCover: 0.1},
				{Timestamp: noon.Add(10 * time.Minute), ExposurePercent: 50, State: exposure.StatePartial, Confidence: 60, CloudCover: 0.3},
			},
		},
	}
	svc := newTestService(t, repo, schedules)

	got, err := svc.Timeline(context.Background(), Request{PatioID: "p1", Start: noon, End: noon.Add(15 * time.Minute), Resolution: 5 * time.Minute})
	require.NoError(t, err)

	require.Len(t, got.Points, 3)
	require.Equal(t, ProvenancePrecomputed, got.Points[0].Provenance)
	mid := got.Points[1]
	require.Equal(t, ProvenanceInterpolated, mid.Provenance)
	require.InDelta(t, 75, mid.ExposurePercent, 1e-9)
	require.Equal(t, exposure.StatePartial, mid.State)
	require.Equal(t, 60.0, mid.Confidence)
	require.InDelta(t, 0.2, mid.CloudCover, 1e-9)
	require.Equal(t, 45.0, mid.SolarElevation)
	require.Equal(t, ProvenancePrecomputed, got.Points[2].Provenance)
	require.Zero(t, repo.buildingCalls)
}

type emptyWeatherStore struct{}

func (emptyWeatherStore) Append(context.Context, []weather.Slice) error { return nil }

func (emptyWeatherStore) Range(context.Context, string, time.Time, time.Time) ([]weather.Slice, error) {
	return nil, nil
}

func (emptyWeatherStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }

type downProvider struct{}

func (downProvider) Name() string { return "down" }

func (downProvider) Fetch(context.Context, weather.Cell, time.Time, time.Time) ([]weather.Slice, error) {
	return nil, errors.New("503 service unavailable")
}

func TestTimelineKeepsDataQualityOnCachedPoints(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := weather.NewService(weather.DefaultConfig(), emptyWeatherStore{}, []weather.Provider{downProvider{}}, util.FixedClock(noon), nil, logger)
	svc := newServiceWith(t, newRepo(square("p1", 11.97, 57.70, 0.9)), nil, source, util.FixedClock(noon))
	req := Request{PatioID: "p1", Start: noon, End: noon.Add(30 * time.Minute)}

	for i := 0; i < 2; i++ {
		got, err := svc.Timeline(context.Background(), req)
		require.NoError(t, err)
		require.True(t, got.Degraded, "call %d", i)
		require.Contains(t, got.Notes, "estimated weather: no provider available", "call %d", i)
		for _, p := range got.Points {
			require.LessOrEqual(t, p.Confidence, 60.0)
		}
	}

	exp, err := svc.Exposure(context.Background(), "p1", noon)
	require.NoError(t, err)
	require.Equal(t, ProvenanceCached, exp.Point.Provenance)
	require.True(t, exp.Degraded)
}

func TestTimelinePrecomputedPointsCarryScheduleNotes(t *testing.T) {
	repo := newRepo(square("p1", 11.97, 57.70, 0.9))
	date := util.LocalDate(noon, util.LoadLocation("Europe/Stockholm", time.UTC))
	schedules := stubSchedules{
		ScheduleKey("p1", date, 10*time.Minute): {
			PatioID:         "p1",
			Date:            date,
			WeatherMode:     weather.ModeEstimated,
			Notes:           []string{"estimated weather: no provider available", "heuristic building height"},
			FailedBuildings: []shadow.Failure{{BuildingID: "b9", Reason: "footprint has fewer than 3 vertices"}},
			Points: []Point{
				{Timestamp: noon, ExposurePercent: 100, State: exposure.StateSunny, Confidence: 55, CloudCover: 0.5},
			},
		},
	}
	svc := newTestService(t, repo, schedules)

	got, err := svc.Timeline(context.Background(), Request{PatioID: "p1", Start: noon, End: noon.Add(10 * time.Minute)})
	require.NoError(t, err)

	require.Equal(t, ProvenancePrecomputed, got.Points[0].Provenance)
	require.True(t, got.Degraded)
	require.Equal(t, []string{"estimated weather: no provider available", "heuristic building height"}, got.Notes)
	require.Len(t, got.FailedBuildings, 1)
	require.Zero(t, repo.buildingCalls)
}

func TestTimelineRescoresCachedPointsForCurrentLead(t *testing.T) {
	current := noon
	clock := func() time.Time { return current }
	svc := newServiceWith(t, newRepo(square("p1", 11.97, 57.70, 0.9)), nil, stubWeather{series: clearWeather()}, clock)
	later := noon.Add(3 * time.Hour)
	req := Request{PatioID: "p1", Start: later, End: later.Add(10 * time.Minute)}

	ahead, err := svc.Timeline(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ProvenanceCalculated, ahead.Points[0].Provenance)
	require.InDelta(t, 73.44, ahead.Points[0].Confidence, 1e-9)

	current = later
	served, err := svc.Timeline(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ProvenanceCached, served.Points[0].Provenance)
	require.InDelta(t, 73.8, served.Points[0].Confidence, 1e-9)
}

func TestTimelineReportsExcludedBuildings(t *testing.T) {
	repo := newRepo(square("p1", 11.97, 57.70, 0.9))
	repo.buildings = []venue.Building{{ID: "broken", Footprint: orb.Polygon{{{11.97, 57.69}, {11.9701, 57.69}}}, Height: 20, HeightSource: venue.HeightSourceOsm}}
	svc := newTestService(t, repo, nil)

	got, err := svc.Timeline(context.Background(), Request{PatioID: "p1", Start: noon, End: noon.Add(10 * time.Minute)})
	require.NoError(t, err)

	require.Len(t, got.FailedBuildings, 1)
	require.Equal(t, "broken", got.FailedBuildings[0].BuildingID)
	require.Contains(t, got.Notes, fmt.Sprintf("excluded building broken: %s", got.FailedBuildings[0].Reason))
	require.Equal(t, exposure.StateSunny, got.Points[0].State)
}

func TestTimelineUnknownPatio(t *testing.T) {
	svc := newTestService(t, newRepo(), nil)

	_, err := svc.Timeline(context.Background(), Request{PatioID: "missing", Start: noon, End: noon.Add(time.Hour)})

	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestTimelineHonoursCancellation(t *testing.T) {
	svc := newTestService(t, newRepo(square("p1", 11.97, 57.70, 0.9)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Timeline(ctx, Request{PatioID: "p1", Start: noon, End: noon.Add(time.Hour)})

	require.ErrorIs(t, err, context.Canceled)
}

func TestBatchRejectsOversizedRequestBeforeWork(t *testing.T) {
	repo := newRepo(square("p1", 11.97, 57.70, 0.9))
	svc := newTestService(t, repo, nil)
	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}

	_, err := svc.Batch(context.Background(), ids, noon)

	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	require.Zero(t, repo.patioCalls)
	require.Zero(t, repo.buildingCalls)

	_, err = svc.Batch(context.Background(), nil, noon)
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestBatchRanksAndIsolatesFailures(t *testing.T) {
	repo := newRepo(
		square("low", 11.97, 57.70, 0.5),
		square("high", 11.98, 57.70, 1.0),
	)
	svc := newTestService(t, repo, nil)

	got, err := svc.Batch(context.Background(), []string{"low", "missing", "high", "low"}, noon)
	require.NoError(t, err)

	require.Len(t, got.Results, 2)
	require.Equal(t, "high", got.Results[0].PatioID)
	require.Equal(t, "low", got.Results[1].PatioID)
	require.Len(t, got.Failed, 1)
	require.Equal(t, "missing", got.Failed[0].PatioID)
	require.Equal(t, apperrors.CodeInvalidInput, got.Failed[0].Code)
}

func TestComputeDayCoversLocalDayAcrossDST(t *testing.T) {
	svc := newTestService(t, newRepo(), nil)
	patio := square("p1", 18.06, 59.33, 0.9)
	date := time.Date(2025, time.March, 30, 0, 0, 0, 0, time.UTC)

	day, err := svc.ComputeDay(context.Background(), patio, date, 10*time.Minute)
	require.NoError(t, err)

	require.Equal(t, "2025-03-30", day.Date)
	require.Len(t, day.Points, 23*6)
	require.Equal(t, time.Date(2025, time.March, 29, 23, 0, 0, 0, time.UTC), day.Points[0].Timestamp)
	require.Equal(t, noon, day.ComputedAt)
	require.Equal(t, weather.ModeStored, day.WeatherMode)
}

func TestRankOrdersByStateExposureConfidence(t *testing.T) {
	results := []Exposure{
		{PatioID: "shaded", Point: Point{State: exposure.StateShaded, ExposurePercent: 10}},
		{PatioID: "partial", Point: Point{State: exposure.StatePartial, ExposurePercent: 60}},
		{PatioID: "sunny-low", Point: Point{State: exposure.StateSunny, ExposurePercent: 100, Confidence: 50}},
		{PatioID: "sunny-high", Point: Point{State: exposure.StateSunny, ExposurePercent: 100, Confidence: 80}},
	}

	Rank(results)

	ids := []string{results[0].PatioID, results[1].PatioID, results[2].PatioID, results[3].PatioID}
	require.Equal(t, []string{"sunny-high", "sunny-low", "partial", "shaded"}, ids)
}
