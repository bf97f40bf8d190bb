package weather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/sunspot/internal/domain/venue"
	apperrors "github.com/yanqian/sunspot/pkg/errors"
	"github.com/yanqian/sunspot/pkg/util"
)

type stubStore struct {
	mu       sync.Mutex
	slices   []Slice
	rangeErr error
	pruned   time.Time
}

func (s *stubStore) Append(_ context.Context, slices []Slice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices = append(s.slices, slices...)
	return nil
}

func (s *stubStore) Range(_ context.Context, cellID string, from, to time.Time) ([]Slice, error) {
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Slice
	for _, sl := range s.slices {
		if sl.CellID == cellID && !sl.Timestamp.Before(from) && !sl.Timestamp.After(to) {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *stubStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.pruned = before
	return 2, nil
}

type stubProvider struct {
	name  string
	err   error
	cloud float64
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(_ context.Context, cell Cell, from, to time.Time) ([]Slice, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []Slice
	for t := from.Truncate(time.Hour); !t.After(to); t = t.Add(time.Hour) {
		out = append(out, Slice{Timestamp: t, CloudCover: p.cloud, Certainty: 0.8, Source: p.name, IsForecast: true})
	}
	return out, nil
}

var now = time.Date(2025, time.June, 21, 10, 0, 0, 0, time.UTC)

func newTestService(store Store, providers ...Provider) *Service {
	return NewService(DefaultConfig(), store, providers, util.FixedClock(now), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSeriesAtPicksLatestAtOrBefore(t *testing.T) {
	base := now
	series := Series{Mode: ModeStored, MaxAge: 2 * time.Hour, Slices: []Slice{
		{Timestamp: base, CloudCover: 0.1},
		{Timestamp: base.Add(time.Hour), CloudCover: 0.2},
		{Timestamp: base.Add(2 * time.Hour), CloudCover: 0.3},
	}}

	_, ok := series.At(base.Add(-time.Minute))
	require.False(t, ok)

	got, ok := series.At(base.Add(90 * time.Minute))
	require.True(t, ok)
	require.Equal(t, 0.2, got.CloudCover)

	got, ok = series.At(base.Add(time.Hour))
	require.True(t, ok)
	require.Equal(t, 0.2, got.CloudCover)

	_, ok = series.At(base.Add(5 * time.Hour))
	require.False(t, ok)
}

func TestSortSlicesKeepsNewestFetch(t *testing.T) {
	old := Slice{Timestamp: now, CloudCover: 0.9, FetchedAt: now.Add(-time.Hour)}
	fresh := Slice{Timestamp: now, CloudCover: 0.1, FetchedAt: now}
	earlier := Slice{Timestamp: now.Add(-time.Hour)}

	got := sortSlices([]Slice{fresh, earlier, old})

	require.Len(t, got, 2)
	require.Equal(t, earlier.Timestamp, got[0].Timestamp)
	require.Equal(t, 0.1, got[1].CloudCover)
}

func TestLoadUsesStoredSlicesWithoutFetching(t *testing.T) {
	cell := CellFor(57.7089, 11.9746)
	store := &stubStore{}
	for h := -3; h <= 6; h++ {
		store.slices = append(store.slices, Slice{CellID: cell.ID, Timestamp: now.Add(time.Duration(h) * time.Hour), CloudCover: 0.4})
	}
	primary := &stubProvider{name: "primary"}
	svc := newTestService(store, primary)

	series := svc.Load(context.Background(), 57.7089, 11.9746, now, now.Add(6*time.Hour))

	require.Equal(t, ModeStored, series.Mode)
	require.Zero(t, primary.calls)
}

func TestLoadFallsBackToSecondary(t *testing.T) {
	store := &stubStore{}
	primary := &stubProvider{name: "primary", err: errors.New("503")}
	secondary := &stubProvider{name: "secondary", cloud: 0.25}
	svc := newTestService(store, primary, secondary)

	series := svc.Load(context.Background(), 57.7089, 11.9746, now, now.Add(4*time.Hour))

	require.Equal(t, ModeLive, series.Mode)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, secondary.calls)
	got, ok := series.At(now.Add(30 * time.Minute))
	require.True(t, ok)
	require.Equal(t, "secondary", got.Source)
	require.Equal(t, 0.25, got.CloudCover)
	require.NotEmpty(t, store.slices)
	require.Equal(t, series.Cell.ID, store.slices[0].CellID)
}

func TestLoadDegradesToEstimatedMode(t *testing.T) {
	svc := newTestService(&stubStore{rangeErr: errors.New("db down")},
		&stubProvider{name: "primary", err: errors.New("timeout")},
		&stubProvider{name: "secondary", err: errors.New("timeout")})

	series := svc.Load(context.Background(), 57.7089, 11.9746, now, now.Add(time.Hour))

	require.True(t, series.Degraded())
	require.NotEmpty(t, series.Notes)
	got, ok := series.At(now.Add(20 * time.Minute))
	require.True(t, ok)
	require.Equal(t, 0.5, got.CloudCover)
	require.Equal(t, 0.3, got.Certainty)
}

func TestFetchReportsProviderUnavailable(t *testing.T) {
	svc := newTestService(&stubStore{}, &stubProvider{name: "primary", err: errors.New("down")})

	_, err := svc.fetch(context.Background(), CellFor(0, 0), now, now.Add(time.Hour))

	require.True(t, apperrors.IsCode(err, apperrors.CodeProviderUnavailable))
}

func TestIngestPatiosDeduplicatesCells(t *testing.T) {
	store := &stubStore{}
	provider := &stubProvider{name: "primary", cloud: 0.1}
	svc := newTestService(store, provider)
	square := func(lon, lat float64) orb.Polygon {
		return orb.Polygon{{{lon, lat}, {lon + 0.0001, lat}, {lon + 0.0001, lat + 0.0001}, {lon, lat + 0.0001}, {lon, lat}}}
	}
	patios := []venue.Patio{
		{ID: "a", Polygon: square(11.97, 57.70)},
		{ID: "b", Polygon: square(11.971, 57.701)},
		{ID: "c", Polygon: square(18.06, 59.33)},
	}

	report := svc.IngestPatios(context.Background(), patios)

	require.Equal(t, 2, report.Cells)
	require.Zero(t, report.Failed)
	require.Equal(t, 2, provider.calls)
	require.Greater(t, report.Slices, 0)
}

func TestPruneUsesRetention(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(store)

	removed, err := svc.Prune(context.Background())

	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.Equal(t, now.Add(-7*24*time.Hour), store.pruned)
}

func TestCellFor(t *testing.T) {
	a := CellFor(57.7089, 11.9746)
	b := CellFor(57.75, 11.91)
	c := CellFor(-33.86, 151.2)

	require.Equal(t, a.ID, b.ID)
	require.InDelta(t, 57.75, a.Latitude, 1e-9)
	require.InDelta(t, 11.95, a.Longitude, 1e-9)
	require.NotEqual(t, a.ID, c.ID)
}
