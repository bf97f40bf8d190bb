package venuerepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/sunspot/internal/domain/venue"
)

func box(lon, lat, size float64) orb.Polygon {
	return orb.Polygon{{{lon, lat}, {lon + size, lat}, {lon + size, lat + size}, {lon, lat + size}, {lon, lat}}}
}

func TestBuildingsWithinUsesIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.UpsertBuilding(ctx, venue.Building{ID: "near", Footprint: box(11.970, 57.700, 0.0002)}))
	require.NoError(t, repo.UpsertBuilding(ctx, venue.Building{ID: "far", Footprint: box(12.100, 57.800, 0.0002)}))

	got, err := repo.BuildingsWithin(ctx, orb.Bound{Min: orb.Point{11.969, 57.699}, Max: orb.Point{11.971, 57.701}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "near", got[0].ID)

	require.NoError(t, repo.UpsertBuilding(ctx, venue.Building{ID: "near", Footprint: box(12.100, 57.800, 0.0002)}))
	got, err = repo.BuildingsWithin(ctx, orb.Bound{Min: orb.Point{11.969, 57.699}, Max: orb.Point{11.971, 57.701}})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPatioLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.UpsertPatio(ctx, venue.Patio{ID: "b", Active: true, Polygon: box(0, 0, 1)}))
	require.NoError(t, repo.UpsertPatio(ctx, venue.Patio{ID: "a", Active: true, Polygon: box(0, 0, 1)}))
	require.NoError(t, repo.UpsertPatio(ctx, venue.Patio{ID: "closed", Active: false, Polygon: box(0, 0, 1)}))

	_, err := repo.GetPatio(ctx, "missing")
	require.ErrorIs(t, err, venue.ErrPatioNotFound)

	active, err := repo.ListActivePatios(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "a", active[0].ID)
}

const seed = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"kind": "patio", "id": "p1", "name": "Terrace", "qualityScore": 0.9, "heightOverride": 4, "timezone": "Europe/Stockholm"},
      "geometry": {"type": "Polygon", "coordinates": [[[11.9746,57.7089],[11.9747,57.7089],[11.9747,57.7090],[11.9746,57.7090],[11.9746,57.7089]]]}
    },
    {
      "type": "Feature",
      "properties": {"kind": "building", "id": "b1", "height": 12, "heightSource": "surveyed", "heights": [{"source": "osm", "meters": 11}]},
      "geometry": {"type": "Polygon", "coordinates": [[[11.9746,57.7087],[11.9747,57.7087],[11.9747,57.7088],[11.9746,57.7088],[11.9746,57.7087]]]}
    },
    {
      "type": "Feature",
      "properties": {"kind": "building", "id": "b2", "levels": 4},
      "geometry": {"type": "MultiPolygon", "coordinates": [
        [[[11.9750,57.7087],[11.9751,57.7087],[11.9751,57.7088],[11.9750,57.7087]]],
        [[[11.9752,57.7087],[11.9753,57.7087],[11.9753,57.7088],[11.9752,57.7087]]]
      ]}
    }
  ]
}`

func TestDecodeFeatures(t *testing.T) {
	patios, buildings, err := DecodeFeatures([]byte(seed))
	require.NoError(t, err)

	require.Len(t, patios, 1)
	p := patios[0]
	require.Equal(t, "p1", p.ID)
	require.True(t, p.Active)
	require.NotNil(t, p.HeightOverride)
	require.Equal(t, 4.0, *p.HeightOverride)
	require.Equal(t, 0.9, p.QualityScore)

	require.Len(t, buildings, 3)
	require.Equal(t, venue.HeightSourceSurveyed, buildings[0].HeightSource)
	require.Equal(t, []venue.HeightCandidate{{Source: venue.HeightSourceOsm, Meters: 11}}, buildings[0].Heights)
	require.Equal(t, "b2#0", buildings[1].ID)
	require.Equal(t, 4, buildings[2].Levels)
}

func TestDecodeFeaturesRejectsUnknownKind(t *testing.T) {
	_, _, err := DecodeFeatures([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"id":"x","kind":"tree"},"geometry":{"type":"Point","coordinates":[0,0]}}]}`))
	require.Error(t, err)
}

func TestSeedLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venues.geojson")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))
	repo := NewMemoryRepository()

	patios, buildings, err := repo.Seed(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, patios)
	require.Equal(t, 3, buildings)

	p, err := repo.GetPatio(context.Background(), "p1")
	require.NoError(t, err)
	found, err := repo.BuildingsWithin(context.Background(), p.Polygon.Bound().Pad(0.001))
	require.NoError(t, err)
	require.Len(t, found, 3)
}
