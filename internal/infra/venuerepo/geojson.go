package venuerepo

import (
	"context"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/yanqian/sunspot/internal/domain/venue"
)

// Feature kinds recognised in seed files.
const (
	KindPatio    = "patio"
	KindBuilding = "building"
)

// DecodeFeatures splits a GeoJSON FeatureCollection into patios and
// buildings using the "kind" property. Building multipolygons become one
// building per part.
func DecodeFeatures(data []byte) ([]venue.Patio, []venue.Building, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse feature collection: %w", err)
	}
	var (
		patios    []venue.Patio
		buildings []venue.Building
	)
	for i, f := range fc.Features {
		props := f.Properties
		id := props.MustString("id", "")
		if id == "" {
			if s, ok := f.ID.(string); ok {
				id = s
			}
		}
		if id == "" {
			return nil, nil, fmt.Errorf("feature %d has no id", i)
		}
		switch kind := props.MustString("kind", ""); kind {
		case KindPatio:
			poly, ok := f.Geometry.(orb.Polygon)
			if !ok {
				return nil, nil, fmt.Errorf("patio %s must be a polygon, got %s", id, f.Geometry.GeoJSONType())
			}
			patios = append(patios, patioFromProperties(id, poly, props))
		case KindBuilding:
			switch g := f.Geometry.(type) {
			case orb.Polygon:
				buildings = append(buildings, buildingFromProperties(id, g, props))
			case orb.MultiPolygon:
				for part, poly := range g {
					buildings = append(buildings, buildingFromProperties(fmt.Sprintf("%s#%d", id, part), poly, props))
				}
			default:
				return nil, nil, fmt.Errorf("building %s must be a polygon, got %s", id, f.Geometry.GeoJSONType())
			}
		default:
			return nil, nil, fmt.Errorf("feature %s has unknown kind %q", id, kind)
		}
	}
	return patios, buildings, nil
}

// Seed loads a GeoJSON file into the memory repository.
func (r *MemoryRepository) Seed(ctx context.Context, path string) (int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read seed file: %w", err)
	}
	patios, buildings, err := DecodeFeatures(data)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range patios {
		if err := r.UpsertPatio(ctx, p); err != nil {
			return 0, 0, err
		}
	}
	for _, b := range buildings {
		if err := r.UpsertBuilding(ctx, b); err != nil {
			return 0, 0, err
		}
	}
	return len(patios), len(buildings), nil
}

func patioFromProperties(id string, poly orb.Polygon, props geojson.Properties) venue.Patio {
	p := venue.Patio{
		ID:           id,
		VenueID:      props.MustString("venueId", ""),
		Name:         props.MustString("name", ""),
		Polygon:      poly,
		QualityScore: props.MustFloat64("qualityScore", 0.5),
		Orientation:  props.MustString("orientation", ""),
		ReviewNeeded: props.MustBool("reviewNeeded", false),
		Active:       props.MustBool("active", true),
		Timezone:     props.MustString("timezone", ""),
	}
	if _, ok := props["heightOverride"]; ok {
		h := props.MustFloat64("heightOverride", 0)
		p.HeightOverride = &h
	}
	return p
}

func buildingFromProperties(id string, poly orb.Polygon, props geojson.Properties) venue.Building {
	b := venue.Building{
		ID:           id,
		Footprint:    poly,
		Height:       props.MustFloat64("height", 0),
		HeightSource: venue.HeightSource(props.MustString("heightSource", string(venue.HeightSourceOsm))),
		Levels:       props.MustInt("levels", 0),
	}
	if raw, ok := props["heights"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			src, _ := m["source"].(string)
			meters, _ := m["meters"].(float64)
			b.Heights = append(b.Heights, venue.HeightCandidate{Source: venue.HeightSource(src), Meters: meters})
		}
	}
	return b
}
