package venue

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// HeightSource tags where a building height came from.
type HeightSource string

const (
	HeightSourceSurveyed  HeightSource = "surveyed"
	HeightSourceOsm       HeightSource = "osm"
	HeightSourceHeuristic HeightSource = "heuristic"
)

// Priority orders sources; higher wins. Unknown sources rank below Heuristic.
func (s HeightSource) Priority() int {
	switch s {
	case HeightSourceSurveyed:
		return 3
	case HeightSourceOsm:
		return 2
	case HeightSourceHeuristic:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the known sources.
func (s HeightSource) Valid() bool {
	return s.Priority() > 0
}

// HeightCandidate is one competing height measurement.
type HeightCandidate struct {
	Source HeightSource `json:"source"`
	Meters float64      `json:"meters"`
}

// Building is an immutable obstruction footprint with height data.
type Building struct {
	ID           string            `json:"id"`
	Footprint    orb.Polygon       `json:"-"`
	Height       float64           `json:"height"`
	HeightSource HeightSource      `json:"heightSource"`
	Heights      []HeightCandidate `json:"heights,omitempty"`
	Levels       int               `json:"levels,omitempty"`
}

// Bound returns the footprint bounding box.
func (b Building) Bound() orb.Bound {
	return b.Footprint.Bound()
}

// Patio is an outdoor seating area.
type Patio struct {
	ID      string      `json:"id"`
	VenueID string      `json:"venueId"`
	Name    string      `json:"name"`
	Polygon orb.Polygon `json:"-"`
	// QualityScore in [0,1] reflects how carefully the polygon was drawn.
	QualityScore float64 `json:"qualityScore"`
	// HeightOverride is the patio surface height above street level, for roof terraces and balconies.
	HeightOverride *float64  `json:"heightOverride,omitempty"`
	Orientation    string    `json:"orientation,omitempty"`
	ReviewNeeded   bool      `json:"reviewNeeded"`
	Active         bool      `json:"active"`
	Timezone       string    `json:"timezone,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Centroid returns the area centroid of the patio polygon.
func (p Patio) Centroid() orb.Point {
	if len(p.Polygon) == 0 || len(p.Polygon[0]) == 0 {
		return orb.Point{}
	}
	c, area := planar.CentroidArea(p.Polygon)
	if area == 0 {
		return p.Polygon.Bound().Center()
	}
	return c
}

// SurfaceHeight returns the patio surface elevation, zero when unset.
func (p Patio) SurfaceHeight() float64 {
	if p.HeightOverride == nil || *p.HeightOverride < 0 {
		return 0
	}
	return *p.HeightOverride
}
