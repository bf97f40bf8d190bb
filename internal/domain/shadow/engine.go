package shadow

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/yanqian/sunspot/internal/domain/building"
	"github.com/yanqian/sunspot/internal/domain/solar"
	"github.com/yanqian/sunspot/internal/domain/venue"
	apperrors "github.com/yanqian/sunspot/pkg/errors"
	"github.com/yanqian/sunspot/pkg/metrics"
)

// Config bounds shadow geometry.
type Config struct {
	// MaxShadowLength caps projected shadows and the candidate search radius, meters.
	MaxShadowLength float64
	// MaxBuildingHeight is the tallest obstruction expected in the dataset, meters.
	MaxBuildingHeight float64
	// MinElevation is the lowest sun elevation the search radius must cover, degrees.
	MinElevation float64
	// ZenithElevation is the elevation above which shadows collapse onto footprints, degrees.
	ZenithElevation float64
}

// DefaultConfig returns production bounds.
func DefaultConfig() Config {
	return Config{
		MaxShadowLength:   500,
		MaxBuildingHeight: 60,
		MinElevation:      5,
		ZenithElevation:   89.9,
	}
}

// SearchRadius is the distance, in meters, within which a building can shade the patio.
func (c Config) SearchRadius() float64 {
	radius := c.MaxShadowLength
	if c.MaxBuildingHeight > 0 && c.MinElevation > 0 && c.MinElevation < 90 {
		radius = math.Min(radius, c.MaxBuildingHeight/math.Tan(c.MinElevation*math.Pi/180))
	}
	return radius
}

// ShadowLength is the ground shadow of an obstruction of the given height:
// zero with the sun overhead, unbounded at or below the horizon.
func ShadowLength(height, elevationDeg float64) float64 {
	if height <= 0 || elevationDeg >= 90 {
		return 0
	}
	if elevationDeg <= 0 {
		return math.Inf(1)
	}
	return height / math.Tan(elevationDeg*math.Pi/180)
}

// Failure records a building dropped from the union.
type Failure struct {
	BuildingID string `json:"buildingId"`
	Reason     string `json:"reason"`
}

type obstacle struct {
	id        string
	footprint shape
	convex    bool
	height    float64
	source    venue.HeightSource
	bb        box
}

// Scene is a patio and its validated obstructions, projected once and reused per tick.
type Scene struct {
	PatioID  string
	Origin   orb.Point
	Failures []Failure

	patio     shape
	patioBox  box
	patioArea float64
	obstacles []obstacle
}

// Observer is the sun observer at the patio.
func (s *Scene) Observer() solar.Observer {
	return solar.Observer{Latitude: s.Origin.Lat(), Longitude: s.Origin.Lon()}
}

// BuildingCount is the number of obstructions considered.
func (s *Scene) BuildingCount() int {
	return len(s.obstacles)
}

// Sources lists the height source of every considered obstruction.
func (s *Scene) Sources() []venue.HeightSource {
	out := make([]venue.HeightSource, 0, len(s.obstacles))
	for _, o := range s.obstacles {
		out = append(out, o.source)
	}
	return out
}

// Result is the patio coverage for one sun position.
type Result struct {
	ShadedFraction float64            `json:"shadedFraction"`
	Contributing   []string           `json:"contributing,omitempty"`
	HeightSource   venue.HeightSource `json:"heightSource"`
}

// Engine projects building shadows onto patios.
type Engine struct {
	cfg     Config
	heights *building.Manager
	metrics *metrics.Engine
	logger  *slog.Logger
}

// NewEngine constructs the shadow engine.
func NewEngine(cfg Config, heights *building.Manager, m *metrics.Engine, logger *slog.Logger) *Engine {
	if cfg.MaxShadowLength <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.ZenithElevation <= 0 || cfg.ZenithElevation > 90 {
		cfg.ZenithElevation = DefaultConfig().ZenithElevation
	}
	if heights == nil {
		heights = building.NewManager(building.DefaultConfig())
	}
	return &Engine{
		cfg:     cfg,
		heights: heights,
		metrics: m,
		logger:  logger.With("component", "shadow.engine"),
	}
}

// SearchBound is the geographic box in which candidate buildings must be fetched.
func (e *Engine) SearchBound(p venue.Patio) orb.Bound {
	return geo.BoundPad(p.Polygon.Bound(), e.cfg.SearchRadius())
}

// Prepare projects and validates the patio and its candidate buildings. A
// malformed patio is a computation error; a malformed building is excluded
// and recorded in Scene.Failures.
func (e *Engine) Prepare(p venue.Patio, buildings []venue.Building) (*Scene, error) {
	origin := p.Centroid()
	proj := newProjection(origin)
	patio, err := proj.polygon(p.Polygon)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeComputation, fmt.Sprintf("patio %s has invalid geometry", p.ID), err)
	}
	area := patio.area()
	if area < areaEps {
		return nil, apperrors.Wrap(apperrors.CodeComputation, fmt.Sprintf("patio %s has invalid geometry", p.ID), errZeroArea)
	}

	scene := &Scene{
		PatioID:   p.ID,
		Origin:    origin,
		patio:     patio,
		patioBox:  patio.bounds(),
		patioArea: area,
	}
	radius := e.cfg.SearchRadius()
	surface := p.SurfaceHeight()
	for _, b := range buildings {
		footprint, err := proj.polygon(b.Footprint)
		if err != nil {
			scene.Failures = append(scene.Failures, Failure{BuildingID: b.ID, Reason: err.Error()})
			e.logger.Warn("building excluded from shadow casting", "building_id", b.ID, "patio_id", p.ID, "error", err)
			continue
		}
		bb := footprint.bounds()
		if bb.distance(scene.patioBox) > radius {
			continue
		}
		res := e.heights.Resolve(b)
		effective := res.Height - surface
		if effective <= 0 {
			continue
		}
		scene.obstacles = append(scene.obstacles, obstacle{
			id:        b.ID,
			footprint: footprint,
			convex:    len(footprint) == 1 && isConvex(footprint[0]),
			height:    effective,
			source:    res.Source,
			bb:        bb,
		})
	}
	e.metrics.RecordShadowFailures(len(scene.Failures))
	return scene, nil
}

// Cast computes the shaded fraction of the scene's patio for one sun position.
func (e *Engine) Cast(scene *Scene, pos solar.Position) Result {
	if pos.Elevation <= 0 {
		return Result{ShadedFraction: 1, HeightSource: worstSource(nil)}
	}

	az := pos.Azimuth * math.Pi / 180
	dir := vec{-math.Sin(az), -math.Cos(az)}

	var (
		shapes   []shape
		owners   []int
		touching []int
	)
	for i, o := range scene.obstacles {
		offset := dir.scale(e.length(o.height, pos.Elevation))
		if !o.bb.union(o.bb.translate(offset)).intersects(scene.patioBox) {
			continue
		}
		touching = append(touching, i)
		for _, s := range o.shadow(offset) {
			shapes = append(shapes, s)
			owners = append(owners, i)
		}
	}
	if len(shapes) == 0 {
		return Result{HeightSource: worstSource(nil)}
	}

	covered, total := coveredArea(scene.patio, shapes)
	if total <= 0 {
		total = scene.patioArea
	}
	fraction := math.Max(0, math.Min(1, covered/total))

	minContribution := math.Max(areaEps, total*1e-6)
	var contributing []string
	var sources []venue.HeightSource
	for _, idx := range touching {
		var own []shape
		for k, s := range shapes {
			if owners[k] == idx {
				own = append(own, s)
			}
		}
		if len(touching) > 1 {
			if part, _ := coveredArea(scene.patio, own); part <= minContribution {
				continue
			}
		} else if covered <= minContribution {
			continue
		}
		contributing = append(contributing, scene.obstacles[idx].id)
		sources = append(sources, scene.obstacles[idx].source)
	}

	// Buildings whose shadow misses the patio do not weaken its geometry.
	return Result{ShadedFraction: fraction, Contributing: contributing, HeightSource: worstSource(sources)}
}

func (e *Engine) length(height, elevation float64) float64 {
	if elevation >= e.cfg.ZenithElevation {
		return 0
	}
	return math.Min(ShadowLength(height, elevation), e.cfg.SearchRadius())
}

// shadow returns the shapes whose union is the area swept by the footprint
// moving along offset.
func (o obstacle) shadow(offset vec) []shape {
	if math.Hypot(offset.x, offset.y) < vertexEps {
		return []shape{o.footprint}
	}
	moved := o.footprint.translate(offset)
	if o.convex {
		pts := make([]vec, 0, 2*len(o.footprint[0]))
		pts = append(pts, o.footprint[0]...)
		pts = append(pts, moved[0]...)
		return []shape{{convexHull(pts)}}
	}
	out := []shape{o.footprint, moved}
	for ri, r := range o.footprint {
		for i := range r {
			a, b := r[i], r[(i+1)%len(r)]
			a2, b2 := moved[ri][i], moved[ri][(i+1)%len(r)]
			out = append(out, shape{{a, b, b2, a2}})
		}
	}
	return out
}

// worstSource returns the least trustworthy source, Osm when there is none.
func worstSource(sources []venue.HeightSource) venue.HeightSource {
	if len(sources) == 0 {
		return venue.HeightSourceOsm
	}
	worst := sources[0]
	for _, s := range sources[1:] {
		if s.Priority() < worst.Priority() {
			worst = s
		}
	}
	return worst
}
