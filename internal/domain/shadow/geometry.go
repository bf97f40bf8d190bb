package shadow

import (
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

var (
	errTooFewPoints     = errors.New("ring has fewer than three distinct points")
	errNonFinite        = errors.New("ring has non-finite coordinates")
	errZeroArea         = errors.New("ring has zero area")
	errSelfIntersecting = errors.New("ring is self-intersecting")
	errEmptyPolygon     = errors.New("polygon has no rings")
)

// vec is a point in the local metric plane: x east, y north, meters.
type vec struct {
	x, y float64
}

func (a vec) add(b vec) vec { return vec{a.x + b.x, a.y + b.y} }
func (a vec) sub(b vec) vec { return vec{a.x - b.x, a.y - b.y} }
func (a vec) cross(b vec) float64 { return a.x*b.y - a.y*b.x }
func (a vec) scale(k float64) vec { return vec{a.x * k, a.y * k} }
func (a vec) finite() bool { return !math.IsNaN(a.x) && !math.IsNaN(a.y) && !math.IsInf(a.x, 0) && !math.IsInf(a.y, 0) }
func (a vec) near(b vec, eps float64) bool {
	return math.Abs(a.x-b.x) <= eps && math.Abs(a.y-b.y) <= eps
}

// ring is an implicitly closed vertex list.
type ring []vec

// shape is a set of rings combined with the even-odd rule.
type shape []ring

type box struct {
	minX, minY, maxX, maxY float64
}

func emptyBox() box {
	return box{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
}

func (b box) extend(p vec) box {
	return box{math.Min(b.minX, p.x), math.Min(b.minY, p.y), math.Max(b.maxX, p.x), math.Max(b.maxY, p.y)}
}

func (b box) union(o box) box {
	return box{math.Min(b.minX, o.minX), math.Min(b.minY, o.minY), math.Max(b.maxX, o.maxX), math.Max(b.maxY, o.maxY)}
}

func (b box) translate(d vec) box {
	return box{b.minX + d.x, b.minY + d.y, b.maxX + d.x, b.maxY + d.y}
}

func (b box) intersects(o box) bool {
	return b.minX <= o.maxX && o.minX <= b.maxX && b.minY <= o.maxY && o.minY <= b.maxY
}

// distance is the gap between two boxes, zero when they overlap.
func (b box) distance(o box) float64 {
	dx := math.Max(0, math.Max(o.minX-b.maxX, b.minX-o.maxX))
	dy := math.Max(0, math.Max(o.minY-b.maxY, b.minY-o.maxY))
	return math.Hypot(dx, dy)
}

func (s shape) bounds() box {
	b := emptyBox()
	for _, r := range s {
		for _, p := range r {
			b = b.extend(p)
		}
	}
	return b
}

func (s shape) translate(d vec) shape {
	out := make(shape, len(s))
	for i, r := range s {
		moved := make(ring, len(r))
		for j, p := range r {
			moved[j] = p.add(d)
		}
		out[i] = moved
	}
	return out
}

// projection maps lon/lat onto an equirectangular plane tangent at origin.
type projection struct {
	origin orb.Point
	kx, ky float64
}

func newProjection(origin orb.Point) projection {
	ky := orb.EarthRadius * math.Pi / 180
	return projection{origin: origin, kx: ky * math.Cos(origin.Lat()*math.Pi/180), ky: ky}
}

func (p projection) toPlane(pt orb.Point) vec {
	return vec{(pt.Lon() - p.origin.Lon()) * p.kx, (pt.Lat() - p.origin.Lat()) * p.ky}
}

// polygon projects and validates every ring of poly.
func (p projection) polygon(poly orb.Polygon) (shape, error) {
	if len(poly) == 0 {
		return nil, errEmptyPolygon
	}
	out := make(shape, 0, len(poly))
	for _, r := range poly {
		projected := make(ring, 0, len(r))
		for _, pt := range r {
			projected = append(projected, p.toPlane(pt))
		}
		cleaned, err := cleanRing(projected)
		if err != nil {
			return nil, err
		}
		out = append(out, cleaned)
	}
	return out, nil
}

const (
	vertexEps = 1e-9 // meters
	areaEps   = 1e-6 // square meters
)

// cleanRing drops repeated vertices (including the closing point) and checks
// the ring is finite, non-degenerate and simple.
func cleanRing(r ring) (ring, error) {
	out := make(ring, 0, len(r))
	for _, p := range r {
		if !p.finite() {
			return nil, errNonFinite
		}
		if len(out) > 0 && out[len(out)-1].near(p, vertexEps) {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0].near(out[len(out)-1], vertexEps) {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil, errTooFewPoints
	}
	if math.Abs(signedArea(out)) < areaEps {
		return nil, errZeroArea
	}
	if selfIntersects(out) {
		return nil, errSelfIntersecting
	}
	return out, nil
}

func signedArea(r ring) float64 {
	var sum float64
	for i := range r {
		a, b := r[i], r[(i+1)%len(r)]
		sum += a.cross(b)
	}
	return sum / 2
}

// area applies the even-odd rule: the outer ring minus its holes.
func (s shape) area() float64 {
	if len(s) == 0 {
		return 0
	}
	total := math.Abs(signedArea(s[0]))
	for _, hole := range s[1:] {
		total -= math.Abs(signedArea(hole))
	}
	return math.Max(total, 0)
}

func selfIntersects(r ring) bool {
	n := len(r)
	for i := 0; i < n; i++ {
		a1, a2 := r[i], r[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := r[j], r[(j+1)%n]
			if segmentsTouch(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func orient(a, b, c vec) float64 {
	return b.sub(a).cross(c.sub(a))
}

func onSegment(a, b, p vec) bool {
	return math.Min(a.x, b.x)-vertexEps <= p.x && p.x <= math.Max(a.x, b.x)+vertexEps &&
		math.Min(a.y, b.y)-vertexEps <= p.y && p.y <= math.Max(a.y, b.y)+vertexEps
}

func sign(v float64) int {
	switch {
	case v > vertexEps:
		return 1
	case v < -vertexEps:
		return -1
	default:
		return 0
	}
}

// segmentsTouch reports whether closed segments a1a2 and b1b2 share any point.
func segmentsTouch(a1, a2, b1, b2 vec) bool {
	d1 := sign(orient(b1, b2, a1))
	d2 := sign(orient(b1, b2, a2))
	d3 := sign(orient(a1, a2, b1))
	d4 := sign(orient(a1, a2, b2))
	if d1*d2 < 0 && d3*d4 < 0 {
		return true
	}
	return (d1 == 0 && onSegment(b1, b2, a1)) ||
		(d2 == 0 && onSegment(b1, b2, a2)) ||
		(d3 == 0 && onSegment(a1, a2, b1)) ||
		(d4 == 0 && onSegment(a1, a2, b2))
}

func isConvex(r ring) bool {
	n := len(r)
	dir := 0
	for i := 0; i < n; i++ {
		turn := sign(orient(r[i], r[(i+1)%n], r[(i+2)%n]))
		if turn == 0 {
			continue
		}
		if dir == 0 {
			dir = turn
		} else if turn != dir {
			return false
		}
	}
	return true
}

// convexHull returns the hull of pts in counter-clockwise order (monotone chain).
func convexHull(pts []vec) ring {
	sorted := make([]vec, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].x == sorted[j].x {
			return sorted[i].y < sorted[j].y
		}
		return sorted[i].x < sorted[j].x
	})
	if len(sorted) < 3 {
		return sorted
	}
	hull := make(ring, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && orient(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && orient(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
