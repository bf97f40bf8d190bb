package shadow

import (
	"math"
	"sort"
)

type edge struct {
	a, b vec
	bb   box
}

type interval struct {
	lo, hi float64
}

func edgesOf(s shape) []edge {
	var out []edge
	for _, r := range s {
		for i := range r {
			a, b := r[i], r[(i+1)%len(r)]
			out = append(out, edge{a: a, b: b, bb: emptyBox().extend(a).extend(b)})
		}
	}
	return out
}

// coveredArea returns the area of (union of shapes) ∩ target and the area of
// target, both in square meters.
//
// The plane is cut into vertical slabs at every vertex and every edge crossing.
// Inside a slab no two edges cross, so every interval endpoint is linear in x
// and evaluating the cross-section at the slab midpoint gives the exact area.
func coveredArea(target shape, shapes []shape) (float64, float64) {
	tb := target.bounds()
	targetEdges := edgesOf(target)

	type clipped struct {
		edges []edge
	}
	var relevant []clipped
	for _, s := range shapes {
		if !s.bounds().intersects(tb) {
			continue
		}
		// keep every edge spanning the target's x range; dropping edges by y
		// would break even-odd pairing on the sweep line
		var es []edge
		for _, e := range edgesOf(s) {
			if e.bb.minX <= tb.maxX && e.bb.maxX >= tb.minX {
				es = append(es, e)
			}
		}
		if len(es) > 0 {
			relevant = append(relevant, clipped{edges: es})
		}
	}

	xs := make([]float64, 0, 64)
	addX := func(x float64) {
		if x >= tb.minX && x <= tb.maxX {
			xs = append(xs, x)
		}
	}
	all := append([]edge(nil), targetEdges...)
	for _, c := range relevant {
		all = append(all, c.edges...)
	}
	for _, e := range all {
		addX(e.a.x)
		addX(e.b.x)
	}
	if len(relevant) > 0 {
		for i := 0; i < len(all); i++ {
			for j := i + 1; j < len(all); j++ {
				if x, ok := crossingX(all[i], all[j]); ok {
					addX(x)
				}
			}
		}
	}
	sort.Float64s(xs)

	var covered, total float64
	var shadowSpans []interval
	for i := 0; i+1 < len(xs); i++ {
		x0, x1 := xs[i], xs[i+1]
		width := x1 - x0
		if width <= vertexEps {
			continue
		}
		xm := (x0 + x1) / 2
		targetSpans := spansAt(targetEdges, xm)
		if len(targetSpans) == 0 {
			continue
		}
		total += spanLength(targetSpans) * width
		if len(relevant) == 0 {
			continue
		}
		shadowSpans = shadowSpans[:0]
		for _, c := range relevant {
			shadowSpans = append(shadowSpans, spansAt(c.edges, xm)...)
		}
		covered += overlapLength(mergeSpans(shadowSpans), targetSpans) * width
	}
	return covered, total
}

// crossingX returns the x coordinate where two edges cross, if they do.
func crossingX(e, f edge) (float64, bool) {
	if !e.bb.intersects(f.bb) {
		return 0, false
	}
	r := e.b.sub(e.a)
	s := f.b.sub(f.a)
	denom := r.cross(s)
	if math.Abs(denom) < 1e-12 {
		return 0, false
	}
	qp := f.a.sub(e.a)
	t := qp.cross(s) / denom
	u := qp.cross(r) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, false
	}
	return e.a.x + t*r.x, true
}

// spansAt intersects the vertical line at x with an even-odd edge set.
func spansAt(edges []edge, x float64) []interval {
	var ys []float64
	for _, e := range edges {
		if (e.a.x < x) == (e.b.x < x) {
			continue
		}
		t := (x - e.a.x) / (e.b.x - e.a.x)
		ys = append(ys, e.a.y+t*(e.b.y-e.a.y))
	}
	if len(ys) < 2 {
		return nil
	}
	sort.Float64s(ys)
	out := make([]interval, 0, len(ys)/2)
	for i := 0; i+1 < len(ys); i += 2 {
		out = append(out, interval{ys[i], ys[i+1]})
	}
	return out
}

// mergeSpans unions intervals in place and returns them sorted and disjoint.
func mergeSpans(in []interval) []interval {
	if len(in) < 2 {
		return in
	}
	sort.Slice(in, func(i, j int) bool { return in[i].lo < in[j].lo })
	out := in[:1]
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if iv.lo <= last.hi {
			last.hi = math.Max(last.hi, iv.hi)
			continue
		}
		out = append(out, iv)
	}
	return out
}

func spanLength(in []interval) float64 {
	var sum float64
	for _, iv := range in {
		sum += iv.hi - iv.lo
	}
	return sum
}

// overlapLength measures the intersection of two sorted disjoint interval lists.
func overlapLength(a, b []interval) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := math.Max(a[i].lo, b[j].lo)
		hi := math.Min(a[i].hi, b[j].hi)
		if hi > lo {
			sum += hi - lo
		}
		if a[i].hi < b[j].hi {
			i++
		} else {
			j++
		}
	}
	return sum
}
