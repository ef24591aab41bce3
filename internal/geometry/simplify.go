package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// preserveSteps is how many times the preserving simplifier halves the
// tolerance before keeping a ring unchanged.
const preserveSteps = 6

// SimplifyGeometry returns a simplified copy of g.
//
// Without preserve it behaves like ST_Simplify: rings that collapse below
// four points are dropped, and a polygon whose shell collapses disappears.
// With preserve, every ring is simplified at the largest tolerance in
// tolerance, tolerance/2, ... that keeps it closed, non-degenerate, in the
// same orientation and free of self-intersections and of crossings with the
// other rings of its polygon; otherwise the ring is kept as is.
func SimplifyGeometry(g orb.Geometry, tolerance float64, preserve bool) orb.Geometry {
	if tolerance <= 0 || g == nil {
		return orb.Clone(g)
	}

	switch v := g.(type) {
	case orb.Polygon:
		p, ok := simplifyPolygon(v, tolerance, preserve)
		if !ok {
			return orb.Polygon{}
		}
		return p
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for _, p := range v {
			if sp, ok := simplifyPolygon(p, tolerance, preserve); ok {
				out = append(out, sp)
			}
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, 0, len(v))
		for _, c := range v {
			out = append(out, SimplifyGeometry(c, tolerance, preserve))
		}
		return out
	default:
		return simplify.DouglasPeucker(tolerance).Simplify(orb.Clone(g))
	}
}

func simplifyPolygon(p orb.Polygon, tolerance float64, preserve bool) (orb.Polygon, bool) {
	if len(p) == 0 {
		return nil, false
	}

	if !preserve {
		out := make(orb.Polygon, 0, len(p))
		for i, r := range p {
			sr := simplify.DouglasPeucker(tolerance).Ring(r.Clone())
			if len(sr) < 4 {
				if i == 0 {
					return nil, false
				}
				continue
			}
			out = append(out, sr)
		}
		return out, true
	}

	out := make(orb.Polygon, len(p))
	for i := range p {
		out[i] = p[i].Clone()
	}
	for i, r := range p {
		others := make([]orb.Ring, 0, len(out)-1)
		for j := range out {
			if j != i {
				others = append(others, out[j])
			}
		}
		out[i] = preserveRing(r, tolerance, others)
	}
	return out, true
}

func preserveRing(r orb.Ring, tolerance float64, others []orb.Ring) orb.Ring {
	if len(r) <= 4 {
		return r.Clone()
	}

	t := tolerance
	for step := 0; step <= preserveSteps; step++ {
		candidate := simplify.DouglasPeucker(t).Ring(r.Clone())
		if acceptableRing(r, candidate, others) {
			return candidate
		}
		t /= 2
	}
	return r.Clone()
}

func acceptableRing(original, candidate orb.Ring, others []orb.Ring) bool {
	if len(candidate) < 4 || !candidate.Closed() {
		return false
	}
	if candidate.Orientation() != original.Orientation() {
		return false
	}
	if math.Abs(planar.Area(candidate)) == 0 {
		return false
	}
	if selfIntersects(candidate) {
		return false
	}
	for _, o := range others {
		if ringsCross(candidate, o) {
			return false
		}
	}
	return true
}

// selfIntersects reports whether two non-adjacent segments of a closed ring
// touch or cross.
func selfIntersects(r orb.Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				// first and last segments share the closing vertex
				continue
			}
			if segmentsIntersect(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

func ringsCross(a, b orb.Ring) bool {
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

// cross is the z component of (b-a) x (c-a).
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
