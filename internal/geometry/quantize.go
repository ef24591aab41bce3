package geometry

import (
	"math"

	"github.com/paulmach/orb"
)

// QuantizeCoordinates returns a copy of g with every coordinate trimmed to
// the significant bits needed for digits decimal places. This matches
// ST_QuantizeCoordinates: the result still rounds to the input at digits
// places but compresses far better.
func QuantizeCoordinates(g orb.Geometry, digits int) orb.Geometry {
	return mapPoints(g, func(p orb.Point) orb.Point {
		return orb.Point{quantizeValue(p[0], digits), quantizeValue(p[1], digits)}
	})
}

// RoundCoordinates returns a copy of g rounded to decimals places, the
// precision GeoJSON output is written with.
func RoundCoordinates(g orb.Geometry, decimals int) orb.Geometry {
	scale := math.Pow(10, float64(decimals))
	return mapPoints(g, func(p orb.Point) orb.Point {
		return orb.Point{math.Round(p[0]*scale) / scale, math.Round(p[1]*scale) / scale}
	})
}

func quantizeValue(d float64, digits int) float64 {
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return d
	}

	// digits left of the decimal point, truncated toward zero
	left := int(1 + math.Log10(math.Abs(d)))
	bits := int(math.Ceil(float64(digits+left) / math.Log10(2)))
	if bits >= 52 {
		return d
	}
	if bits < 0 {
		bits = 0
	}

	mask := ^uint64(0) << uint(52-bits)
	return math.Float64frombits(math.Float64bits(d) & mask)
}

// mapPoints rebuilds g with f applied to every point. The input is never
// modified.
func mapPoints(g orb.Geometry, f func(orb.Point) orb.Point) orb.Geometry {
	switch v := g.(type) {
	case nil:
		return nil
	case orb.Point:
		return f(v)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(v))
		for i, p := range v {
			out[i] = f(p)
		}
		return out
	case orb.LineString:
		return orb.LineString(mapPoints(orb.MultiPoint(v), f).(orb.MultiPoint))
	case orb.Ring:
		return orb.Ring(mapPoints(orb.MultiPoint(v), f).(orb.MultiPoint))
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = mapPoints(ls, f).(orb.LineString)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(v))
		for i, r := range v {
			out[i] = mapPoints(r, f).(orb.Ring)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = mapPoints(p, f).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, c := range v {
			out[i] = mapPoints(c, f)
		}
		return out
	case orb.Bound:
		return orb.Bound{Min: f(v.Min), Max: f(v.Max)}
	default:
		return g
	}
}
