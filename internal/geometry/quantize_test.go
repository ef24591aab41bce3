package geometry

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestQuantizeValue_ErrorBound(t *testing.T) {
	values := []float64{
		-17.123456789, 12.6534219, 0.000123456, 0.5, -0.05, 179.99999999, -89.123, 1234567.891, 3.14159265358979,
	}
	for digits := 0; digits <= 8; digits++ {
		bound := math.Pow(10, -float64(digits))
		for _, v := range values {
			q := quantizeValue(v, digits)
			assert.Less(t, math.Abs(q-v), bound, "value %v digits %d quantized to %v", v, digits, q)
			assert.LessOrEqual(t, math.Abs(q), math.Abs(v), "quantizing must not grow the magnitude")
		}
	}
}

func TestQuantizeValue_DropsBits(t *testing.T) {
	v := 12.345678901234
	q := quantizeValue(v, 3)
	assert.NotEqual(t, v, q)
	// the unused low mantissa bits are zero
	assert.Zero(t, math.Float64bits(q)&0xFFFFFFFF)
}

func TestQuantizeValue_Special(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		digits int
	}{
		{"zero", 0, 5},
		{"needs every bit", 1e20, 5},
		{"high precision", 0.1, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.value, quantizeValue(tt.value, tt.digits))
		})
	}

	assert.True(t, math.IsNaN(quantizeValue(math.NaN(), 3)))
	assert.True(t, math.IsInf(quantizeValue(math.Inf(1), 3), 1))
}

func TestQuantizeCoordinates_LeavesInputUntouched(t *testing.T) {
	poly := orb.Polygon{{{-8.0123456789, 12.6543210987}, {-8.0, 12.7}, {-7.9, 12.6}, {-8.0123456789, 12.6543210987}}}
	before := orb.Clone(poly).(orb.Polygon)

	out := Dequantize(QuantizeCoordinates(poly, 4)).(orb.Polygon)

	assert.Equal(t, before, poly)
	assert.Len(t, out, 1)
	assert.Len(t, out[0], 4)
	for i, p := range out[0] {
		assert.InDelta(t, poly[0][i][0], p[0], 1e-4)
		assert.InDelta(t, poly[0][i][1], p[1], 1e-4)
	}
}

func TestQuantizeCoordinates_Types(t *testing.T) {
	geoms := []orb.Geometry{
		orb.Point{1.123456, 2.654321},
		orb.MultiPoint{{1.123456, 2.654321}},
		orb.LineString{{0.123456, 0}, {1.654321, 1}},
		orb.MultiLineString{{{0.123456, 0}, {1.654321, 1}}},
		orb.MultiPolygon{{{{0, 0}, {1.123456, 0}, {1, 1}, {0, 0}}}},
		orb.Collection{orb.Point{1.123456, 2}},
	}
	for _, g := range geoms {
		t.Run(g.GeoJSONType(), func(t *testing.T) {
			out := QuantizeCoordinates(g, 2)
			assert.Equal(t, g.GeoJSONType(), out.GeoJSONType())
		})
	}
	assert.Nil(t, QuantizeCoordinates(nil, 2))
}

func TestRoundCoordinates(t *testing.T) {
	out := RoundCoordinates(orb.LineString{{1.23456789, -2.98765432}, {0, 0}}, 6).(orb.LineString)
	assert.Equal(t, orb.LineString{{1.234568, -2.987654}, {0, 0}}, out)
}

func TestToMulti(t *testing.T) {
	ring := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	tests := []struct {
		name string
		in   orb.Geometry
		want orb.Geometry
	}{
		{"point", orb.Point{1, 2}, orb.MultiPoint{{1, 2}}},
		{"line", orb.LineString{{0, 0}, {1, 1}}, orb.MultiLineString{{{0, 0}, {1, 1}}}},
		{"polygon", orb.Polygon{ring}, orb.MultiPolygon{{ring}}},
		{"ring", ring, orb.MultiPolygon{{ring}}},
		{"already multi", orb.MultiPolygon{{ring}}, orb.MultiPolygon{{ring}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMulti(tt.in))
		})
	}
}
