// Package geometry provides the spatial operations the area core delegates:
// simplification, coordinate quantization, multi promotion and planar
// topology (faces and shared edges) over a set of area boundaries.
//
// Two Store implementations exist. PostGIS runs every operation in the
// database with postgis and postgis_topology. Planar runs them in process on
// orb geometries and only supports inputs whose polygons do not overlap.
package geometry

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/stwalsh4118/atlas/areas/internal/config"
	"github.com/stwalsh4118/atlas/areas/internal/database"
)

// TopologyInput is one area boundary to be decomposed into faces.
type TopologyInput struct {
	AreaID int64
	Kind   int64
	Geom   orb.MultiPolygon
}

// Face is a planar face and the areas whose boundary covers it.
type Face struct {
	ID      int64
	AreaIDs []int64
}

// Edge is a topology edge. LeftFace and RightFace are 0 for the universe face.
type Edge struct {
	ID        int64
	Geom      orb.LineString
	LeftFace  int64
	RightFace int64
}

// Topology is a handle to a built topology. It must be closed once the
// caller has finished reading faces and edges from it.
type Topology interface {
	Name() string
	Close(ctx context.Context) error
}

// Store is the geometry engine contract. Implementations never modify the
// geometry they are given.
type Store interface {
	// Simplify reduces vertices with Douglas-Peucker. With preserve set the
	// result never self-intersects and keeps ring orientation.
	Simplify(ctx context.Context, g orb.Geometry, tolerance float64, preserve bool) (orb.Geometry, error)
	// Quantize zeroes the mantissa bits not needed to keep digits decimal
	// places. Every coordinate moves by less than 10^-digits.
	Quantize(ctx context.Context, g orb.Geometry, digits int) (orb.Geometry, error)
	ToMulti(ctx context.Context, g orb.Geometry) (orb.Geometry, error)

	BuildTopology(ctx context.Context, inputs []TopologyInput) (Topology, error)
	Faces(ctx context.Context, topo Topology) ([]Face, error)
	Edges(ctx context.Context, topo Topology, faceID int64) ([]Edge, error)
}

// flatOnly is implemented by stores that reject boundaries which contain
// one another.
type flatOnly interface {
	FlatOnly() bool
}

// HandlesNesting reports whether s can build a topology over boundaries of
// several hierarchy levels at once.
func HandlesNesting(s Store) bool {
	f, ok := s.(flatOnly)
	return !ok || !f.FlatOnly()
}

// Dequantize returns g unchanged. Quantized coordinates are ordinary float64
// values and need no decoding; it exists so round-trip checks read naturally.
func Dequantize(g orb.Geometry) orb.Geometry {
	return g
}

// ToMulti promotes single geometries to their multi form. Collections and
// multi geometries are returned as is.
func ToMulti(g orb.Geometry) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return orb.MultiPoint{v}
	case orb.LineString:
		return orb.MultiLineString{v}
	case orb.Polygon:
		return orb.MultiPolygon{v}
	case orb.Ring:
		return orb.MultiPolygon{orb.Polygon{v}}
	default:
		return g
	}
}

// Open returns the store selected by cfg. The PostGIS backend needs db.
func Open(cfg config.GeometryConfig, db *database.Database) (Store, error) {
	switch cfg.Backend {
	case config.BackendPlanar:
		return NewPlanar(cfg.PlanarSnap), nil
	case config.BackendPostGIS:
		if db == nil {
			return nil, fmt.Errorf("the %s geometry backend needs a database", cfg.Backend)
		}
		return NewPostGIS(db, cfg.SRID, cfg.TopologySRID, cfg.TopologyTolerance), nil
	default:
		return nil, fmt.Errorf("unknown geometry backend %q", cfg.Backend)
	}
}
