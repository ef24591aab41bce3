package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultSRID is the spatial reference of every stored geometry (WGS84).
const DefaultSRID = 4326

// MultiPolygon is an area boundary stored as PostGIS geometry(MultiPolygon,4326).
// Values travel to and from the database as GeoJSON (ST_AsGeoJSON on read,
// ST_GeomFromGeoJSON on write). A Polygon is accepted on input and promoted
// to a one-part MultiPolygon.
type MultiPolygon struct {
	orb.MultiPolygon
}

// NewMultiPolygon wraps g, promoting a Polygon. Other geometry types are
// rejected.
func NewMultiPolygon(g orb.Geometry) (MultiPolygon, error) {
	switch v := g.(type) {
	case orb.MultiPolygon:
		return MultiPolygon{MultiPolygon: v}, nil
	case orb.Polygon:
		return MultiPolygon{MultiPolygon: orb.MultiPolygon{v}}, nil
	case nil:
		return MultiPolygon{}, nil
	default:
		return MultiPolygon{}, fmt.Errorf("expected Polygon or MultiPolygon, got %s", g.GeoJSONType())
	}
}

// IsEmpty reports whether the boundary has no polygons.
func (mp MultiPolygon) IsEmpty() bool {
	return len(mp.MultiPolygon) == 0
}

// Scan implements sql.Scanner for GeoJSON text produced by ST_AsGeoJSON.
func (mp *MultiPolygon) Scan(value interface{}) error {
	data, err := geoJSONBytes(value, "MultiPolygon")
	if err != nil || data == nil {
		return err
	}
	return mp.UnmarshalJSON(data)
}

// Value implements driver.Valuer. It returns a GeoJSON string for use with
// ST_GeomFromGeoJSON, or nil for an empty boundary.
func (mp MultiPolygon) Value() (driver.Value, error) {
	if mp.IsEmpty() {
		return nil, nil
	}
	data, err := mp.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// MarshalJSON encodes the boundary as a GeoJSON geometry object.
func (mp MultiPolygon) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(geojson.NewGeometry(mp.MultiPolygon))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal multipolygon to GeoJSON: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a GeoJSON Polygon or MultiPolygon.
func (mp *MultiPolygon) UnmarshalJSON(data []byte) error {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal multipolygon: %w", err)
	}
	promoted, err := NewMultiPolygon(g.Geometry())
	if err != nil {
		return err
	}
	*mp = promoted
	return nil
}

// LineString is a border edge stored as PostGIS geometry(LineString,4326).
type LineString struct {
	orb.LineString
}

// Scan implements sql.Scanner for GeoJSON text produced by ST_AsGeoJSON.
func (ls *LineString) Scan(value interface{}) error {
	data, err := geoJSONBytes(value, "LineString")
	if err != nil || data == nil {
		return err
	}
	return ls.UnmarshalJSON(data)
}

// Value implements driver.Valuer.
func (ls LineString) Value() (driver.Value, error) {
	if len(ls.LineString) == 0 {
		return nil, nil
	}
	data, err := ls.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// MarshalJSON encodes the edge as a GeoJSON geometry object.
func (ls LineString) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(geojson.NewGeometry(ls.LineString))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal linestring to GeoJSON: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a GeoJSON LineString.
func (ls *LineString) UnmarshalJSON(data []byte) error {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal linestring: %w", err)
	}
	line, ok := g.Geometry().(orb.LineString)
	if !ok {
		return fmt.Errorf("expected LineString type, got %s", g.Type)
	}
	ls.LineString = line
	return nil
}

func geoJSONBytes(value interface{}, kind string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("failed to scan %s: expected []byte or string, got %T", kind, value)
	}
}
