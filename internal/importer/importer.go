// Package importer reads bulk area data: area types from YAML seed files
// and areas from GeoJSON feature collections.
package importer

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/models"
)

// LoadAreaTypes parses a YAML list of {name, slug} entries.
func LoadAreaTypes(r io.Reader) ([]models.AreaType, error) {
	var types []models.AreaType
	if err := yaml.NewDecoder(r).Decode(&types); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse area types: %w", err)
	}

	seen := make(map[string]bool, len(types))
	fields := make(map[string]string)
	for i, t := range types {
		switch {
		case strings.TrimSpace(t.Slug) == "":
			fields[fmt.Sprintf("[%d].slug", i)] = "slug is a required field"
		case seen[t.Slug]:
			fields[fmt.Sprintf("[%d].slug", i)] = fmt.Sprintf("slug %q appears twice", t.Slug)
		}
		if strings.TrimSpace(t.Name) == "" {
			fields[fmt.Sprintf("[%d].name", i)] = "name is a required field"
		}
		seen[t.Slug] = true
	}
	if len(fields) > 0 {
		return nil, &areaerrors.ValidationError{Fields: fields}
	}
	return types, nil
}

// ReadOptions names the feature properties holding area attributes.
type ReadOptions struct {
	NameProperty       string
	CodeProperty       string
	ParentCodeProperty string
}

// DefaultReadOptions reads "name", "code" and "parent_code".
func DefaultReadOptions() ReadOptions {
	return ReadOptions{NameProperty: "name", CodeProperty: "code", ParentCodeProperty: "parent_code"}
}

// Record is one area read from a feature collection.
type Record struct {
	Name       string
	Code       string
	ParentCode string
	Geom       *models.MultiPolygon
}

// ReadFeatures parses a GeoJSON FeatureCollection. Features without a
// geometry become areas without a boundary; geometries other than Polygon
// and MultiPolygon are rejected.
func ReadFeatures(r io.Reader, opts ReadOptions) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read features: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature collection: %w", err)
	}

	records := make([]Record, 0, len(fc.Features))
	for i, f := range fc.Features {
		rec := Record{
			Name:       property(f.Properties, opts.NameProperty),
			Code:       property(f.Properties, opts.CodeProperty),
			ParentCode: property(f.Properties, opts.ParentCodeProperty),
		}
		if rec.Name == "" || rec.Code == "" {
			return nil, &areaerrors.ValidationError{Fields: map[string]string{
				fmt.Sprintf("features[%d]", i): fmt.Sprintf("properties %q and %q are required", opts.NameProperty, opts.CodeProperty),
			}}
		}
		if f.Geometry != nil {
			mp, err := models.NewMultiPolygon(f.Geometry)
			if err != nil {
				return nil, areaerrors.NewGeometryError("import", fmt.Errorf("feature %q: %w", rec.Code, err))
			}
			rec.Geom = &mp
		}
		records = append(records, rec)
	}
	return records, nil
}

// property returns a string or numeric property as text.
func property(props geojson.Properties, key string) string {
	if key == "" {
		return ""
	}
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Row is an area ready for bulk insertion. ParentIndex points at the parent
// row within the same batch, or is -1 when Area.ParentID already names an
// existing area or the area is a root.
type Row struct {
	Area        models.Area
	ParentIndex int
}

// Lookup finds an existing area id by (code, kind).
type Lookup func(code string, kindID int64) (int64, bool)

// Resolve turns records of one kind into rows. A parent code is looked up
// in the batch first, then among existing areas of parentKindID (kindID
// when zero).
func Resolve(records []Record, kindID, parentKindID int64, existing Lookup) ([]Row, error) {
	if parentKindID == 0 {
		parentKindID = kindID
	}

	batch := make(map[string]int, len(records))
	for i, rec := range records {
		if _, dup := batch[rec.Code]; dup {
			return nil, &areaerrors.DuplicateCodeError{Code: rec.Code, KindID: kindID}
		}
		if _, exists := existing(rec.Code, kindID); exists {
			return nil, &areaerrors.DuplicateCodeError{Code: rec.Code, KindID: kindID}
		}
		batch[rec.Code] = i
	}

	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{
			Area:        models.Area{Name: rec.Name, Code: rec.Code, KindID: kindID, Geom: rec.Geom},
			ParentIndex: -1,
		}
		if rec.ParentCode == "" {
			continue
		}
		if j, ok := batch[rec.ParentCode]; ok && parentKindID == kindID {
			if j == i {
				return nil, fmt.Errorf("area %q is its own parent", rec.Code)
			}
			rows[i].ParentIndex = j
			continue
		}
		id, ok := existing(rec.ParentCode, parentKindID)
		if !ok {
			return nil, &areaerrors.NotFoundError{Resource: "parent area", ID: rec.ParentCode}
		}
		rows[i].Area.ParentID = &id
	}
	return rows, nil
}
