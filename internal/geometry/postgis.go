package geometry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/stwalsh4118/atlas/areas/internal/database"
	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/models"
)

// geoJSONDigits is the ST_AsGeoJSON precision used when reading results
// back. It is high enough not to undo quantization.
const geoJSONDigits = 15

// PostGIS is a Store that runs every operation in the database. Topologies
// are built with postgis_topology in a projected SRID and edges are returned
// in the storage SRID.
type PostGIS struct {
	db        *database.Database
	srid      int
	topoSRID  int
	tolerance float64
}

// NewPostGIS returns a PostGIS store. srid is the storage SRID, topoSRID
// and tolerance configure the topologies BuildTopology creates.
func NewPostGIS(db *database.Database, srid, topoSRID int, tolerance float64) *PostGIS {
	return &PostGIS{db: db, srid: srid, topoSRID: topoSRID, tolerance: tolerance}
}

func (s *PostGIS) Simplify(ctx context.Context, g orb.Geometry, tolerance float64, preserve bool) (orb.Geometry, error) {
	fn := "ST_Simplify"
	if preserve {
		fn = "ST_SimplifyPreserveTopology"
	}
	query := fmt.Sprintf(`SELECT ST_AsGeoJSON(%s(ST_GeomFromGeoJSON($1::text), $2), %d)`, fn, geoJSONDigits)
	return s.transform(ctx, "simplify", query, g, tolerance)
}

func (s *PostGIS) Quantize(ctx context.Context, g orb.Geometry, digits int) (orb.Geometry, error) {
	query := fmt.Sprintf(`SELECT ST_AsGeoJSON(ST_QuantizeCoordinates(ST_GeomFromGeoJSON($1::text), $2), %d)`, geoJSONDigits)
	return s.transform(ctx, "quantize", query, g, digits)
}

func (s *PostGIS) ToMulti(ctx context.Context, g orb.Geometry) (orb.Geometry, error) {
	query := fmt.Sprintf(`SELECT ST_AsGeoJSON(ST_Multi(ST_GeomFromGeoJSON($1::text)), %d)`, geoJSONDigits)
	return s.transform(ctx, "multi", query, g)
}

// transform runs a single-geometry query whose first parameter is g as
// GeoJSON and whose only column is the result as GeoJSON.
func (s *PostGIS) transform(ctx context.Context, op, query string, g orb.Geometry, args ...any) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	in, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return nil, areaerrors.NewGeometryError(op, err)
	}

	var out *string
	if err := s.db.Pool.QueryRow(ctx, query, append([]any{string(in)}, args...)...).Scan(&out); err != nil {
		return nil, areaerrors.NewGeometryError(op, err)
	}
	if out == nil {
		return nil, nil
	}

	decoded, err := geojson.UnmarshalGeometry([]byte(*out))
	if err != nil {
		return nil, areaerrors.NewGeometryError(op, err)
	}
	return decoded.Geometry(), nil
}

// postgisTopology is a postgis_topology schema plus the layer table holding
// one TopoGeometry per input area.
type postgisTopology struct {
	store   *PostGIS
	name    string
	table   string
	layerID int
}

func (t *postgisTopology) Name() string { return t.name }

// Close drops the layer table and the topology schema.
func (t *postgisTopology) Close(ctx context.Context) error {
	return t.store.dropTopology(ctx, t.name, t.table, t.layerID != 0)
}

func (s *PostGIS) BuildTopology(ctx context.Context, inputs []TopologyInput) (Topology, error) {
	name := topologyName()
	topo := &postgisTopology{store: s, name: name, table: name + "_areas"}
	table := pgx.Identifier{"public", topo.table}.Sanitize()

	fail := func(err error) (Topology, error) {
		if dropErr := topo.Close(context.WithoutCancel(ctx)); dropErr != nil {
			err = fmt.Errorf("%w (cleanup: %v)", err, dropErr)
		}
		return nil, areaerrors.NewGeometryError("build topology", err)
	}

	if _, err := s.db.Pool.Exec(ctx, `SELECT topology.CreateTopology($1, $2, $3)`, name, s.topoSRID, s.tolerance); err != nil {
		return nil, areaerrors.NewGeometryError("build topology", fmt.Errorf("failed to create topology %s: %w", name, err))
	}
	if _, err := s.db.Pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (area_id BIGINT PRIMARY KEY, kind BIGINT NOT NULL)`, table)); err != nil {
		return fail(fmt.Errorf("failed to create layer table: %w", err))
	}
	err := s.db.Pool.QueryRow(ctx,
		`SELECT topology.AddTopoGeometryColumn($1, 'public', $2, 'topo', 'POLYGON')`,
		name, topo.table,
	).Scan(&topo.layerID)
	if err != nil {
		return fail(fmt.Errorf("failed to add topogeometry column: %w", err))
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (area_id, kind, topo)
		VALUES ($1, $2, topology.toTopoGeom(
			ST_Transform(ST_SetSRID(ST_GeomFromGeoJSON($3::text), %d), %d), $4, $5, $6))`,
		table, s.srid, s.topoSRID)

	// toTopoGeom edits the shared topology, so areas are added one by one
	for _, in := range inputs {
		if len(in.Geom) == 0 {
			continue
		}
		geom, err := json.Marshal(geojson.NewGeometry(in.Geom))
		if err != nil {
			return fail(err)
		}
		if _, err := s.db.Pool.Exec(ctx, insert, in.AreaID, in.Kind, string(geom), name, topo.layerID, s.tolerance); err != nil {
			return fail(fmt.Errorf("failed to add area %d to topology: %w", in.AreaID, err))
		}
	}

	return topo, nil
}

func (s *PostGIS) Faces(ctx context.Context, topo Topology) ([]Face, error) {
	t, err := s.own(topo)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT r.element_id, array_agg(DISTINCT a.area_id ORDER BY a.area_id)
		FROM %s r
		JOIN %s a ON (a.topo).id = r.topogeo_id
		WHERE r.element_type = 3 AND r.layer_id = $1
		GROUP BY r.element_id
		ORDER BY r.element_id`,
		pgx.Identifier{t.name, "relation"}.Sanitize(),
		pgx.Identifier{"public", t.table}.Sanitize())

	rows, err := s.db.Pool.Query(ctx, query, t.layerID)
	if err != nil {
		return nil, areaerrors.NewGeometryError("list faces", err)
	}
	defer rows.Close()

	var faces []Face
	for rows.Next() {
		var f Face
		if err := rows.Scan(&f.ID, &f.AreaIDs); err != nil {
			return nil, areaerrors.NewGeometryError("list faces", err)
		}
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, areaerrors.NewGeometryError("list faces", err)
	}
	return faces, nil
}

func (s *PostGIS) Edges(ctx context.Context, topo Topology, faceID int64) ([]Edge, error) {
	t, err := s.own(topo)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT edge_id, ST_AsGeoJSON(ST_Transform(geom, %d), %d), left_face, right_face
		FROM %s
		WHERE left_face = $1 OR right_face = $1
		ORDER BY edge_id`,
		s.srid, geoJSONDigits, pgx.Identifier{t.name, "edge_data"}.Sanitize())

	rows, err := s.db.Pool.Query(ctx, query, faceID)
	if err != nil {
		return nil, areaerrors.NewGeometryError("list edges", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var (
			e    Edge
			geom models.LineString
		)
		if err := rows.Scan(&e.ID, &geom, &e.LeftFace, &e.RightFace); err != nil {
			return nil, areaerrors.NewGeometryError("list edges", err)
		}
		e.Geom = geom.LineString
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, areaerrors.NewGeometryError("list edges", err)
	}
	return edges, nil
}

func (s *PostGIS) own(topo Topology) (*postgisTopology, error) {
	t, ok := topo.(*postgisTopology)
	if !ok {
		return nil, areaerrors.NewGeometryError("read topology", fmt.Errorf("%T was not built by the postgis store", topo))
	}
	return t, nil
}

func (s *PostGIS) dropTopology(ctx context.Context, name, table string, hasLayer bool) error {
	if hasLayer {
		if _, err := s.db.Pool.Exec(ctx, `SELECT topology.DropTopoGeometryColumn('public', $1, 'topo')`, table); err != nil {
			return fmt.Errorf("failed to drop topogeometry column: %w", err)
		}
	}
	if _, err := s.db.Pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pgx.Identifier{"public", table}.Sanitize())); err != nil {
		return fmt.Errorf("failed to drop layer table: %w", err)
	}

	var exists bool
	if err := s.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM topology.topology WHERE name = $1)`, name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up topology %s: %w", name, err)
	}
	if exists {
		if _, err := s.db.Pool.Exec(ctx, `SELECT topology.DropTopology($1)`, name); err != nil {
			return fmt.Errorf("failed to drop topology %s: %w", name, err)
		}
	}
	return nil
}
