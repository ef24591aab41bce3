package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stwalsh4118/atlas/areas/internal/database"
	areaerrors "github.com/stwalsh4118/atlas/areas/internal/errors"
	"github.com/stwalsh4118/atlas/areas/internal/models"
	"github.com/stwalsh4118/atlas/areas/internal/tree"
)

// AreaFilter narrows ListGeometries. Zero values select everything.
type AreaFilter struct {
	KindIDs    []int64
	IDs        []int64
	ParentID   *int64
	LeavesOnly bool
}

// AreaRepository defines the data access operations for areas and area types.
// Lookups of a single row return nil, nil when nothing matches.
type AreaRepository interface {
	// LoadNodes returns the tree attributes of every area, ordered by
	// (tree_id, lft). Areas without computed indexes come last.
	LoadNodes(ctx context.Context) ([]tree.Node, error)
	ForestVersion(ctx context.Context) (int64, error)

	FindByID(ctx context.Context, id int64) (*models.Area, error)
	FindByCode(ctx context.Context, code string, kindID int64) (*models.Area, error)
	ListByParent(ctx context.Context, parentID int64) ([]models.Area, error)
	ListByKind(ctx context.Context, kindID int64) ([]models.Area, error)
	ListAll(ctx context.Context) ([]models.Area, error)

	// Ancestors, Descendants and Children are nested-set range queries.
	// Results are ordered by lft.
	Ancestors(ctx context.Context, id int64) ([]models.Area, error)
	Descendants(ctx context.Context, id int64) ([]models.Area, error)
	Children(ctx context.Context, id int64) ([]models.Area, error)

	// FindContaining returns every area whose boundary contains the point,
	// outermost first.
	FindContaining(ctx context.Context, lat, lng float64) ([]models.Area, error)
	// ListGeometries returns areas with a boundary, geometry included,
	// leaves first.
	ListGeometries(ctx context.Context, filter AreaFilter) ([]models.Area, error)

	ListTypes(ctx context.Context) ([]models.AreaType, error)
	FindTypeByID(ctx context.Context, id int64) (*models.AreaType, error)
	FindTypeBySlug(ctx context.Context, slug string) (*models.AreaType, error)
	UpsertType(ctx context.Context, t models.AreaType) (models.AreaType, error)

	// SetLocation stores point as the location of area id. A nil point
	// clears it. Locations are not part of the tree and do not bump the
	// forest version.
	SetLocation(ctx context.Context, id int64, point *models.Point) error
	// ProjectAreas rewrites area_projected with every boundary transformed
	// to srid.
	ProjectAreas(ctx context.Context, srid int) (int64, error)

	// Mutate runs fn in a transaction that commits when fn returns nil.
	Mutate(ctx context.Context, fn func(AreaTx) error) error
}

// AreaTx is the write side of the repository, only available inside Mutate.
type AreaTx interface {
	// LockForest blocks until no other transaction holds the forest lock.
	// The lock is released at commit or rollback.
	LockForest(ctx context.Context) error
	ForestVersion(ctx context.Context) (int64, error)
	BumpForestVersion(ctx context.Context) (int64, error)
	LoadNodes(ctx context.Context) ([]tree.Node, error)

	// InsertArea stores a new area with empty tree attributes and returns
	// its id.
	InsertArea(ctx context.Context, in models.AreaInput) (int64, error)
	// BulkInsertAreas stores areas with empty tree attributes and returns
	// their ids in input order.
	BulkInsertAreas(ctx context.Context, areas []models.Area) ([]int64, error)
	// SetParents assigns parent ids, keyed by child id.
	SetParents(ctx context.Context, parents map[int64]int64) error
	UpdateIndexes(ctx context.Context, nodes []tree.Node) error
	DeleteAreas(ctx context.Context, ids []int64) error
	RenameArea(ctx context.Context, id int64, name string) error
}

type areaRepository struct {
	db *database.Database
}

// NewAreaRepository creates a new instance of AreaRepository.
func NewAreaRepository(db *database.Database) AreaRepository {
	return &areaRepository{db: db}
}

const areaColumns = `a.id, a.name, a.code, a.kind_id, a.parent_id,
	COALESCE(a.lft, 0), COALESCE(a.rght, 0), COALESCE(a.tree_id, 0), COALESCE(a.level, 0),
	p.latitude::float8, p.longitude::float8`

// areaFrom joins the optional location so every read can fill Area.Location.
const areaFrom = `area a LEFT JOIN area_point p ON p.id = a.location_id`

const areaColumnsWithGeom = areaColumns + `, ST_AsGeoJSON(a.geom)`

// LoadNodes reads the tree attributes of every area outside a transaction.
func (r *areaRepository) LoadNodes(ctx context.Context) ([]tree.Node, error) {
	return loadNodes(ctx, r.db.Pool)
}

// ForestVersion returns the committed forest version.
func (r *areaRepository) ForestVersion(ctx context.Context) (int64, error) {
	return forestVersion(ctx, r.db.Pool)
}

// FindByID returns the area with its boundary, or nil, nil if it does not exist.
func (r *areaRepository) FindByID(ctx context.Context, id int64) (*models.Area, error) {
	query := `SELECT ` + areaColumnsWithGeom + ` FROM ` + areaFrom + ` WHERE a.id = $1`
	return r.findOne(ctx, query, fmt.Sprintf("id=%d", id), id)
}

// FindByCode looks an area up by its code, which is unique per area type.
// Returns nil, nil if no area matches.
func (r *areaRepository) FindByCode(ctx context.Context, code string, kindID int64) (*models.Area, error) {
	query := `SELECT ` + areaColumnsWithGeom + ` FROM ` + areaFrom + ` WHERE a.code = $1 AND a.kind_id = $2`
	return r.findOne(ctx, query, fmt.Sprintf("code=%q kind=%d", code, kindID), code, kindID)
}

func (r *areaRepository) findOne(ctx context.Context, query, desc string, args ...any) (*models.Area, error) {
	area, err := scanArea(r.db.Pool.QueryRow(ctx, query, args...), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query area (%s): %w", desc, err)
	}
	return area, nil
}

// ListByParent returns the direct children of parentID in tree order,
// without geometry.
func (r *areaRepository) ListByParent(ctx context.Context, parentID int64) ([]models.Area, error) {
	query := `SELECT ` + areaColumns + ` FROM ` + areaFrom + ` WHERE a.parent_id = $1 ORDER BY a.lft`
	return r.list(ctx, "by parent", query, false, parentID)
}

// ListByKind returns every area of one type in tree order, without geometry.
func (r *areaRepository) ListByKind(ctx context.Context, kindID int64) ([]models.Area, error) {
	query := `SELECT ` + areaColumns + ` FROM ` + areaFrom + ` WHERE a.kind_id = $1 ORDER BY a.tree_id, a.lft`
	return r.list(ctx, "by kind", query, false, kindID)
}

// ListAll returns every area in tree order, without geometry.
func (r *areaRepository) ListAll(ctx context.Context) ([]models.Area, error) {
	query := `SELECT ` + areaColumns + ` FROM ` + areaFrom + ` ORDER BY a.tree_id, a.lft`
	return r.list(ctx, "all", query, false)
}

// Ancestors returns the areas whose range encloses id, root first.
func (r *areaRepository) Ancestors(ctx context.Context, id int64) ([]models.Area, error) {
	query := `
		SELECT ` + areaColumns + `
		FROM ` + areaFrom + `
		JOIN area n ON n.id = $1
		WHERE a.tree_id = n.tree_id AND a.lft < n.lft AND a.rght > n.rght
		ORDER BY a.lft`
	return r.list(ctx, "ancestors", query, false, id)
}

// Descendants returns the areas inside the range of id in preorder.
func (r *areaRepository) Descendants(ctx context.Context, id int64) ([]models.Area, error) {
	query := `
		SELECT ` + areaColumns + `
		FROM ` + areaFrom + `
		JOIN area n ON n.id = $1
		WHERE a.tree_id = n.tree_id AND a.lft > n.lft AND a.rght < n.rght
		ORDER BY a.lft`
	return r.list(ctx, "descendants", query, false, id)
}

// Children returns the descendants of id one level below it.
func (r *areaRepository) Children(ctx context.Context, id int64) ([]models.Area, error) {
	query := `
		SELECT ` + areaColumns + `
		FROM ` + areaFrom + `
		JOIN area n ON n.id = $1
		WHERE a.tree_id = n.tree_id AND a.lft > n.lft AND a.rght < n.rght AND a.level = n.level + 1
		ORDER BY a.lft`
	return r.list(ctx, "children", query, false, id)
}

// FindContaining runs a point-in-polygon query. The spatial index on geom is
// used by ST_Contains.
//
// Note: PostGIS functions expect (longitude, latitude) order, not (lat, lng).
func (r *areaRepository) FindContaining(ctx context.Context, lat, lng float64) ([]models.Area, error) {
	query := `
		SELECT ` + areaColumns + `
		FROM ` + areaFrom + `
		WHERE ST_Contains(a.geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY a.level, a.tree_id, a.lft`
	return r.list(ctx, fmt.Sprintf("containing lat=%f lng=%f", lat, lng), query, false, lng, lat)
}

// ListGeometries returns leaves before the areas that contain them so a
// topology build adds the finest boundaries first.
func (r *areaRepository) ListGeometries(ctx context.Context, filter AreaFilter) ([]models.Area, error) {
	query, args := geometriesQuery(filter)
	return r.list(ctx, "geometries", query, true, args...)
}

// isLeaf holds for an area of alias a without children.
const isLeaf = `NOT EXISTS (SELECT 1 FROM area c WHERE c.parent_id = a.id)`

func geometriesQuery(filter AreaFilter) (string, []any) {
	where, args := filterClause(filter)
	query := `SELECT ` + areaColumnsWithGeom + ` FROM ` + areaFrom + ` WHERE ` + where +
		` ORDER BY ` + isLeaf + ` DESC, a.tree_id, a.lft, a.id`
	return query, args
}

// filterClause renders filter as a WHERE condition over alias a.
func filterClause(filter AreaFilter) (string, []any) {
	conds := []string{"a.geom IS NOT NULL"}
	var args []any
	if len(filter.KindIDs) > 0 {
		args = append(args, filter.KindIDs)
		conds = append(conds, "a.kind_id = ANY($"+strconv.Itoa(len(args))+")")
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		conds = append(conds, "a.id = ANY($"+strconv.Itoa(len(args))+")")
	}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		conds = append(conds, "a.parent_id = $"+strconv.Itoa(len(args)))
	}
	if filter.LeavesOnly {
		conds = append(conds, isLeaf)
	}
	return strings.Join(conds, " AND "), args
}

func (r *areaRepository) list(ctx context.Context, desc, query string, withGeom bool, args ...any) ([]models.Area, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query areas (%s): %w", desc, err)
	}
	defer rows.Close()

	results := []models.Area{}
	for rows.Next() {
		area, err := scanArea(rows, withGeom)
		if err != nil {
			return nil, fmt.Errorf("failed to scan area row: %w", err)
		}
		results = append(results, *area)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating area rows: %w", err)
	}
	return results, nil
}

func scanArea(row pgx.Row, withGeom bool) (*models.Area, error) {
	var (
		area     models.Area
		lat, lng *float64
		geomJSON []byte
	)
	dest := []any{
		&area.ID, &area.Name, &area.Code, &area.KindID, &area.ParentID,
		&area.Left, &area.Right, &area.TreeID, &area.Level,
		&lat, &lng,
	}
	if withGeom {
		dest = append(dest, &geomJSON)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		area.Location = &models.Point{Latitude: *lat, Longitude: *lng}
	}

	if geomJSON != nil {
		var geom models.MultiPolygon
		if err := geom.Scan(geomJSON); err != nil {
			return nil, fmt.Errorf("failed to parse geometry for area %d: %w", area.ID, err)
		}
		area.Geom = &geom
	}
	return &area, nil
}

// ListTypes returns every area type ordered by id.
func (r *areaRepository) ListTypes(ctx context.Context) ([]models.AreaType, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, name, slug FROM area_type ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query area types: %w", err)
	}
	defer rows.Close()

	types := []models.AreaType{}
	for rows.Next() {
		var t models.AreaType
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil {
			return nil, fmt.Errorf("failed to scan area type row: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating area type rows: %w", err)
	}
	return types, nil
}

// FindTypeByID returns nil, nil when no type has the id.
func (r *areaRepository) FindTypeByID(ctx context.Context, id int64) (*models.AreaType, error) {
	return r.findType(ctx, `SELECT id, name, slug FROM area_type WHERE id = $1`, id)
}

// FindTypeBySlug returns nil, nil when no type has the slug.
func (r *areaRepository) FindTypeBySlug(ctx context.Context, slug string) (*models.AreaType, error) {
	return r.findType(ctx, `SELECT id, name, slug FROM area_type WHERE slug = $1`, slug)
}

func (r *areaRepository) findType(ctx context.Context, query string, arg any) (*models.AreaType, error) {
	var t models.AreaType
	if err := r.db.Pool.QueryRow(ctx, query, arg).Scan(&t.ID, &t.Name, &t.Slug); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query area type %v: %w", arg, err)
	}
	return &t, nil
}

// UpsertType creates the type or renames the existing one with the same slug.
func (r *areaRepository) UpsertType(ctx context.Context, t models.AreaType) (models.AreaType, error) {
	query := `
		INSERT INTO area_type (name, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, slug`
	var out models.AreaType
	if err := r.db.Pool.QueryRow(ctx, query, t.Name, t.Slug).Scan(&out.ID, &out.Name, &out.Slug); err != nil {
		return models.AreaType{}, fmt.Errorf("failed to upsert area type %q: %w", t.Slug, err)
	}
	return out, nil
}

// SetLocation replaces the location of area id, or clears it when point is
// nil. The previous point row is removed.
func (r *areaRepository) SetLocation(ctx context.Context, id int64, point *models.Point) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var previous *int64
		err := tx.QueryRow(ctx, `SELECT location_id FROM area WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &areaerrors.NotFoundError{Resource: "area", ID: id}
			}
			return fmt.Errorf("failed to read location of area %d: %w", id, err)
		}

		var next *int64
		if point != nil {
			err := tx.QueryRow(ctx,
				`INSERT INTO area_point (latitude, longitude) VALUES ($1, $2) RETURNING id`,
				point.Latitude, point.Longitude,
			).Scan(&next)
			if err != nil {
				return fmt.Errorf("failed to store location of area %d: %w", id, err)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE area SET location_id = $2 WHERE id = $1`, id, next); err != nil {
			return fmt.Errorf("failed to set location of area %d: %w", id, err)
		}

		if previous != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM area_point WHERE id = $1`, *previous); err != nil {
				return fmt.Errorf("failed to remove old location of area %d: %w", id, err)
			}
		}
		return nil
	})
}

// ProjectAreas replaces the contents of area_projected with every boundary
// transformed to srid and returns the number of rows written.
func (r *areaRepository) ProjectAreas(ctx context.Context, srid int) (int64, error) {
	var projected int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE area_projected`); err != nil {
			return fmt.Errorf("failed to clear projected areas: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO area_projected (area_id, geom)
			SELECT id, ST_Transform(geom, $1::int)
			FROM area
			WHERE geom IS NOT NULL`, srid)
		if err != nil {
			return fmt.Errorf("failed to project areas to SRID %d: %w", srid, err)
		}
		projected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return projected, nil
}

// Mutate runs fn inside one transaction. Any error from fn rolls it back.
func (r *areaRepository) Mutate(ctx context.Context, fn func(AreaTx) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&areaTx{q: tx})
	})
}

// areaTx implements AreaTx over a pgx transaction.
type areaTx struct {
	q database.Querier
}

// LockForest takes the transaction-scoped advisory lock shared by all tree
// writers.
func (t *areaTx) LockForest(ctx context.Context) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, database.ForestLockKey); err != nil {
		return fmt.Errorf("failed to lock area forest: %w", err)
	}
	return nil
}

func (t *areaTx) ForestVersion(ctx context.Context) (int64, error) {
	return forestVersion(ctx, t.q)
}

// BumpForestVersion increments the version and returns the new value. It
// becomes visible to other sessions at commit.
func (t *areaTx) BumpForestVersion(ctx context.Context) (int64, error) {
	var version int64
	err := t.q.QueryRow(ctx, `UPDATE area_forest_state SET version = version + 1 WHERE id = 1 RETURNING version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to bump forest version: %w", err)
	}
	return version, nil
}

func (t *areaTx) LoadNodes(ctx context.Context) ([]tree.Node, error) {
	return loadNodes(ctx, t.q)
}

// InsertArea stores one area and its optional location with NULL tree
// attributes; UpdateIndexes fills them in.
func (t *areaTx) InsertArea(ctx context.Context, in models.AreaInput) (int64, error) {
	// the point row is only written when a location was given
	query := `
		WITH point AS (
			INSERT INTO area_point (latitude, longitude)
			SELECT $6::numeric, $7::numeric
			WHERE $6::numeric IS NOT NULL
			RETURNING id
		)
		INSERT INTO area (name, code, kind_id, parent_id, geom, location_id)
		VALUES ($1, $2, $3, $4, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($5::text), 4326)), (SELECT id FROM point))
		RETURNING id`

	geom, err := geomParam(in.Geom)
	if err != nil {
		return 0, fmt.Errorf("area %q: %w", in.Code, err)
	}
	lat, lng := pointParams(in.Location)

	var id int64
	err = t.q.QueryRow(ctx, query, in.Name, in.Code, in.KindID, in.ParentID, geom, lat, lng).Scan(&id)
	if err != nil {
		return 0, mapWriteError(err, fmt.Sprintf("failed to insert area %q", in.Code))
	}
	return id, nil
}

// BulkInsertAreas copies areas into a temporary table and inserts them with
// one statement. Ids are matched back to the input by (code, kind).
func (t *areaTx) BulkInsertAreas(ctx context.Context, areas []models.Area) ([]int64, error) {
	if len(areas) == 0 {
		return nil, nil
	}

	stmts := []string{
		`CREATE TEMP TABLE IF NOT EXISTS area_import (
			ord INT NOT NULL,
			name TEXT NOT NULL,
			code TEXT NOT NULL,
			kind_id BIGINT NOT NULL,
			parent_id BIGINT,
			geom_json TEXT
		) ON COMMIT DROP`,
		`TRUNCATE area_import`,
	}
	// Prepare an empty staging table private to this transaction
	for _, stmt := range stmts {
		if _, err := t.q.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare area import: %w", err)
		}
	}

	// Stream the rows in with COPY
	_, err := t.q.CopyFrom(ctx,
		pgx.Identifier{"area_import"},
		[]string{"ord", "name", "code", "kind_id", "parent_id", "geom_json"},
		pgx.CopyFromSlice(len(areas), func(i int) ([]any, error) {
			a := areas[i]
			geom, err := geomParam(a.Geom)
			if err != nil {
				return nil, fmt.Errorf("area %q: %w", a.Code, err)
			}
			return []any{i, a.Name, a.Code, a.KindID, a.ParentID, geom}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %d areas: %w", len(areas), err)
	}

	// Insert in input order, building geometries on the way
	rows, err := t.q.Query(ctx, `
		INSERT INTO area (name, code, kind_id, parent_id, geom)
		SELECT name, code, kind_id, parent_id, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON(geom_json), 4326))
		FROM area_import
		ORDER BY ord
		RETURNING id, code, kind_id`)
	if err != nil {
		return nil, mapWriteError(err, "failed to insert imported areas")
	}
	defer rows.Close()

	type key struct {
		code string
		kind int64
	}
	byKey := make(map[key]int64, len(areas))
	for rows.Next() {
		var (
			id int64
			k  key
		)
		if err := rows.Scan(&id, &k.code, &k.kind); err != nil {
			return nil, fmt.Errorf("failed to scan imported area id: %w", err)
		}
		byKey[k] = id
	}
	if err := rows.Err(); err != nil {
		return nil, mapWriteError(err, "failed to insert imported areas")
	}

	// Map returned ids back to input order
	ids := make([]int64, len(areas))
	for i, a := range areas {
		id, ok := byKey[key{code: a.Code, kind: a.KindID}]
		if !ok {
			return nil, fmt.Errorf("imported area %q (kind %d) was not returned", a.Code, a.KindID)
		}
		ids[i] = id
	}
	return ids, nil
}

// SetParents updates parent_id in one batch. A parent of 0 stores NULL.
func (t *areaTx) SetParents(ctx context.Context, parents map[int64]int64) error {
	batch := &pgx.Batch{}
	for child, parent := range parents {
		batch.Queue(`UPDATE area SET parent_id = $2 WHERE id = $1`, child, nullableID(parent))
	}
	return t.sendBatch(ctx, batch, "set parents")
}

// UpdateIndexes writes parent and nested-set attributes. Rows are copied
// into a temporary table and applied with a single UPDATE.
func (t *areaTx) UpdateIndexes(ctx context.Context, nodes []tree.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	stmts := []string{
		`CREATE TEMP TABLE IF NOT EXISTS area_index_update (
			id BIGINT PRIMARY KEY,
			parent_id BIGINT,
			lft INT NOT NULL,
			rght INT NOT NULL,
			tree_id INT NOT NULL,
			level INT NOT NULL
		) ON COMMIT DROP`,
		`TRUNCATE area_index_update`,
	}
	for _, stmt := range stmts {
		if _, err := t.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare index update: %w", err)
		}
	}

	_, err := t.q.CopyFrom(ctx,
		pgx.Identifier{"area_index_update"},
		[]string{"id", "parent_id", "lft", "rght", "tree_id", "level"},
		pgx.CopyFromSlice(len(nodes), func(i int) ([]any, error) {
			n := nodes[i]
			return []any{n.ID, nullableID(n.Parent), n.Left, n.Right, n.TreeID, n.Level}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy %d index rows: %w", len(nodes), err)
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE area a
		SET parent_id = u.parent_id, lft = u.lft, rght = u.rght, tree_id = u.tree_id, level = u.level
		FROM area_index_update u
		WHERE a.id = u.id`)
	if err != nil {
		return fmt.Errorf("failed to update area indexes: %w", err)
	}
	if tag.RowsAffected() != int64(len(nodes)) {
		return fmt.Errorf("updated indexes of %d areas, expected %d", tag.RowsAffected(), len(nodes))
	}
	return nil
}

// DeleteAreas removes the rows of ids. Callers pass whole subtrees.
func (t *areaTx) DeleteAreas(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM area WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete %d areas: %w", len(ids), err)
	}
	return nil
}

// RenameArea returns a NotFoundError when no row has the id.
func (t *areaTx) RenameArea(ctx context.Context, id int64, name string) error {
	tag, err := t.q.Exec(ctx, `UPDATE area SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("failed to rename area %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &areaerrors.NotFoundError{Resource: "area", ID: id}
	}
	return nil
}

func (t *areaTx) sendBatch(ctx context.Context, batch *pgx.Batch, desc string) error {
	if batch.Len() == 0 {
		return nil
	}
	results := t.q.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to %s: %w", desc, err)
		}
	}
	return results.Close()
}

func loadNodes(ctx context.Context, q database.Querier) ([]tree.Node, error) {
	rows, err := q.Query(ctx, `
		SELECT id, COALESCE(parent_id, 0), name, code, kind_id,
			COALESCE(lft, 0), COALESCE(rght, 0), COALESCE(tree_id, 0), COALESCE(level, 0)
		FROM area
		ORDER BY tree_id NULLS LAST, lft NULLS LAST, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load area nodes: %w", err)
	}
	defer rows.Close()

	var nodes []tree.Node
	for rows.Next() {
		var n tree.Node
		if err := rows.Scan(&n.ID, &n.Parent, &n.Name, &n.Code, &n.Kind, &n.Left, &n.Right, &n.TreeID, &n.Level); err != nil {
			return nil, fmt.Errorf("failed to scan area node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating area nodes: %w", err)
	}
	return nodes, nil
}

func forestVersion(ctx context.Context, q database.Querier) (int64, error) {
	var version int64
	if err := q.QueryRow(ctx, `SELECT version FROM area_forest_state WHERE id = 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read forest version: %w", err)
	}
	return version, nil
}

// geomParam encodes g as a GeoJSON text parameter, nil for no boundary.
func geomParam(g *models.MultiPolygon) (any, error) {
	if g == nil || g.IsEmpty() {
		return nil, nil
	}
	return g.Value()
}

// pointParams splits p into latitude and longitude parameters, both nil
// when p is nil.
func pointParams(p *models.Point) (lat, lng *float64) {
	if p == nil {
		return nil, nil
	}
	return &p.Latitude, &p.Longitude
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// duplicateDetail matches the DETAIL of a unique violation on (code, kind_id).
var duplicateDetail = regexp.MustCompile(`\(code, kind_id\)=\((.*), (\d+)\)`)

// mapWriteError turns constraint violations into domain errors and wraps
// everything else with msg.
func mapWriteError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", msg, err)
	}

	switch pgErr.Code {
	case "23505":
		dup := &areaerrors.DuplicateCodeError{}
		if m := duplicateDetail.FindStringSubmatch(pgErr.Detail); m != nil {
			dup.Code = m[1]
			dup.KindID, _ = strconv.ParseInt(m[2], 10, 64)
		}
		return dup
	case "23503":
		return &areaerrors.NotFoundError{Resource: "referenced row", ID: pgErr.ConstraintName}
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
