package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/atlas/areas/internal/database"
	"github.com/stwalsh4118/atlas/areas/internal/models"
)

// BorderRepository stores derived borders. The table is only ever replaced
// as a whole: Stage loads a complete set next to the live table and
// Staging.Swap publishes it.
type BorderRepository interface {
	Stage(ctx context.Context, borders []models.Border) (Staging, error)
	List(ctx context.Context) ([]models.Border, error)
	ListByArea(ctx context.Context, areaID int64) ([]models.Border, error)
	Count(ctx context.Context) (int64, error)
}

// Staging is a fully loaded border table that is not visible to readers yet.
// Exactly one of Swap or Discard should be called.
type Staging interface {
	Table() string
	Rows() int64
	// Swap replaces the live border table in one short transaction.
	Swap(ctx context.Context) error
	// Discard drops the staged table. The live table is untouched.
	Discard(ctx context.Context) error
}

type borderRepository struct {
	db *database.Database
}

// NewBorderRepository creates a new instance of BorderRepository.
func NewBorderRepository(db *database.Database) BorderRepository {
	return &borderRepository{db: db}
}

type staging struct {
	db    *database.Database
	table string
	pkey  string
	areas string
	rows  int64
}

func newStaging(db *database.Database) *staging {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &staging{
		db:    db,
		table: "area_border_staging_" + suffix,
		pkey:  "abs_" + suffix + "_pkey",
		areas: "abs_" + suffix + "_areas",
	}
}

func (s *staging) Table() string { return s.table }
func (s *staging) Rows() int64   { return s.rows }

// Stage copies borders into a new table shaped like area_border. The copy
// goes through a temporary GeoJSON column because COPY cannot build
// geometries.
func (r *borderRepository) Stage(ctx context.Context, borders []models.Border) (Staging, error) {
	s := newStaging(r.db)
	table := pgx.Identifier{s.table}.Sanitize()

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE %s (LIKE area_border INCLUDING DEFAULTS)`, table),
			`CREATE TEMP TABLE area_border_load (
				id BIGINT NOT NULL,
				geom_json TEXT NOT NULL,
				area_ids BIGINT[] NOT NULL,
				area_types BIGINT[] NOT NULL
			) ON COMMIT DROP`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create staging tables: %w", err)
			}
		}

		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"area_border_load"},
			[]string{"id", "geom_json", "area_ids", "area_types"},
			pgx.CopyFromSlice(len(borders), func(i int) ([]any, error) {
				b := borders[i]
				geom, err := b.Geom.MarshalJSON()
				if err != nil {
					return nil, fmt.Errorf("border %d: %w", b.ID, err)
				}
				return []any{b.ID, string(geom), nonNil(b.AreaIDs), nonNil(b.AreaTypes)}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy %d borders: %w", len(borders), err)
		}
		s.rows = copied

		stmts = []string{
			fmt.Sprintf(`
				INSERT INTO %s (id, geom, area_ids, area_types)
				SELECT id, ST_SetSRID(ST_GeomFromGeoJSON(geom_json), %d), area_ids, area_types
				FROM area_border_load`, table, models.DefaultSRID),
			fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (id)`, table, pgx.Identifier{s.pkey}.Sanitize()),
			fmt.Sprintf(`CREATE INDEX %s ON %s USING GIN (area_ids)`, pgx.Identifier{s.areas}.Sanitize(), table),
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to load staging table: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		// the failed transaction rolled back the CREATE TABLE as well
		return nil, err
	}
	return s, nil
}

// Swap drops the live table and renames the staged one and its indexes in
// its place, all in one transaction. Readers wait on the table lock.
func (s *staging) Swap(ctx context.Context) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		stmts := []string{
			`LOCK TABLE area_border IN ACCESS EXCLUSIVE MODE`,
			`DROP TABLE area_border`,
			fmt.Sprintf(`ALTER TABLE %s RENAME TO area_border`, pgx.Identifier{s.table}.Sanitize()),
			fmt.Sprintf(`ALTER INDEX %s RENAME TO area_border_pkey`, pgx.Identifier{s.pkey}.Sanitize()),
			fmt.Sprintf(`ALTER INDEX %s RENAME TO area_border_area_ids_idx`, pgx.Identifier{s.areas}.Sanitize()),
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to swap border table: %w", err)
			}
		}
		return nil
	})
}

// Discard drops the staged table. It does nothing after a successful Swap.
func (s *staging) Discard(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pgx.Identifier{s.table}.Sanitize())); err != nil {
		return fmt.Errorf("failed to drop staging table %s: %w", s.table, err)
	}
	return nil
}

// List returns every stored border ordered by id.
func (r *borderRepository) List(ctx context.Context) ([]models.Border, error) {
	return r.list(ctx, `SELECT id, ST_AsGeoJSON(geom), area_ids, area_types FROM area_border ORDER BY id`)
}

// ListByArea returns the borders whose area_ids contain areaID.
func (r *borderRepository) ListByArea(ctx context.Context, areaID int64) ([]models.Border, error) {
	return r.list(ctx, `
		SELECT id, ST_AsGeoJSON(geom), area_ids, area_types
		FROM area_border
		WHERE area_ids @> ARRAY[$1::bigint]
		ORDER BY id`, areaID)
}

func (r *borderRepository) list(ctx context.Context, query string, args ...any) ([]models.Border, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query borders: %w", err)
	}
	defer rows.Close()

	borders := []models.Border{}
	for rows.Next() {
		var (
			b        models.Border
			geomJSON []byte
		)
		if err := rows.Scan(&b.ID, &geomJSON, &b.AreaIDs, &b.AreaTypes); err != nil {
			return nil, fmt.Errorf("failed to scan border row: %w", err)
		}
		if err := b.Geom.Scan(geomJSON); err != nil {
			return nil, fmt.Errorf("failed to parse geometry for border %d: %w", b.ID, err)
		}
		borders = append(borders, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating border rows: %w", err)
	}
	return borders, nil
}

// Count returns the number of published borders.
func (r *borderRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM area_border`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count borders: %w", err)
	}
	return n, nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
