package database

import (
	"context"
	"fmt"
)

// ForestLockKey is the pg_advisory_xact_lock key serializing tree writers.
const ForestLockKey int64 = 0x61726561 // "area"

// schemaStatements create the persisted layout. Every statement is
// idempotent so EnsureSchema can run on each migrate.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE EXTENSION IF NOT EXISTS postgis_topology`,
	`CREATE TABLE IF NOT EXISTS area_type (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		slug VARCHAR(50) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS area_point (
		id BIGSERIAL PRIMARY KEY,
		latitude NUMERIC(13, 10) NOT NULL,
		longitude NUMERIC(13, 10) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS area (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		code VARCHAR(50) NOT NULL,
		kind_id BIGINT NOT NULL REFERENCES area_type(id),
		parent_id BIGINT REFERENCES area(id) ON DELETE CASCADE,
		lft INT,
		rght INT,
		tree_id INT,
		level INT,
		geom geometry(MultiPolygon, 4326),
		location_id BIGINT REFERENCES area_point(id) ON DELETE SET NULL,
		CONSTRAINT area_code_kind_key UNIQUE (code, kind_id)
	)`,
	`CREATE INDEX IF NOT EXISTS area_tree_idx ON area (tree_id, lft, rght)`,
	`CREATE INDEX IF NOT EXISTS area_parent_idx ON area (parent_id)`,
	`ALTER TABLE area ADD COLUMN IF NOT EXISTS location_id BIGINT REFERENCES area_point(id) ON DELETE SET NULL`,
	`CREATE INDEX IF NOT EXISTS area_geom_idx ON area USING GIST (geom)`,
	// boundaries reprojected to the topology SRID, refreshed by ProjectAreas
	`CREATE TABLE IF NOT EXISTS area_projected (
		area_id BIGINT PRIMARY KEY REFERENCES area(id) ON DELETE CASCADE,
		geom geometry(MultiPolygon) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS area_projected_geom_idx ON area_projected USING GIST (geom)`,
	// border ids are assigned per extraction run so the staged table can be
	// renamed over this one without a shared sequence
	`CREATE TABLE IF NOT EXISTS area_border (
		id BIGINT PRIMARY KEY,
		geom geometry(LineString, 4326) NOT NULL,
		area_ids BIGINT[] NOT NULL DEFAULT '{}',
		area_types BIGINT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS area_border_area_ids_idx ON area_border USING GIN (area_ids)`,
	`CREATE TABLE IF NOT EXISTS area_forest_state (
		id INT PRIMARY KEY CHECK (id = 1),
		version BIGINT NOT NULL DEFAULT 0
	)`,
	`INSERT INTO area_forest_state (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
}

// EnsureSchema creates the tables and indexes the area core needs.
func (db *Database) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
