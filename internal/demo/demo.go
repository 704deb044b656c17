// Package demo applies the bundled Shot/Asset schema: two base tables and
// the AssetXShot join table mediating their many-to-many association. The
// catalog must be populated (or reloaded) after this runs.
package demo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS "Shot" (
		id integer PRIMARY KEY,
		name text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "Asset" (
		id integer PRIMARY KEY,
		name text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "AssetXShot" (
		asset_id integer NOT NULL REFERENCES "Asset" (id),
		shot_id integer NOT NULL REFERENCES "Shot" (id),
		UNIQUE (asset_id, shot_id)
	)`,
}

// Apply creates the demo tables if they do not exist.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply demo schema: %w", err)
		}
	}
	return nil
}

// Drop removes the demo tables, association first.
func Drop(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS "AssetXShot"`,
		`DROP TABLE IF EXISTS "Shot"`,
		`DROP TABLE IF EXISTS "Asset"`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("drop demo schema: %w", err)
		}
	}
	return nil
}
