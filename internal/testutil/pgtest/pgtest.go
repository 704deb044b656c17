// Package pgtest provides PostgreSQL helpers for integration tests. Tests
// using it are skipped unless TEST_DATABASE points at a disposable
// database.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// ConnString returns the test database connection string, skipping the test
// when none is configured.
func ConnString(t testing.TB) string {
	t.Helper()
	connString := os.Getenv("TEST_DATABASE")
	if connString == "" {
		t.Skip("TEST_DATABASE not set; skipping integration test")
	}
	return connString
}

// Pool creates a connection pool against the test database and closes it
// on cleanup.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(ctx, ConnString(t))
	require.NoError(t, err)

	t.Cleanup(pool.Close)
	return pool
}

// SchemaPool creates a pool whose connections default to a dedicated schema,
// so test packages sharing one TEST_DATABASE cannot interfere. The schema is
// created fresh and dropped on cleanup.
func SchemaPool(ctx context.Context, t testing.TB, schemaName string) *pgxpool.Pool {
	t.Helper()

	admin := Pool(ctx, t)
	_, err := admin.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %q CASCADE", schemaName))
	require.NoError(t, err)
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %q", schemaName))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %q CASCADE", schemaName))
	})

	cfg, err := pgxpool.ParseConfig(ConnString(t))
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schemaName

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
