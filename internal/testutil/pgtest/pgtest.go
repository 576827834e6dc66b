// Package pgtest connects integration tests to the database named by
// TEST_DATABASE. Tests are skipped when it is unset or in -short mode.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// ConnString returns TEST_DATABASE or skips t.
func ConnString(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	connString := os.Getenv("TEST_DATABASE")
	if connString == "" {
		t.Skip("TEST_DATABASE not set")
	}
	return connString
}

// Pool opens a pool to the test database, logging server notices through t,
// and closes it when the test ends.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	config, err := pgxpool.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))
	return pool
}
