package table

import (
	"context"
	"testing"

	"github.com/edgeflare/stationstream/internal/testutil/pgtest"
	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(ctx, t)

	_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS stations_test`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS stations_test`)
	})

	s, err := NewPostgresStoreFromPool(ctx, pool, "", "stations_test")
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, 40360)
	require.NoError(t, err)
	assert.False(t, ok)

	inserted, err := s.Put(ctx, austin)
	require.NoError(t, err)
	assert.True(t, inserted)
	updated := austin
	updated.Line = station.LineRed
	inserted, err = s.Put(ctx, updated)
	require.NoError(t, err)
	assert.False(t, inserted)
	_, err = s.Put(ctx, station.TransformedStation{StationID: 40010, StationName: "Austin", Order: 2, Line: station.LineGreen})
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, 40360)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, updated, got)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 40010, all[0].StationID)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// the pool belongs to the test
	require.NoError(t, s.Close())
	require.NoError(t, pool.Ping(ctx))
}
