package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig points the store at a database and table.
type PostgresConfig struct {
	ConnString string `mapstructure:"connString"`
	Schema     string `mapstructure:"schema"`
	Table      string `mapstructure:"table"`
}

// PostgresStore keeps the table as rows of a postgres table, upserted by station id.
type PostgresStore struct {
	pool  *pgxpool.Pool
	ident string
	owned bool
}

// NewPostgresStore opens a pool for cfg.ConnString and creates the table if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	s, err := NewPostgresStoreFromPool(ctx, pool, cfg.Schema, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewPostgresStoreFromPool uses an existing pool, which Close leaves open.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool, schema, table string) (*PostgresStore, error) {
	if table == "" {
		table = "stations"
	}
	ident := pgx.Identifier{table}
	if schema != "" {
		ident = pgx.Identifier{schema, table}
	}

	s := &PostgresStore{pool: pool, ident: ident.Sanitize()}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	station_id   integer PRIMARY KEY,
	station_name text NOT NULL,
	"order"      integer NOT NULL,
	line         text NOT NULL,
	updated_at   timestamptz NOT NULL DEFAULT now()
)`, s.ident))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.ident, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, stationID int) (station.TransformedStation, bool, error) {
	var ts station.TransformedStation
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT station_id, station_name, "order", line FROM %s WHERE station_id = $1`, s.ident),
		stationID,
	).Scan(&ts.StationID, &ts.StationName, &ts.Order, &ts.Line)
	if errors.Is(err, pgx.ErrNoRows) {
		return station.TransformedStation{}, false, nil
	}
	if err != nil {
		return station.TransformedStation{}, false, err
	}
	return ts, true, nil
}

// Put upserts ts. xmax is zero only on a row the statement inserted.
func (s *PostgresStore) Put(ctx context.Context, ts station.TransformedStation) (bool, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (station_id, station_name, "order", line)
VALUES ($1, $2, $3, $4)
ON CONFLICT (station_id) DO UPDATE SET
	station_name = EXCLUDED.station_name,
	"order" = EXCLUDED."order",
	line = EXCLUDED.line,
	updated_at = now()
RETURNING (xmax = 0)`, s.ident),
		ts.StationID, ts.StationName, ts.Order, ts.Line).Scan(&inserted)
	return inserted, err
}

func (s *PostgresStore) All(ctx context.Context) ([]station.TransformedStation, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT station_id, station_name, "order", line FROM %s ORDER BY station_id`, s.ident))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (station.TransformedStation, error) {
		var ts station.TransformedStation
		err := row.Scan(&ts.StationID, &ts.StationName, &ts.Order, &ts.Line)
		return ts, err
	})
}

func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.ident)).Scan(&n)
	return n, err
}

func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
