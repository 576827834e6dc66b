// Package table is the materialized view of transformed stations keyed by
// station id. Every write goes to the changelog topic first and then to the
// backing Store, so a fresh Store can always be rebuilt by replaying the
// changelog.
package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeflare/stationstream/pkg/metrics"
	"github.com/edgeflare/stationstream/pkg/station"
	"go.uber.org/zap"
)

// Store persists the latest TransformedStation per station id.
type Store interface {
	Get(ctx context.Context, stationID int) (station.TransformedStation, bool, error)
	// Put stores ts and reports whether its station id was new.
	Put(ctx context.Context, ts station.TransformedStation) (bool, error)
	All(ctx context.Context) ([]station.TransformedStation, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Changelog receives every table write before it is applied. *kafka.Producer
// satisfies it.
type Changelog interface {
	Publish(ctx context.Context, key, value any) error
}

// Table pairs a Store with its changelog.
type Table struct {
	name      string
	store     Store
	changelog Changelog
	logger    *zap.Logger

	// entries mirrors the store size for the gauge. It is seeded from
	// store.Len on the first write and then counts inserts.
	mu      sync.Mutex
	entries int
	counted bool
}

type Option func(*Table)

func WithLogger(logger *zap.Logger) Option {
	return func(t *Table) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithChangelog makes Put publish to changelog before updating the store.
func WithChangelog(c Changelog) Option {
	return func(t *Table) { t.changelog = c }
}

// New returns a Table called name over store. Without WithChangelog, Put only
// writes the store.
func New(name string, store Store, opts ...Option) *Table {
	t := &Table{
		name:   name,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("table", name))
	return t
}

func (t *Table) Name() string {
	return t.name
}

// Put records ts as the latest value for its station id. The changelog write
// must be acknowledged before the store is updated; if it fails the store is
// left untouched.
func (t *Table) Put(ctx context.Context, ts station.TransformedStation) error {
	if t.changelog != nil {
		if err := t.changelog.Publish(ctx, ts.StationID, ts); err != nil {
			return fmt.Errorf("changelog write for station %d: %w", ts.StationID, err)
		}
	}
	return t.Apply(ctx, ts)
}

// Apply updates the store without writing the changelog. Replay uses it.
func (t *Table) Apply(ctx context.Context, ts station.TransformedStation) error {
	inserted, err := t.store.Put(ctx, ts)
	if err != nil {
		return fmt.Errorf("store station %d: %w", ts.StationID, err)
	}
	t.updateGauge(ctx, inserted)
	return nil
}

func (t *Table) updateGauge(ctx context.Context, inserted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !t.counted:
		n, err := t.store.Len(ctx)
		if err != nil {
			t.logger.Debug("could not count table entries", zap.Error(err))
			return
		}
		t.entries, t.counted = n, true
	case inserted:
		t.entries++
	default:
		return
	}
	metrics.TableEntries.WithLabelValues(t.name).Set(float64(t.entries))
}

// Get returns the entry for stationID and whether it exists.
func (t *Table) Get(ctx context.Context, stationID int) (station.TransformedStation, bool, error) {
	return t.store.Get(ctx, stationID)
}

// GetOrDefault returns the entry for stationID, or the zero TransformedStation
// when the key has never been written.
func (t *Table) GetOrDefault(ctx context.Context, stationID int) (station.TransformedStation, error) {
	ts, _, err := t.store.Get(ctx, stationID)
	return ts, err
}

// All returns every entry ordered by station id.
func (t *Table) All(ctx context.Context) ([]station.TransformedStation, error) {
	return t.store.All(ctx)
}

func (t *Table) Len(ctx context.Context) (int, error) {
	return t.store.Len(ctx)
}

// Close closes the store. The changelog is owned by the caller.
func (t *Table) Close() error {
	return t.store.Close()
}
