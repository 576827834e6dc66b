package table

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/edgeflare/stationstream/pkg/station"
)

// MemoryStore keeps the table in process memory. It is lost on restart and
// rebuilt from the changelog.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int]station.TransformedStation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int]station.TransformedStation)}
}

func (s *MemoryStore) Get(_ context.Context, stationID int) (station.TransformedStation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.entries[stationID]
	return ts, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, ts station.TransformedStation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.entries[ts.StationID]
	s.entries[ts.StationID] = ts
	return !exists, nil
}

func (s *MemoryStore) All(_ context.Context) ([]station.TransformedStation, error) {
	s.mu.RLock()
	out := slices.Collect(maps.Values(s.entries))
	s.mu.RUnlock()

	slices.SortFunc(out, byStationID)
	return out, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func byStationID(a, b station.TransformedStation) int {
	return cmp.Compare(a.StationID, b.StationID)
}
