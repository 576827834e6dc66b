package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/edgeflare/stationstream/pkg/stream"
	"github.com/edgeflare/stationstream/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var fixtures = []station.TransformedStation{
	{StationID: 40360, StationName: "Austin", Order: 1, Line: station.LineBlue},
	{StationID: 40380, StationName: "Clark/Lake", Order: 2, Line: station.LineBlue},
	{StationID: 41400, StationName: "Roosevelt", Order: 7, Line: station.LineRed},
	{StationID: 40020, StationName: "Harlem/Lake", Order: 3, Line: station.LineGreen},
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	store := table.NewMemoryStore()
	for _, s := range fixtures {
		_, err := store.Put(context.Background(), s)
		require.NoError(t, err)
	}
	return NewServer(store, opts...)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestGetStation(t *testing.T) {
	s := newTestServer(t)

	w := get(t, s, "/stations/40360")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, fixtures[0], decode[station.TransformedStation](t, w))
}

func TestGetStationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		target string
		code   int
	}{
		{"/stations/1", http.StatusNotFound},
		{"/stations/austin", http.StatusBadRequest},
		{"/stations/-4", http.StatusBadRequest},
		{"/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.code, get(t, s, tt.target).Code)
		})
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListStations(t *testing.T) {
	s := newTestServer(t)

	w := get(t, s, "/stations")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]station.TransformedStation](t, w)
	require.Len(t, got, 4)
	assert.Equal(t, 40020, got[0].StationID)

	w = get(t, s, "/stations?line=eq.blue&order=order.desc")
	got = decode[[]station.TransformedStation](t, w)
	assert.Equal(t, []station.TransformedStation{fixtures[1], fixtures[0]}, got)

	w = get(t, s, "/stations?select=station_id,line&limit=1&offset=1")
	assert.JSONEq(t, `[{"station_id":40360,"line":"blue"}]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/stations?colour=eq.blue").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/stations?limit=ten").Code)
}

type failingReader struct{}

func (failingReader) Get(context.Context, int) (station.TransformedStation, bool, error) {
	return station.TransformedStation{}, false, errors.New("connection refused")
}

func (failingReader) All(context.Context) ([]station.TransformedStation, error) {
	return nil, errors.New("connection refused")
}

func TestStoreErrors(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewServer(failingReader{}, WithLogger(zap.New(core)))

	w := get(t, s, "/stations")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")

	assert.Equal(t, http.StatusInternalServerError, get(t, s, "/stations/40360").Code)
	assert.Equal(t, 2, logs.FilterMessageSnippet("station").Len())
}

type fakeStatus struct {
	state stream.State
	err   error
}

func (f fakeStatus) State() stream.State { return f.state }
func (f fakeStatus) Err() error          { return f.err }

func TestHealth(t *testing.T) {
	w := get(t, newTestServer(t), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"ok"}`, w.Body.String())

	w = get(t, newTestServer(t, WithStatus(fakeStatus{state: stream.Running})), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"running"}`, w.Body.String())

	faulted := fakeStatus{state: stream.Faulted, err: &stream.FaultedError{Err: errors.New("broker down")}}
	w = get(t, newTestServer(t, WithStatus(faulted)), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	h := decode[Health](t, w)
	assert.Equal(t, "faulted", h.State)
	assert.Contains(t, h.Error, "broker down")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/stations", nil)
	req.Header.Set("Origin", "http://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
