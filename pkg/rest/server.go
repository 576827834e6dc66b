package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/edgeflare/stationstream/pkg/httputil"
	"github.com/edgeflare/stationstream/pkg/httputil/middleware"
	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/edgeflare/stationstream/pkg/stream"
	"go.uber.org/zap"
)

// StationReader is the read side of the station table.
type StationReader interface {
	Get(ctx context.Context, stationID int) (station.TransformedStation, bool, error)
	All(ctx context.Context) ([]station.TransformedStation, error)
}

// StatusReporter reports the lifecycle of the stream feeding the table.
type StatusReporter interface {
	State() stream.State
	Err() error
}

const shutdownTimeout = 5 * time.Second

type Server struct {
	router   *httputil.Router
	stations StationReader
	status   StatusReporter
	logger   *zap.Logger
	cors     *middleware.CORSOptions
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStatus makes /healthz report the state of a stream processor.
func WithStatus(r StatusReporter) Option {
	return func(s *Server) {
		s.status = r
	}
}

func WithCORS(opts *middleware.CORSOptions) Option {
	return func(s *Server) {
		s.cors = opts
	}
}

// NewServer exposes the station table over HTTP:
//
//	GET /stations        list, with query parameters (see parseQueryParams)
//	GET /stations/{id}   one station
//	GET /healthz         stream processor state
func NewServer(stations StationReader, opts ...Option) *Server {
	s := &Server{
		stations: stations,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = httputil.NewRouter(httputil.WithLogger(s.logger))
	s.router.Wrap(
		middleware.RequestID,
		middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: s.logger}),
		middleware.CORSWithOptions(s.cors),
	)
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.router.HandleFunc("GET /stations", s.handleList)
	s.router.HandleFunc("GET /stations/{id}", s.handleGet)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- s.router.ListenAndServe(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.router.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r.URL.Query())
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.stations.All(r.Context())
	if err != nil {
		httputil.Logger(r).Error("list stations", zap.Error(err))
		httputil.Error(w, http.StatusInternalServerError, "failed to read stations")
		return
	}

	httputil.JSON(w, http.StatusOK, params.project(params.apply(rows)))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, fmt.Sprintf("invalid station id %q", r.PathValue("id")))
		return
	}

	st, ok, err := s.stations.Get(r.Context(), id)
	if err != nil {
		httputil.Logger(r).Error("get station", zap.Int("station_id", id), zap.Error(err))
		httputil.Error(w, http.StatusInternalServerError, "failed to read station")
		return
	}
	if !ok {
		httputil.Error(w, http.StatusNotFound, fmt.Sprintf("station %d not found", id))
		return
	}
	httputil.JSON(w, http.StatusOK, st)
}

// Health is the /healthz body.
type Health struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		httputil.JSON(w, http.StatusOK, Health{State: "ok"})
		return
	}

	h := Health{State: s.status.State().String()}
	if err := s.status.Err(); err != nil {
		h.Error = err.Error()
	}
	code := http.StatusOK
	if s.status.State() == stream.Faulted {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, h)
}
