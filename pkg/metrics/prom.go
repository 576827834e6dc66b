package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ProcessedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationstream_processed_events_total",
			Help: "Total number of inbound station events upserted into the table",
		},
		[]string{"topic", "table"},
	)

	SkippedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationstream_skipped_events_total",
			Help: "Total number of inbound events skipped because they could not be transformed",
		},
		[]string{"topic"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationstream_publish_errors_total",
			Help: "Total number of failed sends by topic",
		},
		[]string{"topic"},
	)

	TopicsProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationstream_topics_provisioned_total",
			Help: "Topic provisioning outcomes by result (existing, created, failed)",
		},
		[]string{"result"},
	)

	TableEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stationstream_table_entries",
			Help: "Number of keys in the materialized table",
		},
		[]string{"table"},
	)

	ProcessorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stationstream_processor_state",
			Help: "Current stream processor state (0 idle, 1 running, 2 stopped, 3 faulted)",
		},
		[]string{"group"},
	)

	EventProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationstream_event_processing_duration_seconds",
			Help:    "Duration of transform-and-upsert for one inbound event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
	Logger            *zap.Logger
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given options.
// The server shuts down gracefully when ctx is canceled; wg is released once it has.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
		effectiveOpts.Logger = opts.Logger
	}
	logger := effectiveOpts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting metrics server", zap.String("addr", effectiveOpts.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}
