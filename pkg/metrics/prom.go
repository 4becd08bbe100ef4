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
	ExtractedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melt_extracted_records_total",
			Help: "Total number of records emitted by extractors, by stream",
		},
		[]string{"extractor", "stream"},
	)

	LoadedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melt_loaded_records_total",
			Help: "Total number of records handed to loaders",
		},
		[]string{"loader", "stream"},
	)

	LoadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melt_load_errors_total",
			Help: "Total number of loader failures by loader",
		},
		[]string{"loader"},
	)

	DroppedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melt_dropped_records_total",
			Help: "Total number of records dropped because a loader channel was full",
		},
		[]string{"loader"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "melt_run_duration_seconds",
			Help:    "Duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"extractor"},
	)
)

// PromServerOpts configures the metrics endpoint. Zero fields fall
// back to defaults.
type PromServerOpts struct {
	Addr              string
	Path              string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	Logger            *zap.Logger
}

func (o *PromServerOpts) withDefaults() PromServerOpts {
	out := PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		Logger:            zap.NewNop(),
	}
	if o == nil {
		return out
	}
	out.Addr = cmp.Or(o.Addr, out.Addr)
	out.Path = cmp.Or(o.Path, out.Path)
	out.ShutdownTimeout = cmp.Or(o.ShutdownTimeout, out.ShutdownTimeout)
	out.ReadHeaderTimeout = cmp.Or(o.ReadHeaderTimeout, out.ReadHeaderTimeout)
	if o.Logger != nil {
		out.Logger = o.Logger
	}
	return out
}

// StartPrometheusServer serves the metrics endpoint until ctx is
// canceled, then shuts the server down within the shutdown timeout.
// The serving goroutine is tracked through wg.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	o := opts.withDefaults()

	mux := http.NewServeMux()
	mux.Handle(o.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              o.Addr,
		Handler:           mux,
		ReadHeaderTimeout: o.ReadHeaderTimeout,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.Logger.Info("metrics server listening", zap.String("addr", o.Addr), zap.String("path", o.Path))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			o.Logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			o.Logger.Warn("metrics server shutdown", zap.Error(err))
			return
		}
		o.Logger.Info("metrics server shutdown complete")
	}()
}
