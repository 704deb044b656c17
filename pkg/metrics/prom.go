// Package metrics exposes Prometheus instrumentation for the gateway and a
// standalone metrics server.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbsvc_requests_total",
			Help: "Total number of gateway requests by table, operation, and status",
		},
		[]string{"table", "op", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbsvc_request_duration_seconds",
			Help:    "Duration of gateway request handling",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table", "op"},
	)
)

type ServerOpts struct {
	Addr              string
	Path              string        // metrics endpoint path, defaults to "/metrics"
	ShutdownTimeout   time.Duration // defaults to 5 seconds
	ReadHeaderTimeout time.Duration // defaults to 3 seconds
}

func defaultServerOpts() ServerOpts {
	return ServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartServer runs a Prometheus metrics server, shutting down gracefully
// when the context is canceled.
func StartServer(ctx context.Context, wg *sync.WaitGroup, opts *ServerOpts, logger *zap.Logger) {
	effective := defaultServerOpts()
	if opts != nil {
		if opts.Addr != "" {
			effective.Addr = opts.Addr
		}
		if opts.Path != "" {
			effective.Path = opts.Path
		}
		if opts.ShutdownTimeout != 0 {
			effective.ShutdownTimeout = opts.ShutdownTimeout
		}
		if opts.ReadHeaderTimeout != 0 {
			effective.ReadHeaderTimeout = opts.ReadHeaderTimeout
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(effective.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effective.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effective.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting metrics server", zap.String("addr", effective.Addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effective.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}
