package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nholik/testflight-sentinel/internal/healthcheck"
	"github.com/nholik/testflight-sentinel/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Options selects which endpoints are served and on which ports. A zero port disables that listener.
type Options struct {
	CheckInterval time.Duration
	Tracker       *healthcheck.Tracker
	Metrics       *metrics.Metrics
	HealthPort    int
	MetricsPort   int
}

// Start launches health and metrics HTTP servers as configured. Servers stop when ctx is canceled.
func Start(ctx context.Context, logger zerolog.Logger, opts Options) {
	if opts.HealthPort == 0 && opts.MetricsPort == 0 {
		return
	}

	if opts.HealthPort > 0 && opts.HealthPort == opts.MetricsPort {
		startServer(ctx, logger, newMux(opts, true, true), opts.HealthPort, "health/metrics")
		return
	}

	if opts.HealthPort > 0 {
		startServer(ctx, logger, newMux(opts, true, false), opts.HealthPort, "health")
	}

	if opts.MetricsPort > 0 {
		startServer(ctx, logger, newMux(opts, false, true), opts.MetricsPort, "metrics")
	}
}

func newMux(opts Options, health, withMetrics bool) *http.ServeMux {
	mux := http.NewServeMux()
	if health {
		mux.HandleFunc("/healthz", healthcheck.HealthHandler(opts.Tracker, opts.CheckInterval))
		mux.HandleFunc("/readyz", healthcheck.ReadyHandler(opts.Tracker))
	}
	if withMetrics && opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}
	return mux
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
