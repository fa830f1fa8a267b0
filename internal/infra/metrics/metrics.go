package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RouterEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "router_events_total",
		Help: "Store events dispatched by the router",
	}, []string{"kind"})

	WatchedPosts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "router_watched_posts",
		Help: "Posts with installed star listeners",
	})

	Reconciliations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "star_reconciliations_total",
		Help: "starCount recomputations by result",
	}, []string{"result"})

	StoreConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_transaction_conflicts_total",
		Help: "Compare-and-swap conflicts retried by the store",
	})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Star notifications by outcome",
	}, []string{"outcome"})

	DigestRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_runs_total",
		Help: "Weekly digest runs by result",
	}, []string{"result"})

	DigestBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Time spent building and sending a digest",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of outbound network requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Outbound network requests",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RouterEvents,
		WatchedPosts,
		Reconciliations,
		StoreConflicts,
		Notifications,
		DigestRuns,
		DigestBuildSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer serves /metrics on addr until ctx is done.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest records duration and status of an outbound request.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveReconcile counts a starCount recomputation.
func ObserveReconcile(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	Reconciliations.WithLabelValues(result).Inc()
}

// IncRouterEvent counts a dispatched event.
func IncRouterEvent(kind string) {
	RouterEvents.WithLabelValues(kind).Inc()
}

// IncNotification counts a notification outcome.
func IncNotification(outcome string) {
	Notifications.WithLabelValues(outcome).Inc()
}

// ObserveDigest records a digest run.
func ObserveDigest(start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	DigestRuns.WithLabelValues(result).Inc()
	DigestBuildSeconds.Observe(time.Since(start).Seconds())
}
