// Package metrics provides the Prometheus registry and exposition handler for the collector.
// All metrics are defined in their respective packages (client, auth, quota, pagination,
// progress, sink, collector) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
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

// Registry is the default Prometheus registry used by the collector.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects what Registry holds for exposition.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing all registered metrics. Scrapes of
// the handler itself are counted in Registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - collector_requests_total{status} (Counter): HTTP attempts by status code or "network_error"
//   - collector_request_duration_seconds (Histogram): HTTP attempt duration
//   - collector_errors_total{class} (Counter): Errors by class (network, server, client, auth, quota)
//   - collector_retries_total{error_class} (Counter): Retry attempts by error class
//   - collector_retry_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - collector_retry_exhausted_total{error_class} (Counter): Requests that exhausted the schedule
//
// Credential Metrics (pkg/auth):
//   - collector_credential_exchanges_total{result} (Counter): Token exchanges (ok, rejected)
//   - collector_credential_invalidations_total (Counter): Credentials dropped after a 401
//
// Quota Metrics (pkg/quota):
//   - collector_quota_used (Gauge): Requests counted against the daily budget
//   - collector_quota_blocks_total (Counter): Requests refused locally by the budget
//   - collector_quota_exhausted_total (Counter): Quota exhaustion signals from the provider
//
// Pagination Metrics (pkg/pagination):
//   - collector_pages_fetched_total (Counter): Pages fetched successfully
//   - collector_records_emitted_total (Counter): Records handed to the sink
//   - collector_duplicates_skipped_total (Counter): Entities dropped as already seen
//
// Progress Metrics (pkg/progress):
//   - collector_progress_writes_total{backend, result} (Counter): Progress saves
//
// Sink Metrics (pkg/sink):
//   - collector_sink_rows_written_total (Counter): CSV rows appended to partition files
//
// Run Metrics (pkg/collector):
//   - collector_partitions_total{status} (Counter): Partitions reaching complete, failed or paused
//   - collector_runs_total{status} (Counter): Runs by final status
//
// Example Prometheus Queries:
//
//   # Quota headroom
//   collector_quota_used
//
//   # Retry pressure
//   rate(collector_retries_total[15m])
//
//   # Records per minute
//   rate(collector_records_emitted_total[1m]) * 60
