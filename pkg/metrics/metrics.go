// Package metrics documents the Prometheus metrics of fleet-sync and serves
// them. Metrics are defined with promauto in the packages that own them
// (client, ratelimit, pagination, cache, aggregate, progress, ingest,
// inventory, api) to keep those packages independent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Handler serves the metrics in Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Upstream Requests (pkg/client):
//   - fleet_requests_total{resource, status} (Counter): Requests by resource (devices, availability) and HTTP status
//   - fleet_request_duration_seconds{resource} (Histogram): Request duration by resource
//   - fleet_errors_total{class} (Counter): Errors by class (client, server, rate_limit, timeout, network, decode)
//   - fleet_retries_total{error_class} (Counter): Retry attempts by error class
//   - fleet_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - fleet_retry_exhausted_total{error_class} (Counter): Requests that exhausted max attempts
//
// Admission Gate (pkg/ratelimit):
//   - fleet_admission_in_flight (Gauge): Requests holding a slot
//   - fleet_admission_queued (Gauge): Requests waiting for a slot
//   - fleet_admission_wait_seconds (Histogram): Time spent waiting for a slot
//
// Batching (pkg/pagination):
//   - fleet_batches_total{outcome} (Counter): Page batches by outcome (ok, failed)
//   - fleet_batch_duration_seconds (Histogram): Time to resolve one batch
//
// Aggregation (internal/aggregate):
//   - fleet_aggregate_records_total{outcome} (Counter): Records folded (active, inactive, skipped_name, skipped_date, skipped_malformed)
//
// Runs (internal/ingest, internal/progress):
//   - fleet_runs_total{project, outcome} (Counter): Activity runs by outcome
//   - fleet_run_duration_seconds{project} (Histogram): Activity run duration
//   - fleet_run_completed_pages{project} (Gauge): Pages completed by the current or last run
//   - fleet_run_total_pages{project} (Gauge): Pages reported for the current or last run
//   - fleet_run_fetching{project} (Gauge): 1 while a run is fetching
//
// Inventory (internal/inventory):
//   - fleet_inventory_syncs_total{project, outcome} (Counter): Sync cycles by outcome
//   - fleet_inventory_devices{project} (Gauge): Devices written by the last successful sync
//
// Response Cache (pkg/cache):
//   - fleet_cache_hits_total{layer} (Counter): Cache hits by layer
//   - fleet_cache_misses_total (Counter): Cache misses
//   - fleet_cache_size_bytes{layer} (Gauge): Bytes written to the cache
//   - fleet_cache_not_modified_total (Counter): 304 Not Modified responses served
//   - fleet_cache_invalidations_total (Counter): Keys removed by project invalidation
//   - fleet_cache_errors_total{operation} (Counter): Cache operation errors
//
// API (internal/api):
//   - fleet_api_requests_total{route, code} (Counter): Requests by route and status code
//   - fleet_api_request_duration_seconds{route} (Histogram): Request duration by route
//
// Example Prometheus Queries:
//
//   # Run failure rate per project
//   sum by (project) (rate(fleet_runs_total{outcome="failed"}[1h]))
//
//   # Progress of a running run
//   fleet_run_completed_pages / fleet_run_total_pages
//
//   # Upstream rate limiting
//   rate(fleet_errors_total{class="rate_limit"}[5m])
//
//   # Cache Hit Rate
//   sum(rate(fleet_cache_hits_total[5m])) /
//   (sum(rate(fleet_cache_hits_total[5m])) + sum(rate(fleet_cache_misses_total[5m])))
//
//   # P95 admission wait
//   histogram_quantile(0.95, rate(fleet_admission_wait_seconds_bucket[5m]))
