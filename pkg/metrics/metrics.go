// Package metrics exposes the Prometheus registry of the request stack.
// Metrics are defined with promauto in the packages that record them
// (vrequest, queue, client, cache, ratelimit) and registered with the
// default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every vrequest metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request builder (pkg/vrequest):
//   - vrequest_dispatched_total{method} (Counter): Requests submitted through the manager
//   - vrequest_decode_failures_total (Counter): Payloads delivered as nil because they did not decode
//
// Queue (pkg/queue):
//   - vrequest_queue_pending (Gauge): Requests added and not yet finished
//   - vrequest_queue_requests_total{outcome} (Counter): Finished requests by outcome
//     (success, error, cancelled, rejected)
//
// Network (pkg/client):
//   - vrequest_network_requests_total{method, status} (Counter): Attempts by method and status
//   - vrequest_network_request_duration_seconds{method} (Histogram): Duration including retries
//   - vrequest_network_errors_total{class} (Counter): Errors by class
//   - vrequest_network_retries_total{error_class} (Counter): Retry attempts
//   - vrequest_network_retry_backoff_seconds{error_class} (Histogram): Pauses between attempts
//   - vrequest_network_retry_exhausted_total{error_class} (Counter): Requests whose policy ran out
//
// Cache (pkg/cache):
//   - vrequest_cache_hits_total, vrequest_cache_misses_total (Counter)
//   - vrequest_cache_size_bytes (Gauge): Bytes written to the cache
//   - vrequest_cache_not_modified_total (Counter): Entries refreshed by a 304
//   - vrequest_cache_errors_total{operation} (Counter)
//
// Rate limit (pkg/ratelimit):
//   - vrequest_rate_limit_remaining{host} (Gauge)
//   - vrequest_rate_limit_blocks_total{host}, vrequest_rate_limit_throttles_total{host} (Counter)
//
// Example Prometheus Queries:
//
//	# Cache hit rate
//	sum(rate(vrequest_cache_hits_total[5m])) /
//	(sum(rate(vrequest_cache_hits_total[5m])) + sum(rate(vrequest_cache_misses_total[5m])))
//
//	# Share of requests whose retries ran out
//	sum(rate(vrequest_network_retry_exhausted_total[5m])) / sum(rate(vrequest_dispatched_total[5m]))
//
//	# P95 network latency
//	histogram_quantile(0.95, rate(vrequest_network_request_duration_seconds_bucket[5m]))
