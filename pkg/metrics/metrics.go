// Package metrics serves the upstream client's Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, crumb, redirect, cookies) and registered with the default
// registry via promauto; this package documents them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves every metric in the default registry in the Prometheus
// text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - yf_requests_total{host, status} (Counter): Upstream requests by host and HTTP status ("error" for transport failures)
//   - yf_request_duration_seconds{host} (Histogram): Request duration including throttle wait
//   - yf_errors_total{class} (Counter): Failed sends by error class
//   - yf_cache_served_total (Counter): Sends answered from the cache
//
// Throttle Metrics (pkg/ratelimit):
//   - yf_ratelimit_in_flight (Gauge): Requests currently holding a parallel slot
//   - yf_ratelimit_wait_seconds{slot} (Histogram): Time spent waiting for a parallel or window slot
//   - yf_ratelimit_admissions_total (Counter): Requests admitted by the gate
//   - yf_ratelimit_cancelled_total{slot} (Counter): Requests cancelled while waiting for a slot
//
// Crumb Metrics (pkg/crumb):
//   - yf_crumb_bootstrap_total{outcome} (Counter): Bootstrap attempts by outcome
//   - yf_crumb_bootstrap_duration_seconds (Histogram): Bootstrap duration
//   - yf_crumb_bootstrap_shared_total (Counter): Callers that joined an in-progress bootstrap
//
// Redirect Metrics (pkg/redirect):
//   - yf_redirects_total{route} (Counter): Redirects followed by route
//   - yf_redirect_exhausted_total (Counter): Chains that exceeded the hop limit
//
// Cookie Metrics (pkg/cookies):
//   - yf_cookies_stored (Gauge): Cookies currently stored
//   - yf_cookie_deletions_total (Counter): Cookies removed by expiry or deletion markers
//
// Cache Metrics (pkg/cache):
//   - yf_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - yf_cache_misses_total (Counter): Cache misses
//   - yf_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - yf_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(yf_cache_hits_total[5m])) /
//   (sum(rate(yf_cache_hits_total[5m])) + sum(rate(yf_cache_misses_total[5m])))
//
//   # Throttle Saturation
//   yf_ratelimit_in_flight >= 4
//
//   # Upstream Error Rate
//   rate(yf_errors_total[5m])
//
//   # P95 Throttle Wait
//   histogram_quantile(0.95, rate(yf_ratelimit_wait_seconds_bucket{slot="window"}[5m]))
//
//   # Crumb Bootstrap Failures
//   rate(yf_crumb_bootstrap_total{outcome!="success"}[5m])
