// Package metrics documents the Prometheus metrics exported by the client
// library and offers a compact snapshot of them.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, cache) to keep packages independent.
package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Prefix is shared by every metric the library registers.
const Prefix = "drf_"

// Registry is the default Prometheus registry used by the library.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is read by Summary.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Summary returns the current value of every library metric, summed over
// labels. Histograms report their observation count under name_count.
func Summary() (map[string]float64, error) {
	return SummaryFrom(Gatherer)
}

// SummaryFrom is Summary for an arbitrary gatherer.
func SummaryFrom(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, Prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[name] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[name] += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[name+"_count"] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

// Names returns the sorted keys of a summary.
func Names(summary map[string]float64) []string {
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - drf_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - drf_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - drf_errors_total{class} (Counter): Errors by class (client, throttled, server, network)
//
// Retry Metrics (pkg/client):
//   - drf_retries_total (Counter): Retry attempts
//   - drf_retry_exhausted_total (Counter): Requests that exhausted max retries
//
// Throttle Metrics (pkg/ratelimit):
//   - drf_throttle_active (Gauge): 1 while a Retry-After window is open
//   - drf_throttle_hits_total (Counter): 429 responses seen
//   - drf_throttle_wait_seconds (Histogram): Time spent waiting for a window to close
//
// Pagination Metrics (pkg/pagination):
//   - drf_pagination_pages_fetched_total (Counter): Pages fetched
//   - drf_pagination_walks_total{outcome} (Counter): Walks by outcome
//   - drf_pagination_items_total (Counter): Items aggregated
//   - drf_pagination_walk_duration_seconds (Histogram): Walk duration
//
// Cache Metrics (pkg/cache):
//   - drf_cache_hits_total{layer} (Counter): Hits in memory or in the store
//   - drf_cache_misses_total (Counter): Producer executions started
//   - drf_cache_joins_total (Counter): Calls attached to an in-flight execution
//   - drf_cache_producer_errors_total (Counter): Failed executions
//   - drf_cache_entries (Gauge): Cached keys
//   - drf_cache_store_errors_total{operation} (Counter): Store operation errors
//
// Example Prometheus Queries:
//
//   # Cache de-duplication ratio
//   sum(rate(drf_cache_joins_total[5m])) / sum(rate(drf_cache_misses_total[5m]))
//
//   # Request Error Rate
//   sum by (class) (rate(drf_errors_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(drf_request_duration_seconds_bucket[5m]))
//
//   # Average pages per walk
//   rate(drf_pagination_pages_fetched_total[5m]) / rate(drf_pagination_walks_total[5m])
