package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming gateway.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	errorsTotal             prometheus.Counter
	manifestsRewrittenTotal prometheus.Counter
	relaySessionsTotal      prometheus.Counter
	relaySessionsActive     prometheus.Gauge
	probeCacheHits          prometheus.Gauge
	probeCacheMisses        prometheus.Gauge
	probeCacheEntries       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the gateway.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytdlp2strm_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytdlp2strm_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	manifestsRewrittenTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytdlp2strm_manifests_rewritten_total",
		Help: "Total number of multivariant manifests rewritten and served",
	})
	relaySessionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytdlp2strm_relay_sessions_total",
		Help: "Total number of relay sessions started",
	})
	relaySessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ytdlp2strm_relay_sessions_active",
		Help: "Number of relay sessions currently streaming",
	})
	probeCacheHits := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ytdlp2strm_probe_cache_hits",
		Help: "Metadata probe cache hits",
	})
	probeCacheMisses := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ytdlp2strm_probe_cache_misses",
		Help: "Metadata probe cache misses",
	})
	probeCacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ytdlp2strm_probe_cache_entries",
		Help: "Entries currently held by the metadata probe cache",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		manifestsRewrittenTotal,
		relaySessionsTotal,
		relaySessionsActive,
		probeCacheHits,
		probeCacheMisses,
		probeCacheEntries,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		errorsTotal:             errorsTotal,
		manifestsRewrittenTotal: manifestsRewrittenTotal,
		relaySessionsTotal:      relaySessionsTotal,
		relaySessionsActive:     relaySessionsActive,
		probeCacheHits:          probeCacheHits,
		probeCacheMisses:        probeCacheMisses,
		probeCacheEntries:       probeCacheEntries,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncManifestsRewritten increments the rewritten-manifest counter.
func (m *Metrics) IncManifestsRewritten() {
	m.manifestsRewrittenTotal.Inc()
}

// RelaySessionStarted records a new relay session and raises the active gauge.
func (m *Metrics) RelaySessionStarted() {
	m.relaySessionsTotal.Inc()
	m.relaySessionsActive.Inc()
}

// RelaySessionEnded lowers the active relay session gauge.
func (m *Metrics) RelaySessionEnded() {
	m.relaySessionsActive.Dec()
}

// SetProbeCacheStats refreshes the probe cache gauges.
func (m *Metrics) SetProbeCacheStats(hits, misses int64, entries int) {
	m.probeCacheHits.Set(float64(hits))
	m.probeCacheMisses.Set(float64(misses))
	m.probeCacheEntries.Set(float64(entries))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. cache stats).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
