package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mirrorpoint"

// Cache lookup outcomes.
const (
	LookupHit    = "hit"
	LookupMiss   = "miss"
	LookupShared = "shared"
)

// Metrics owns a private registry so several instances can coexist in tests.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	errorsTotal      *prometheus.CounterVec
	rateLimitHits    *prometheus.CounterVec

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamHealth   *prometheus.GaugeVec

	cacheLookups   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheEntries   *prometheus.GaugeVec
}

type Config struct {
	LatencyBuckets []float64
	// WithRuntime adds the Go runtime and process collectors.
	WithRuntime bool
}

func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}
}

func New(cfg Config) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests dispatched, by route pattern, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Handler duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		}, []string{"route", "method"}),
		requestsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Number of requests being handled",
		}, []string{"route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors, by route pattern and kind",
		}, []string{"route", "kind"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of inbound requests rejected by the rate limiter",
		}, []string{"limit"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream requests, by method and status",
		}, []string{"method", "status"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Time to upstream response headers in seconds",
			Buckets:   cfg.LatencyBuckets,
		}, []string{"method"}),
		upstreamHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "healthy",
			Help:      "Whether the upstream origin answered its last health check",
		}, []string{"upstream"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache name and outcome (hit, miss, shared)",
		}, []string{"cache", "result"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted for capacity",
		}, []string{"cache"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held",
		}, []string{"cache"}),
	}

	m.registry.MustRegister(
		m.requestsTotal, m.requestDuration, m.requestsInFlight, m.errorsTotal, m.rateLimitHits,
		m.upstreamRequests, m.upstreamDuration, m.upstreamHealth,
		m.cacheLookups, m.cacheEvictions, m.cacheEntries,
	)
	if cfg.WithRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves the metrics in Prometheus format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (m *Metrics) RecordError(route, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(route, kind).Inc()
}

func (m *Metrics) RecordRateLimitHit(limit string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(limit).Inc()
}

func (m *Metrics) InFlightRequests(route string) func() {
	if m == nil {
		return func() {}
	}
	gauge := m.requestsInFlight.WithLabelValues(route)
	gauge.Inc()
	return gauge.Dec
}

func (m *Metrics) RecordUpstreamRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamRequests.WithLabelValues(method, label).Inc()
	m.upstreamDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordUpstreamHealth(upstream string, healthy bool) {
	if m == nil {
		return
	}
	val := 0.0
	if healthy {
		val = 1
	}
	m.upstreamHealth.WithLabelValues(upstream).Set(val)
}

func (m *Metrics) RecordCacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) RecordCacheEviction(cache string) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(cache).Inc()
}

func (m *Metrics) SetCacheEntries(cache string, n int) {
	if m == nil {
		return
	}
	m.cacheEntries.WithLabelValues(cache).Set(float64(n))
}
