// Package metrics provides the client's instrumentation: Prometheus
// collectors registered on a per-Registry prometheus.Registry (no package
// globals, so multiple clients in one process do not collide) plus an
// in-process snapshot with latency percentiles over a bounded window.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// latencyWindow is the number of recent request latencies retained for
// percentile computation. Oldest entries are evicted FIFO.
const latencyWindow = 1000

// Registry collects client metrics. It owns its own Prometheus registry;
// use Handler to expose it for scraping and Snapshot for in-process
// inspection.
type Registry struct {
	serviceName string
	promReg     *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	circuitOpens  *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	circuitState  *prometheus.GaugeVec

	mu        sync.Mutex
	counters  counters
	latencies []float64 // ring buffer, seconds
	head      int
	count     int
}

type counters struct {
	requestsTotal   int64
	requestsSuccess int64
	requestsFailed  int64
	circuitOpens    int64
	cacheHits       int64
	cacheMisses     int64
	retriesTotal    int64
}

// Snapshot is a point-in-time aggregate of the client's counters and
// latency distribution.
type Snapshot struct {
	RequestsTotal   int64   `json:"requests_total"`
	RequestsSuccess int64   `json:"requests_success"`
	RequestsFailed  int64   `json:"requests_failed"`
	CircuitOpens    int64   `json:"circuit_opens"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	RetriesTotal    int64   `json:"retries_total"`
	SuccessRate     float64 `json:"success_rate"`
	ErrorRate       float64 `json:"error_rate"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	LatencyP50      float64 `json:"latency_p50"`
	LatencyP95      float64 `json:"latency_p95"`
	LatencyP99      float64 `json:"latency_p99"`
	LatencyAvg      float64 `json:"latency_avg"`
}

// New creates a Registry for the given calling service name.
func New(serviceName string) *Registry {
	r := &Registry{
		serviceName: serviceName,
		promReg:     prometheus.NewRegistry(),
		latencies:   make([]float64, latencyWindow),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_requests_total",
				Help: "Total outbound requests by target, method, and outcome",
			},
			[]string{"service", "target", "method", "status"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_circuit_opens_total",
				Help: "Total calls rejected by an open circuit breaker",
			},
			[]string{"service", "circuit"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_cache_hits_total",
				Help: "Total response cache hits",
			},
			[]string{"service", "target"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_cache_misses_total",
				Help: "Total response cache misses",
			},
			[]string{"service", "target"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_retries_total",
				Help: "Total retry attempts",
			},
			[]string{"service", "target"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "service_client_request_duration_seconds",
				Help:    "Outbound request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "target", "method"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_client_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service", "target"},
		),
	}

	r.promReg.MustRegister(
		r.requestsTotal,
		r.circuitOpens,
		r.cacheHits,
		r.cacheMisses,
		r.retriesTotal,
		r.latency,
		r.circuitState,
	)

	return r
}

// Handler returns an http.Handler serving this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.promReg, promhttp.HandlerOpts{})
}

// RecordRequest counts a request attempt against a target.
func (r *Registry) RecordRequest(target, method string) {
	r.requestsTotal.WithLabelValues(r.serviceName, target, method, "attempted").Inc()

	r.mu.Lock()
	r.counters.requestsTotal++
	r.mu.Unlock()
}

// RecordSuccess counts a successful request and records its latency in the
// sliding window.
func (r *Registry) RecordSuccess(target, method string, latency time.Duration) {
	r.requestsTotal.WithLabelValues(r.serviceName, target, method, "success").Inc()
	r.latency.WithLabelValues(r.serviceName, target, method).Observe(latency.Seconds())

	r.mu.Lock()
	r.counters.requestsSuccess++
	r.recordLatency(latency.Seconds())
	r.mu.Unlock()
}

// RecordFailure counts a failed request.
func (r *Registry) RecordFailure(target, method string) {
	r.requestsTotal.WithLabelValues(r.serviceName, target, method, "failed").Inc()

	r.mu.Lock()
	r.counters.requestsFailed++
	r.mu.Unlock()
}

// RecordCircuitOpen counts a call rejected because the named circuit is open.
func (r *Registry) RecordCircuitOpen(circuit string) {
	r.circuitOpens.WithLabelValues(r.serviceName, circuit).Inc()

	r.mu.Lock()
	r.counters.circuitOpens++
	r.mu.Unlock()
}

// RecordCacheHit counts a response served from cache.
func (r *Registry) RecordCacheHit(target string) {
	r.cacheHits.WithLabelValues(r.serviceName, target).Inc()

	r.mu.Lock()
	r.counters.cacheHits++
	r.mu.Unlock()
}

// RecordCacheMiss counts a cache lookup that found nothing.
func (r *Registry) RecordCacheMiss(target string) {
	r.cacheMisses.WithLabelValues(r.serviceName, target).Inc()

	r.mu.Lock()
	r.counters.cacheMisses++
	r.mu.Unlock()
}

// RecordRetry counts one retry attempt against a target.
func (r *Registry) RecordRetry(target string) {
	r.retriesTotal.WithLabelValues(r.serviceName, target).Inc()

	r.mu.Lock()
	r.counters.retriesTotal++
	r.mu.Unlock()
}

// SetCircuitState publishes the current breaker state for a target
// (0=closed, 1=open, 2=half-open).
func (r *Registry) SetCircuitState(target string, state int) {
	r.circuitState.WithLabelValues(r.serviceName, target).Set(float64(state))
}

// recordLatency appends a latency observation to the ring buffer, evicting
// the oldest entry once the window is full. Must be called with r.mu held.
func (r *Registry) recordLatency(seconds float64) {
	r.latencies[r.head] = seconds
	r.head = (r.head + 1) % latencyWindow
	if r.count < latencyWindow {
		r.count++
	}
}

// Snapshot returns the current aggregate counters and latency percentiles.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	c := r.counters
	lat := make([]float64, r.count)
	if r.count < latencyWindow {
		copy(lat, r.latencies[:r.count])
	} else {
		// Window full: entries are valid in ring order, order does not
		// matter since we sort below.
		copy(lat, r.latencies)
	}
	r.mu.Unlock()

	s := Snapshot{
		RequestsTotal:   c.requestsTotal,
		RequestsSuccess: c.requestsSuccess,
		RequestsFailed:  c.requestsFailed,
		CircuitOpens:    c.circuitOpens,
		CacheHits:       c.cacheHits,
		CacheMisses:     c.cacheMisses,
		RetriesTotal:    c.retriesTotal,
	}

	if c.requestsTotal > 0 {
		s.SuccessRate = float64(c.requestsSuccess) / float64(c.requestsTotal)
		s.ErrorRate = float64(c.requestsFailed) / float64(c.requestsTotal)
	}
	if lookups := c.cacheHits + c.cacheMisses; lookups > 0 {
		s.CacheHitRate = float64(c.cacheHits) / float64(lookups)
	}

	if len(lat) > 0 {
		sort.Float64s(lat)
		s.LatencyP50 = percentile(lat, 0.5)
		s.LatencyP95 = percentile(lat, 0.95)
		s.LatencyP99 = percentile(lat, 0.99)
		var sum float64
		for _, v := range lat {
			sum += v
		}
		s.LatencyAvg = sum / float64(len(lat))
	}

	return s
}

// Reset zeroes all in-process counters and clears the latency window.
// Prometheus collectors are cumulative by contract and are not reset.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = counters{}
	r.head = 0
	r.count = 0
}

// percentile returns the value at the given quantile of a sorted slice.
func percentile(sorted []float64, q float64) float64 {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
