// Package metrics defines the Prometheus metric collectors used across the
// indexer and serves them for scraping.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the indexer. A nil *Metrics is
// valid and records nothing, so components can run without a registry.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	TicksTotal           prometheus.Counter
	TickDuration         prometheus.Histogram
	ActionsTotal         *prometheus.CounterVec
	RetriesTotal         prometheus.Counter
	PendingPaths         prometheus.Gauge
	WatchEventsTotal     *prometheus.CounterVec
	WatchSubscriptions   prometheus.Gauge
	IndexedFiles         prometheus.Gauge
	IndexedWords         prometheus.Gauge
	LookupsTotal         *prometheus.CounterVec
	LookupLatency        *prometheus.HistogramVec
	LookupResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	JournalEventsTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing nil uses
// the default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		TicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_ticks_total",
				Help: "Total reconciliation ticks that drained a non-empty pending table.",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconcile_tick_duration_seconds",
				Help:    "Wall time of a reconciliation tick including all dispatched work.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_actions_total",
				Help: "Reconciliation actions by kind (add, change, delete, none) and status (ok, retry).",
			},
			[]string{"action", "status"},
		),
		RetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_retries_total",
				Help: "Paths re-enqueued after a failed action.",
			},
		),
		PendingPaths: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconcile_pending_paths",
				Help: "Distinct paths waiting for the next tick.",
			},
		),
		WatchEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watch_events_total",
				Help: "Filesystem notifications by normalized signal.",
			},
			[]string{"signal"},
		),
		WatchSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "watch_native_subscriptions",
				Help: "Native directory watches currently installed.",
			},
		),
		IndexedFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_files",
				Help: "Files present in the forward index.",
			},
		),
		IndexedWords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_words",
				Help: "Distinct words present in the inverted index.",
			},
		),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookups_total",
				Help: "Total lookups by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		LookupLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookup_latency_seconds",
				Help:    "Lookup latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"cache_status"},
		),
		LookupResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lookup_results_count",
				Help:    "Number of paths returned per lookup.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		JournalEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journal_events_total",
				Help: "Reconciliation journal events by outcome (written, dropped, failed).",
			},
			[]string{"outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.TicksTotal,
		m.TickDuration,
		m.ActionsTotal,
		m.RetriesTotal,
		m.PendingPaths,
		m.WatchEventsTotal,
		m.WatchSubscriptions,
		m.IndexedFiles,
		m.IndexedWords,
		m.LookupsTotal,
		m.LookupLatency,
		m.LookupResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.JournalEventsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveTick records one drained tick.
func (m *Metrics) ObserveTick(d time.Duration, pending int) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickDuration.Observe(d.Seconds())
	m.PendingPaths.Set(float64(pending))
}

// ObserveAction counts one per-path action outcome.
func (m *Metrics) ObserveAction(action, status string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, status).Inc()
	if status == "retry" {
		m.RetriesTotal.Inc()
	}
}

// ObserveWatchEvent counts one normalized filesystem signal.
func (m *Metrics) ObserveWatchEvent(signal string) {
	if m == nil {
		return
	}
	m.WatchEventsTotal.WithLabelValues(signal).Inc()
}

// SetWatchSubscriptions publishes the native watch count.
func (m *Metrics) SetWatchSubscriptions(n int) {
	if m == nil {
		return
	}
	m.WatchSubscriptions.Set(float64(n))
}

// SetIndexSize publishes the forward and inverted index sizes.
func (m *Metrics) SetIndexSize(files, words int) {
	if m == nil {
		return
	}
	m.IndexedFiles.Set(float64(files))
	m.IndexedWords.Set(float64(words))
}

// ObserveLookup records one lookup.
func (m *Metrics) ObserveLookup(d time.Duration, results int, cacheHit bool) {
	if m == nil {
		return
	}
	status := "miss"
	if cacheHit {
		status = "hit"
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
	m.LookupLatency.WithLabelValues(status).Observe(d.Seconds())
	m.LookupResultsCount.Observe(float64(results))
	resultType := "hit"
	if results == 0 {
		resultType = "zero_result"
	}
	m.LookupsTotal.WithLabelValues(resultType).Inc()
}

// ObserveLookupError counts a failed lookup.
func (m *Metrics) ObserveLookupError() {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues("error").Inc()
}

// ObserveJournal counts journal events by outcome.
func (m *Metrics) ObserveJournal(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.JournalEventsTotal.WithLabelValues(outcome).Add(float64(n))
}

// SetBreakerState publishes a circuit breaker state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
