package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Upstream page loads by source (hourly_month, hourly_day, daylength) and status. Watch for: error ratio.
	PageFetchesTotal *prometheus.CounterVec

	// Upstream page latency, including render wait. Watch for: p95 drifting above latency + 2s.
	PageFetchDuration *prometheus.HistogramVec

	// Retry attempts for upstream pages. Watch for: sustained retries = unstable site.
	PageFetchRetriesTotal *prometheus.CounterVec

	// Pages that rendered a different day than requested. Watch for: spikes = stale client-side state.
	AlignmentMismatchesTotal prometheus.Counter

	// Days successfully collected per source.
	DaysCollectedTotal *prometheus.CounterVec

	// Days that failed after retries, by source and error category.
	DayFailuresTotal *prometheus.CounterVec

	// Months completed per source. Progress indicator for long runs.
	MonthsCollectedTotal *prometheus.CounterVec

	// Hourly observations parsed into records.
	ObservationsCollectedTotal prometheus.Counter

	// Wall time of one month's collection.
	MonthCollectionDuration *prometheus.HistogramVec

	// Page cache lookups by result (hit, miss, error).
	PageCacheLookupsTotal *prometheus.CounterVec

	// Circuit breaker state per component (0=closed, 1=open, 2=half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rows written to the store by backend and table.
	StoreRowsWrittenTotal *prometheus.CounterVec

	// Read API request rate.
	HTTPRequestsTotal *prometheus.CounterVec

	// Read API latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// Read API requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Read API rate limit denials.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	PageFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageFetchesTotal",
			Help: "Total number of upstream page loads",
		},
		[]string{"source", "status"},
	)
	PageFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pageFetchDurationSeconds",
			Help:    "Upstream page load latency in seconds, including render wait",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)
	PageFetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageFetchRetriesTotal",
			Help: "Total number of retry attempts for upstream page loads",
		},
		[]string{"source"},
	)
	AlignmentMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alignmentMismatchesTotal",
			Help: "Pages whose rendered day differed from the requested day",
		},
	)
	DaysCollectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daysCollectedTotal",
			Help: "Days collected successfully",
		},
		[]string{"source"},
	)
	DayFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dayFailuresTotal",
			Help: "Days that could not be collected",
		},
		[]string{"source", "category"},
	)
	MonthsCollectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monthsCollectedTotal",
			Help: "Months collected with every day present",
		},
		[]string{"source"},
	)
	ObservationsCollectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "observationsCollectedTotal",
			Help: "Hourly observations parsed",
		},
	)
	MonthCollectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monthCollectionDurationSeconds",
			Help:    "Wall time to collect one month",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)
	PageCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageCacheLookupsTotal",
			Help: "Page cache lookups by result",
		},
		[]string{"result"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	StoreRowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeRowsWrittenTotal",
			Help: "Rows appended to the store",
		},
		[]string{"backend", "table"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		PageFetchesTotal, PageFetchDuration, PageFetchRetriesTotal,
		AlignmentMismatchesTotal,
		DaysCollectedTotal, DayFailuresTotal, MonthsCollectedTotal,
		ObservationsCollectedTotal, MonthCollectionDuration,
		PageCacheLookupsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		StoreRowsWrittenTotal,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RateLimitDeniedTotal,
	)
}

// CircuitBreakerStateValue maps a breaker state ordinal to the gauge value.
func CircuitBreakerStateValue(state int) float64 {
	switch state {
	case 1, 2:
		return float64(state)
	default:
		return 0
	}
}

// SetCircuitBreakerStateGauge sets the state gauge for component.
func SetCircuitBreakerStateGauge(component string, value float64) {
	CircuitBreakerState.WithLabelValues(component).Set(value)
}

// RecordCircuitBreakerTransition counts a transition for component.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
