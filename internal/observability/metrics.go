package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather cache lookups by result (hit, stale, miss). Hit rate = hit/(hit+miss).
	WeatherCacheLookupsTotal *prometheus.CounterVec

	// Cache backend errors by operation (get, set, clear). Watch for: backend outages.
	CacheErrorsTotal *prometheus.CounterVec

	// Forced cache invalidations (manual refresh or reconnect).
	CacheInvalidationsTotal prometheus.Counter

	// Location fixes by outcome (full_refresh, place_only, dropped). Dropped = debounced.
	LocationUpdatesTotal *prometheus.CounterVec

	// Reverse geocoding calls by status. Watch for: error vs success ratio.
	GeocodeCallsTotal *prometheus.CounterVec

	// Reverse geocoding latency.
	GeocodeDuration *prometheus.HistogramVec

	// Retry attempts for geocoding.
	GeocodeRetriesTotal prometheus.Counter

	// Connectivity transitions by target state (online, offline).
	ConnectivityTransitionsTotal *prometheus.CounterVec

	// 1 when the last connectivity probe succeeded.
	ConnectivityOnline prometheus.Gauge

	// Readings published from hardcoded defaults by reason (permission_denied, offline, no_position).
	FallbackReadingsTotal *prometheus.CounterVec

	// Circuit breaker transitions by component and states.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Circuit breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Rate limit denials on location ingestion.
	RateLimitDeniedTotal prometheus.Counter

	registerOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
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
	WeatherCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherCacheLookupsTotal",
			Help: "Weather cache lookups by result (hit, stale, miss)",
		},
		[]string{"result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CacheInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheInvalidationsTotal",
			Help: "Total number of forced weather cache invalidations",
		},
	)
	LocationUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationUpdatesTotal",
			Help: "Location fixes received by outcome (full_refresh, place_only, dropped)",
		},
		[]string{"outcome"},
	)
	GeocodeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocodeCallsTotal",
			Help: "Total number of reverse geocoding calls",
		},
		[]string{"status"},
	)
	GeocodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geocodeDurationSeconds",
			Help:    "Reverse geocoding latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
	GeocodeRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geocodeRetriesTotal",
			Help: "Total number of retry attempts for reverse geocoding",
		},
	)
	ConnectivityTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectivityTransitionsTotal",
			Help: "Connectivity state changes by target state",
		},
		[]string{"to"},
	)
	ConnectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "connectivityOnline",
			Help: "1 when the service considers itself online",
		},
	)
	FallbackReadingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallbackReadingsTotal",
			Help: "Readings published from default values by reason",
		},
		[]string{"reason"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherCacheLookupsTotal, CacheErrorsTotal, CacheInvalidationsTotal,
		LocationUpdatesTotal,
		GeocodeCallsTotal, GeocodeDuration, GeocodeRetriesTotal,
		ConnectivityTransitionsTotal, ConnectivityOnline,
		FallbackReadingsTotal,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
		RateLimitDeniedTotal,
	)
}

// RegisterHomeGauges exposes the age of the published weather reading. Safe to call more than once.
func RegisterHomeGauges(weatherAgeSeconds func() float64) {
	registerOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "weatherReadingAgeSeconds",
				Help: "Seconds since the weather reading was last refreshed",
			},
			weatherAgeSeconds,
		))
	})
}

// RecordCircuitBreakerTransition counts a breaker state change and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// SetOnline updates the connectivity gauge.
func SetOnline(online bool) {
	if online {
		ConnectivityOnline.Set(1)
		return
	}
	ConnectivityOnline.Set(0)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
