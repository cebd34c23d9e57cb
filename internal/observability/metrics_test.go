package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/home", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/home").Observe(0.01)
	WeatherCacheLookupsTotal.WithLabelValues("hit").Inc()
	WeatherCacheLookupsTotal.WithLabelValues("miss").Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	CacheInvalidationsTotal.Inc()
	LocationUpdatesTotal.WithLabelValues("accepted").Inc()
	LocationUpdatesTotal.WithLabelValues("dropped").Inc()
	GeocodeCallsTotal.WithLabelValues("success").Inc()
	GeocodeDuration.WithLabelValues("success").Observe(0.2)
	GeocodeRetriesTotal.Inc()
	ConnectivityTransitionsTotal.WithLabelValues("offline").Inc()
	FallbackReadingsTotal.WithLabelValues("permission_denied").Inc()
	RecordCircuitBreakerTransition("geocoder", "closed", "open", 1)
	SetOnline(true)
	SetOnline(false)
}

func TestRegisterHomeGauges_Idempotent(t *testing.T) {
	RegisterHomeGauges(func() float64 { return 1 })
	RegisterHomeGauges(func() float64 { return 2 })
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/metrics", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
