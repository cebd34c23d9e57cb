package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/endertoolsbox/home-weather/internal/circuitbreaker"
	"github.com/endertoolsbox/home-weather/internal/models"
)

var lyon = models.Position{Latitude: 45.764, Longitude: 4.8357}

func newTestNominatim(t *testing.T, url string) *NominatimGeocoder {
	t.Helper()
	g, err := NewNominatimGeocoder(NominatimConfig{
		BaseURL:        url,
		UserAgent:      "home-weather-test/1.0",
		Language:       "fr",
		Timeout:        time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewNominatimGeocoder() error = %v", err)
	}
	return g
}

func TestNewNominatimGeocoder_RequiresURLAndUserAgent(t *testing.T) {
	if _, err := NewNominatimGeocoder(NominatimConfig{UserAgent: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing URL error = %v, want ErrNotConfigured", err)
	}
	if _, err := NewNominatimGeocoder(NominatimConfig{BaseURL: "http://x"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing User-Agent error = %v, want ErrNotConfigured", err)
	}
}

func TestNominatimGeocoder_Resolve_City(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %q, want /reverse", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("format") != "jsonv2" || q.Get("lat") != "45.764000" || q.Get("lon") != "4.835700" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "home-weather-test/1.0" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("Accept-Language") != "fr" {
			t.Errorf("Accept-Language = %q, want fr", r.Header.Get("Accept-Language"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"address":{"city":"Lyon","state":"Auvergne-Rhône-Alpes"}}`))
	}))
	defer server.Close()

	got, err := newTestNominatim(t, server.URL).Resolve(context.Background(), lyon)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "Lyon" {
		t.Errorf("Resolve() = %q, want Lyon", got)
	}
}

func TestNominatimGeocoder_Resolve_FallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"town", `{"address":{"town":"Annecy","state":"X"}}`, "Annecy"},
		{"village", `{"address":{"village":"Chamonix","state":"X"}}`, "Chamonix"},
		{"state only", `{"address":{"state":"Bretagne"}}`, "Bretagne"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			got, err := newTestNominatim(t, server.URL).Resolve(context.Background(), lyon)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNominatimGeocoder_Resolve_NoAddress(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer server.Close()

	_, err := newTestNominatim(t, server.URL).Resolve(context.Background(), models.Position{})
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("Resolve() error = %v, want ErrNoAddress", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry for missing address)", calls.Load())
	}
}

func TestNominatimGeocoder_Resolve_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"address":{"city":"Lyon"}}`))
	}))
	defer server.Close()

	got, err := newTestNominatim(t, server.URL).Resolve(context.Background(), lyon)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "Lyon" || calls.Load() != 3 {
		t.Errorf("Resolve() = %q after %d calls, want Lyon after 3", got, calls.Load())
	}
}

func TestNominatimGeocoder_Resolve_ExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestNominatim(t, server.URL).Resolve(context.Background(), lyon)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Resolve() error = %v, want wrapped ErrRateLimited", err)
	}
}

func TestNominatimGeocoder_Resolve_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if _, err := newTestNominatim(t, server.URL).Resolve(context.Background(), lyon); err == nil {
		t.Fatal("Resolve() error = nil, want error for 403")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestNominatimGeocoder_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g := newTestNominatim(t, server.URL)
	g.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Cooldown: time.Hour}))

	_, _ = g.Resolve(context.Background(), lyon)
	before := calls.Load()
	_, err := g.Resolve(context.Background(), lyon)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("Resolve() error = %v, want ErrOpen", err)
	}
	if calls.Load() != before {
		t.Errorf("upstream called %d more times while open", calls.Load()-before)
	}
}

func TestNominatimGeocoder_NoAddressDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":{}}`))
	}))
	defer server.Close()

	g := newTestNominatim(t, server.URL)
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Cooldown: time.Hour})
	g.SetCircuitBreaker(cb)

	for i := 0; i < 3; i++ {
		if _, err := g.Resolve(context.Background(), lyon); !errors.Is(err, ErrNoAddress) {
			t.Fatalf("Resolve() error = %v, want ErrNoAddress", err)
		}
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", cb.State())
	}
}

func TestNominatimGeocoder_Resolve_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := newTestNominatim(t, server.URL).Resolve(ctx, lyon); err == nil {
		t.Fatal("Resolve() error = nil, want timeout")
	}
}

func TestDisabledGeocoder(t *testing.T) {
	if _, err := (DisabledGeocoder{}).Resolve(context.Background(), lyon); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Resolve() error = %v, want ErrNotConfigured", err)
	}
}
