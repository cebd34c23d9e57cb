package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/endertoolsbox/home-weather/internal/circuitbreaker"
	"github.com/endertoolsbox/home-weather/internal/models"
	"github.com/endertoolsbox/home-weather/internal/observability"
)

// NominatimConfig configures NominatimGeocoder. Zero durations and counts use defaults.
type NominatimConfig struct {
	BaseURL        string
	UserAgent      string
	Language       string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RequestsPerSecond caps outbound calls; the public instance allows 1.
	RequestsPerSecond float64
}

// NominatimGeocoder reverse-geocodes positions against an OpenStreetMap Nominatim server.
type NominatimGeocoder struct {
	baseURL        string
	userAgent      string
	language       string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	limiter        *rate.Limiter
	breaker        *circuitbreaker.CircuitBreaker
}

func NewNominatimGeocoder(cfg NominatimConfig) (*NominatimGeocoder, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: nominatim base URL is required", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, fmt.Errorf("%w: nominatim requires an identifying User-Agent", ErrNotConfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}

	g := &NominatimGeocoder{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:      cfg.UserAgent,
		language:       cfg.Language,
		timeout:        cfg.Timeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return g, nil
}

// SetCircuitBreaker guards upstream calls with cb. nil disables the breaker.
func (g *NominatimGeocoder) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	g.breaker = cb
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		State        string `json:"state"`
	} `json:"address"`
}

// Resolve returns the locality for pos, falling back to the administrative area.
func (g *NominatimGeocoder) Resolve(ctx context.Context, pos models.Position) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.GeocodeRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.backoff(attempt)):
			}
		}

		name, err := g.callWithBreaker(ctx, pos)
		if err == nil {
			return name, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("exhausted retries: %w", lastErr)
}

func (g *NominatimGeocoder) callWithBreaker(ctx context.Context, pos models.Position) (string, error) {
	if g.breaker == nil {
		return g.call(ctx, pos)
	}
	var name string
	err := g.breaker.Call(ctx, func() error {
		var callErr error
		name, callErr = g.call(ctx, pos)
		// A position with no address is an answer, not an upstream fault.
		if errors.Is(callErr, ErrNoAddress) {
			return nil
		}
		return callErr
	})
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrNoAddress
	}
	return name, nil
}

func (g *NominatimGeocoder) call(ctx context.Context, pos models.Position) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := g.buildRequest(reqCtx, pos)
	if err != nil {
		observability.GeocodeCallsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		observability.GeocodeCallsTotal.WithLabelValues("error").Inc()
		observability.GeocodeDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("request timeout: %w", err)
		}
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.GeocodeCallsTotal.WithLabelValues(status).Inc()
	observability.GeocodeDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	var apiResp nominatimResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, apiResp.Error)
	}
	name := firstNonEmpty(
		apiResp.Address.City,
		apiResp.Address.Town,
		apiResp.Address.Village,
		apiResp.Address.Municipality,
		apiResp.Address.State,
	)
	if name == "" {
		return "", ErrNoAddress
	}
	return name, nil
}

func (g *NominatimGeocoder) buildRequest(ctx context.Context, pos models.Position) (*http.Request, error) {
	u, err := url.Parse(g.baseURL + "/reverse")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(pos.Latitude, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(pos.Longitude, 'f', 6, 64))
	params.Set("zoom", "10")
	params.Set("addressdetails", "1")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)
	if g.language != "" {
		req.Header.Set("Accept-Language", g.language)
	}
	return req, nil
}

func (g *NominatimGeocoder) backoff(attempt int) time.Duration {
	delay := float64(g.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(g.retryMaxDelay) {
		delay = float64(g.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status: HTTP %d", resp.StatusCode)
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, ErrNoAddress) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "http request failed")
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
