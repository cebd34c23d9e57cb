package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/endertoolsbox/home-weather/internal/models"
	"github.com/endertoolsbox/home-weather/internal/observability"
)

// reverseFunc matches geocoder.GeocodingReverse; swapped out in tests.
type reverseFunc func(geocoder.Location) ([]geocoder.Address, error)

// the geocoder package keeps its API key in a package variable.
var googleKeyOnce sync.Once

// GoogleGeocoder reverse-geocodes through the Google Maps Geocoding API.
type GoogleGeocoder struct {
	reverse reverseFunc
}

// NewGoogleGeocoder configures the process-wide API key on first use.
func NewGoogleGeocoder(apiKey string) (*GoogleGeocoder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: google geocoding API key is required", ErrNotConfigured)
	}
	googleKeyOnce.Do(func() {
		geocoder.ApiKey = apiKey
	})
	return &GoogleGeocoder{reverse: geocoder.GeocodingReverse}, nil
}

// Resolve returns the city of the first match, then its state. Later matches are ignored.
// The underlying client is not context aware; a cancelled ctx abandons the call.
func (g *GoogleGeocoder) Resolve(ctx context.Context, pos models.Position) (string, error) {
	type result struct {
		addrs []geocoder.Address
		err   error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		addrs, err := g.reverse(geocoder.Location{Latitude: pos.Latitude, Longitude: pos.Longitude})
		done <- result{addrs, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		observability.GeocodeCallsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("request timeout: %w", ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		observability.GeocodeCallsTotal.WithLabelValues("error").Inc()
		observability.GeocodeDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return "", fmt.Errorf("%w: %v", ErrUpstreamFailure, res.err)
	}
	observability.GeocodeCallsTotal.WithLabelValues("success").Inc()
	observability.GeocodeDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	if len(res.addrs) == 0 {
		return "", ErrNoAddress
	}
	if name := firstNonEmpty(res.addrs[0].City, res.addrs[0].State); name != "" {
		return name, nil
	}
	return "", ErrNoAddress
}
