package client

import (
	"context"
	"errors"

	"github.com/endertoolsbox/home-weather/internal/models"
)

// Geocoder resolves a position to a human-readable place name.
type Geocoder interface {
	Resolve(ctx context.Context, pos models.Position) (string, error)
}

var (
	ErrNoAddress       = errors.New("no address for position")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotConfigured   = errors.New("geocoder not configured")
)

// DisabledGeocoder always fails; callers fall back to their placeholder name.
type DisabledGeocoder struct{}

func (DisabledGeocoder) Resolve(ctx context.Context, pos models.Position) (string, error) {
	return "", ErrNotConfigured
}
