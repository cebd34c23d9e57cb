package validation

import (
	"errors"
	"math"

	"github.com/endertoolsbox/home-weather/internal/models"
)

// ErrCoordinateNotFinite is returned for NaN or infinite coordinates.
var ErrCoordinateNotFinite = errors.New("coordinate must be a finite number")

// ErrLatitudeOutOfRange is returned when latitude is outside [-90, 90].
var ErrLatitudeOutOfRange = errors.New("latitude out of range")

// ErrLongitudeOutOfRange is returned when longitude is outside [-180, 180].
var ErrLongitudeOutOfRange = errors.New("longitude out of range")

// ValidatePosition checks a reported fix and returns it as a Position.
// Errors are suitable for 400 INVALID_POSITION responses.
func ValidatePosition(lat, lon float64) (models.Position, error) {
	if !isFinite(lat) || !isFinite(lon) {
		return models.Position{}, ErrCoordinateNotFinite
	}
	if lat < -90 || lat > 90 {
		return models.Position{}, ErrLatitudeOutOfRange
	}
	if lon < -180 || lon > 180 {
		return models.Position{}, ErrLongitudeOutOfRange
	}
	return models.Position{Latitude: lat, Longitude: lon}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
