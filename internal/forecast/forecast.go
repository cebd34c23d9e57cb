// Package forecast produces synthetic, region-stable weather readings.
//
// There is no upstream weather API: a reading is a pure function of the
// coordinate, so every position in the same place gets the same sky.
package forecast

import "github.com/endertoolsbox/home-weather/internal/models"

const (
	baseTemperature = 9
	temperatureSpan = 8
	conditionRange  = 100
	conditionBucket = 25
)

// Generate returns the reading for pos labelled with place. It never fails.
func Generate(pos models.Position, place string) models.Reading {
	h := doubleHash(pos.Latitude + pos.Longitude)
	rng := newLCG(int64(h))

	jitter := int(rng.nextInt(3)) - 1
	temperature := baseTemperature + int(floorMod(h, temperatureSpan)) + jitter

	return models.Reading{
		Temperature: temperature,
		Condition:   ConditionForBucket(BucketForHash(h)),
		Location:    place,
	}
}

// ConditionForBucket maps a quarter of the hash range to a condition.
// Buckets 0 and 1 are both clear.
func ConditionForBucket(bucket int) models.Condition {
	switch {
	case bucket <= 1:
		return models.ConditionClear
	case bucket == 2:
		return models.ConditionCloudy
	case bucket == 3:
		return models.ConditionRainy
	default:
		return models.ConditionStorm
	}
}

// BucketForHash exposes the bucket selection for a given hash value.
func BucketForHash(h int32) int {
	return int(floorMod(h, conditionRange)) / conditionBucket
}
