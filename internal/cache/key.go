package cache

import (
	"fmt"
	"math"

	"github.com/endertoolsbox/home-weather/internal/models"
)

// QuantizeKey maps pos onto its 0.1 degree grid cell (roughly 11 km),
// formatted "<lat*10>:<lon*10>". Halves round up, so -12.35 and -12.25 land
// in cells -123 and -122.
func QuantizeKey(pos models.Position) string {
	return fmt.Sprintf("%d:%d", roundHalfUp(pos.Latitude*10), roundHalfUp(pos.Longitude*10))
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
