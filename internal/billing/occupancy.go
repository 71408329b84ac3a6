package billing

import "math"

// OccupancyRatio returns current/baseline clamped to [0, 1]. A non-positive
// or non-finite baseline yields 0.
func OccupancyRatio(current, baseline float64) float64 {
	if !(baseline > 0) || math.IsInf(baseline, 0) || math.IsNaN(current) {
		return 0
	}
	ratio := current / baseline
	switch {
	case ratio <= 0:
		return 0
	case ratio >= 1:
		return 1
	default:
		return ratio
	}
}

// Occupancy returns the occupancy percentage as an integer in [0, 100].
// Over-capacity is capped at 100.
func Occupancy(current, baseline float64) int {
	return int(math.Round(OccupancyRatio(current, baseline) * 100))
}
