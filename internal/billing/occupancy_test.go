package billing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOccupancy(t *testing.T) {
	tests := []struct {
		name              string
		current, baseline float64
		want              int
	}{
		{"full", 55, 55, 100},
		{"half", 27.5, 55, 50},
		{"rounds to nearest", 1, 3, 33},
		{"rounds half up", 1, 8, 13},
		{"over capacity is capped", 80, 55, 100},
		{"empty", 0, 55, 0},
		{"negative current clamps to zero", -4, 10, 0},
		{"zero baseline", 10, 0, 0},
		{"negative baseline", 10, -5, 0},
		{"NaN current", math.NaN(), 10, 0},
		{"infinite baseline", 10, math.Inf(1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Occupancy(tt.current, tt.baseline))
		})
	}
}

func TestOccupancy_Bounds(t *testing.T) {
	for _, baseline := range []float64{0.5, 1, 7, 55, 1000} {
		for current := 0.0; current <= baseline*2; current += baseline / 16 {
			got := Occupancy(current, baseline)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
			if current >= baseline {
				assert.Equal(t, 100, got, "current=%v baseline=%v", current, baseline)
			}
		}
	}
}

func TestOccupancy_ZeroGuard(t *testing.T) {
	for _, x := range []float64{0, 1, 55, 1e9} {
		assert.Equal(t, 0, Occupancy(x, 0))
		assert.Equal(t, 0, Occupancy(x, -5))
	}
}
