// Package billing computes storage charges for containers and groups them
// into per-client invoices.
//
// Everything except the Materializer is pure computation over data that has
// already been read; "today" is always passed in explicitly.
package billing

import "stowage/internal/types"

// ResolveStrategy derives a container's billing strategy from its line items.
// Any item with a positive volume selects VOLUME regardless of position;
// otherwise any positive weight selects WEIGHT; otherwise QUANTITY.
func ResolveStrategy(items []types.LineItem) types.BillingStrategy {
	hasWeight := false
	for _, it := range items {
		if positive(it.VolumeCBM) {
			return types.StrategyVolume
		}
		if positive(it.WeightKg) {
			hasWeight = true
		}
	}
	if hasWeight {
		return types.StrategyWeight
	}
	return types.StrategyQuantity
}

func positive(v *float64) bool {
	return v != nil && *v > 0
}

// Metrics returns the (current, baseline) pair a strategy bills on.
func Metrics(c types.Container, s types.BillingStrategy) (current, baseline float64) {
	switch s {
	case types.StrategyVolume:
		return c.TotalVolumeM3, c.InitialCapacityM3
	case types.StrategyWeight:
		return c.TotalNetWeightKg, c.InitialNetWeightKg
	default:
		return c.TotalQuantity, c.InitialQuantity
	}
}

// Project builds the read view of a container with its derived strategy and
// occupancy.
func Project(c types.Container, items []types.LineItem) types.ContainerView {
	strategy := ResolveStrategy(items)
	current, baseline := Metrics(c, strategy)
	return types.ContainerView{
		Container:     c,
		Strategy:      strategy,
		OccupancyRate: Occupancy(current, baseline),
		ItemCount:     len(items),
	}
}
