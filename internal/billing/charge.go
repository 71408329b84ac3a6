package billing

import (
	"fmt"
	"math"
	"time"

	"stowage/internal/types"
)

// proRataMonthDays is the fixed month length used for first-period charges,
// independent of the calendar month.
const proRataMonthDays = 30

// CalculateCharge computes the storage line for one container in the given
// window. It returns (nil, nil) for containers without a client.
//
// A container whose billing start falls after the previous cutoff is in its
// first period and is charged pro-rata for the days until the next cutoff.
// Every other container is charged by snapshot: the occupancy ratio of the
// strategy's metric times the base monthly cost.
func CalculateCharge(c types.Container, strategy types.BillingStrategy, window types.BillingWindow) (*types.InvoiceLine, error) {
	if !c.HasClient() {
		return nil, nil
	}
	if !finite(c.BaseMonthlyCost) || c.BaseMonthlyCost < 0 {
		return nil, chargeFault(c, fmt.Sprintf("invalid base monthly cost %v", c.BaseMonthlyCost))
	}

	var line types.InvoiceLine
	if start := c.BillingStartDate(); start != nil && dateOf(*start).After(window.PreviousCutoff) {
		line = proRataLine(c, strategy, *start, window.NextCutoff)
	} else {
		current, baseline := Metrics(c, strategy)
		if !finite(current) || !finite(baseline) {
			return nil, chargeFault(c, fmt.Sprintf("non-finite %s metrics (current=%v, baseline=%v)", strategy, current, baseline))
		}
		line = snapshotLine(c, strategy, current, baseline)
	}

	if !finite(line.Amount) || line.Amount < 0 {
		return nil, chargeFault(c, fmt.Sprintf("computed amount %v is not a valid charge", line.Amount))
	}
	return &line, nil
}

func proRataLine(c types.Container, strategy types.BillingStrategy, start, nextCutoff time.Time) types.InvoiceLine {
	days := daysBetween(nextCutoff, start)
	if days < 1 {
		days = 1
	}
	return types.InvoiceLine{
		Description:   fmt.Sprintf("Storage %s pro-rata (%d days) - %s", strategy, days, c.Code),
		Amount:        types.RoundCents(float64(days) * c.BaseMonthlyCost / proRataMonthDays),
		Type:          types.LineTypeStorage,
		ContainerID:   c.ID,
		ContainerCode: c.Code,
		Details: types.ProRataDetails{
			DaysBilled: days,
			BaseCost:   c.BaseMonthlyCost,
		},
	}
}

func snapshotLine(c types.Container, strategy types.BillingStrategy, current, baseline float64) types.InvoiceLine {
	amount := types.RoundCents(OccupancyRatio(current, baseline) * c.BaseMonthlyCost)
	return types.InvoiceLine{
		Description:   fmt.Sprintf("Storage %s - %s", strategy, c.Code),
		Amount:        amount,
		Type:          types.LineTypeStorage,
		ContainerID:   c.ID,
		ContainerCode: c.Code,
		Details: types.SnapshotDetails{
			MetricUsed:          current,
			MetricTotal:         baseline,
			MetricUnit:          strategy.MetricUnit(),
			OccupancyPercentage: Occupancy(current, baseline),
			BillingStrategy:     strategy,
			BaseCost:            c.BaseMonthlyCost,
			Savings:             types.RoundCents(c.BaseMonthlyCost - amount),
		},
	}
}

func chargeFault(c types.Container, reason string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeBillingInvalidCharge,
		fmt.Sprintf("cannot compute charge for container %s: %s", c.Code, reason),
		nil,
		map[string]any{"container_id": c.ID, "container_code": c.Code},
	)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
