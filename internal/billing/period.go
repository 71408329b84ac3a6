package billing

import (
	"fmt"
	"time"

	"stowage/internal/types"
)

const (
	// DefaultCutoffDay is the day of month a billing period closes on.
	DefaultCutoffDay = 25
	// DefaultGraceDays is the time between cutoff and due date.
	DefaultGraceDays = 10
)

// ResolvePeriod returns the billing window that contains today.
//
// The next cutoff is the cutoff day in today's month, or in the following
// month once today is past it. The previous cutoff is one calendar month
// before the next. Cutoff days beyond the length of a month are clamped to
// its last day, so a cutoff of 31 closes on Feb 28 (29) and Apr 30.
// Only the calendar date of today matters; all results are midnight UTC.
func ResolvePeriod(today time.Time, cutoffDay, graceDays int) (types.BillingWindow, error) {
	if cutoffDay < 1 || cutoffDay > 31 {
		return types.BillingWindow{}, types.NewAppError(
			types.ErrCodeValidationCutoffDay,
			fmt.Sprintf("cutoff day must be between 1 and 31, got %d", cutoffDay),
			nil,
		)
	}
	if graceDays < 0 {
		graceDays = DefaultGraceDays
	}

	day := dateOf(today)
	next := cutoffIn(day.Year(), day.Month(), cutoffDay)
	if day.After(next) {
		next = cutoffIn(day.Year(), day.Month()+1, cutoffDay)
	}
	prev := cutoffIn(next.Year(), next.Month()-1, cutoffDay)

	return types.BillingWindow{
		PreviousCutoff: prev,
		NextCutoff:     next,
		DueDate:        next.AddDate(0, 0, graceDays),
	}, nil
}

// cutoffIn returns the cutoff date in the given month. Month overflow
// (13, 0) is normalized before clamping the day.
func cutoffIn(year int, month time.Month, cutoffDay int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if cutoffDay > last {
		cutoffDay = last
	}
	return time.Date(first.Year(), first.Month(), cutoffDay, 0, 0, 0, 0, time.UTC)
}

// dateOf truncates t to its calendar date in its own location, expressed as
// midnight UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the whole calendar days from a to b.
func daysBetween(b, a time.Time) int {
	return int(dateOf(b).Sub(dateOf(a)).Hours() / 24)
}
