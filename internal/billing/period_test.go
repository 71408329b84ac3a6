package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stowage/internal/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolvePeriod(t *testing.T) {
	tests := []struct {
		name      string
		today     time.Time
		cutoffDay int
		wantPrev  time.Time
		wantNext  time.Time
		wantDue   time.Time
	}{
		{
			name:      "before cutoff",
			today:     date(2026, 2, 10),
			cutoffDay: 25,
			wantPrev:  date(2026, 1, 25),
			wantNext:  date(2026, 2, 25),
			wantDue:   date(2026, 3, 7),
		},
		{
			name:      "on cutoff day stays in current month",
			today:     time.Date(2026, 2, 25, 23, 59, 0, 0, time.UTC),
			cutoffDay: 25,
			wantPrev:  date(2026, 1, 25),
			wantNext:  date(2026, 2, 25),
			wantDue:   date(2026, 3, 7),
		},
		{
			name:      "after cutoff advances a month",
			today:     date(2026, 2, 26),
			cutoffDay: 25,
			wantPrev:  date(2026, 2, 25),
			wantNext:  date(2026, 3, 25),
			wantDue:   date(2026, 4, 4),
		},
		{
			name:      "year rollover forward",
			today:     date(2026, 12, 28),
			cutoffDay: 25,
			wantPrev:  date(2026, 12, 25),
			wantNext:  date(2027, 1, 25),
			wantDue:   date(2027, 2, 4),
		},
		{
			name:      "year rollover backward",
			today:     date(2026, 1, 3),
			cutoffDay: 25,
			wantPrev:  date(2025, 12, 25),
			wantNext:  date(2026, 1, 25),
			wantDue:   date(2026, 2, 4),
		},
		{
			name:      "day 31 clamps to end of February",
			today:     date(2026, 2, 10),
			cutoffDay: 31,
			wantPrev:  date(2026, 1, 31),
			wantNext:  date(2026, 2, 28),
			wantDue:   date(2026, 3, 10),
		},
		{
			name:      "day 31 in leap year",
			today:     date(2028, 3, 1),
			cutoffDay: 31,
			wantPrev:  date(2028, 2, 29),
			wantNext:  date(2028, 3, 31),
			wantDue:   date(2028, 4, 10),
		},
		{
			name:      "day 30 after clamped February cutoff",
			today:     date(2026, 3, 1),
			cutoffDay: 30,
			wantPrev:  date(2026, 2, 28),
			wantNext:  date(2026, 3, 30),
			wantDue:   date(2026, 4, 9),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ResolvePeriod(tt.today, tt.cutoffDay, DefaultGraceDays)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrev, w.PreviousCutoff, "previous cutoff")
			assert.Equal(t, tt.wantNext, w.NextCutoff, "next cutoff")
			assert.Equal(t, tt.wantDue, w.DueDate, "due date")
		})
	}
}

func TestResolvePeriod_UsesCalendarDateOfToday(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 2026-02-25 22:00 local is already the 26th in UTC; the local date wins.
	w, err := ResolvePeriod(time.Date(2026, 2, 25, 22, 0, 0, 0, loc), 25, DefaultGraceDays)
	require.NoError(t, err)
	assert.Equal(t, date(2026, 2, 25), w.NextCutoff)
}

func TestResolvePeriod_InvalidCutoff(t *testing.T) {
	for _, day := range []int{0, -1, 32} {
		_, err := ResolvePeriod(date(2026, 2, 10), day, DefaultGraceDays)
		require.Error(t, err)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationCutoffDay, appErr.Code)
	}
}
