package worker

import (
	"testing"
	"time"
)

func TestNextDaily(t *testing.T) {
	cases := []struct {
		now  time.Time
		hour int
		want time.Time
	}{
		// Before today's run: fires today.
		{time.Date(2026, time.March, 10, 1, 0, 0, 0, time.UTC), 2, time.Date(2026, time.March, 10, 2, 0, 0, 0, time.UTC)},
		// After today's run: fires tomorrow.
		{time.Date(2026, time.March, 10, 2, 30, 0, 0, time.UTC), 2, time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC)},
		// Exactly at the run time: fires tomorrow, never immediately twice.
		{time.Date(2026, time.March, 10, 2, 0, 0, 0, time.UTC), 2, time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC)},
		// Month boundary.
		{time.Date(2026, time.March, 31, 23, 0, 0, 0, time.UTC), 2, time.Date(2026, time.April, 1, 2, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := NextDaily(tc.now, tc.hour); !got.Equal(tc.want) {
			t.Errorf("NextDaily(%v, %d) = %v, want %v", tc.now, tc.hour, got, tc.want)
		}
	}
}

func TestNextMonthly(t *testing.T) {
	cases := []struct {
		now  time.Time
		hour int
		want time.Time
	}{
		// Mid-month: fires on the 1st of next month.
		{time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC), 0, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)},
		// On the 1st before the run hour: fires today.
		{time.Date(2026, time.March, 1, 0, 0, 0, 1, time.UTC), 1, time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)},
		// December rolls the year.
		{time.Date(2026, time.December, 20, 0, 0, 0, 0, time.UTC), 0, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := NextMonthly(tc.now, tc.hour); !got.Equal(tc.want) {
			t.Errorf("NextMonthly(%v, %d) = %v, want %v", tc.now, tc.hour, got, tc.want)
		}
	}
}
