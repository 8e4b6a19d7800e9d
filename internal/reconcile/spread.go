package reconcile

import (
	"time"

	"github.com/roach88/adingest/internal/domain"
)

const (
	// DefaultWindow is the trailing window synthetic timestamps are spread over.
	DefaultWindow = 3 * time.Minute

	// DefaultMaxDelta bounds the events a single observation may produce.
	DefaultMaxDelta int64 = 1_000_000
)

// Spread returns n strictly increasing timestamps in (start, end], evenly
// spaced, the last one at end. If the span is shorter than n nanoseconds it
// is stretched to n nanoseconds past start.
func Spread(start, end time.Time, n int64) []time.Time {
	if n <= 0 {
		return nil
	}
	span := end.Sub(start)
	if span < time.Duration(n) {
		span = time.Duration(n)
	}
	step := span / time.Duration(n)

	out := make([]time.Time, n)
	for i := int64(1); i <= n; i++ {
		out[i-1] = start.Add(time.Duration(i) * step)
	}
	return out
}

// windowStart returns where a new spread begins: the window start, pushed
// past the entity's newest stored event so timestamps never collide with
// earlier runs, and never before dayStart so the events stay on the day
// their snapshot counts.
func windowStart(now time.Time, window time.Duration, dayStart, latest time.Time, hasLatest bool) time.Time {
	start := now.Add(-window)
	if hasLatest && latest.After(start) {
		start = latest
	}
	if dayStart.After(start) {
		start = dayStart
	}
	return start
}

// Day returns t's calendar day in loc in domain.DayLayout form.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(domain.DayLayout)
}

// dayBounds returns [start, end) of t's calendar day in loc.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
