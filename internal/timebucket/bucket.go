// Package timebucket maps timestamps to canonical time-window keys.
// All functions are pure and operate in UTC so the same instant always
// lands in the same bucket regardless of the caller's locale.
package timebucket

import (
	"fmt"
	"time"
)

// Granularity is the width of an aggregation window.
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity validates a wire-level granularity string.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Hour, Day, Week, Month:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// BucketFor truncates t to the start of its window in UTC. Weeks start
// Monday 00:00 UTC (ISO-8601); months truncate to day 1 regardless of
// month length or leap years.
func BucketFor(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// time.Weekday puts Sunday at 0; shift so Monday is the week start.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	// Callers parse granularity before reaching here.
	return t
}

// Next returns the start of the window following period.
func Next(period time.Time, g Granularity) time.Time {
	switch g {
	case Hour:
		return period.Add(time.Hour)
	case Day:
		return period.AddDate(0, 0, 1)
	case Week:
		return period.AddDate(0, 0, 7)
	case Month:
		return period.AddDate(0, 1, 0)
	}
	return period
}

// RangeToBuckets returns the start of every window intersecting
// [start, end], inclusive, ascending. The output is fully determined by
// its inputs; regenerating it from the same arguments yields the same
// sequence.
func RangeToBuckets(start, end time.Time, g Granularity) []time.Time {
	if end.Before(start) {
		return nil
	}
	var out []time.Time
	for b := BucketFor(start, g); !b.After(end.UTC()); b = Next(b, g) {
		out = append(out, b)
	}
	return out
}
