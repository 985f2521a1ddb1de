// Package months computes the 1-based month index that keys every
// per-project time series.
package months

import (
	"strings"
	"time"
)

// Layouts tried for commit-shaped records, first match wins.
var CommitLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
}

// Layouts tried for issue-shaped records, first match wins.
var IssueLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Index returns the calendar-month distance from earliest to event plus one,
// so the month containing earliest is 1. Both times are read as UTC calendar
// dates, the same basis Earliest orders by. An event before earliest yields
// a value <= 0.
func Index(earliest, event time.Time) int {
	earliest, event = earliest.UTC(), event.UTC()
	return (event.Year()-earliest.Year())*12 + (int(event.Month()) - int(earliest.Month())) + 1
}

// Parse tries each layout in order.
func Parse(value string, layouts []string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Earliest returns the minimum instant in ts.
func Earliest(ts []time.Time) (time.Time, bool) {
	if len(ts) == 0 {
		return time.Time{}, false
	}
	min := ts[0]
	for _, t := range ts[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return min, true
}
