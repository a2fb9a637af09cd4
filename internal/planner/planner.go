// Package planner computes which calendar dates a pipeline run still has to
// process.
package planner

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/zulandar/empatia/internal/checkpoint"
)

// DefaultMaxLookbackDays bounds how far back a run will reach. Dates older
// than the horizon are dropped for good, even if they never succeeded.
const DefaultMaxLookbackDays = 90

// Plan returns the dates to attempt in one invocation: the checkpoint's
// uncompleted dates plus every day from its last execution date to today
// (inclusive), restricted to dates no older than today - maxLookbackDays,
// deduplicated and sorted ascending. A non-positive maxLookbackDays uses
// DefaultMaxLookbackDays.
func Plan(cp checkpoint.Checkpoint, today civil.Date, maxLookbackDays int) []civil.Date {
	if maxLookbackDays <= 0 {
		maxLookbackDays = DefaultMaxLookbackDays
	}
	minDate := today.AddDays(-maxLookbackDays)

	from := cp.LastExecutionDate
	if from.Before(minDate) {
		from = minDate
	}
	candidates := append([]civil.Date{}, cp.UncompletedDates...)
	candidates = append(candidates, DayRange(from, today)...)

	kept := candidates[:0]
	for _, d := range candidates {
		if d.Before(minDate) {
			continue
		}
		kept = append(kept, d)
	}
	return checkpoint.SortedUnique(kept)
}

// DayRange returns every date from start to end inclusive. It is empty when
// end is before start.
func DayRange(start, end civil.Date) []civil.Date {
	if end.Before(start) {
		return nil
	}
	n := end.DaysSince(start) + 1
	days := make([]civil.Date, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, start.AddDays(i))
	}
	return days
}

// Range returns an explicit operator-chosen window. A zero end means a single
// day.
func Range(start, end civil.Date) ([]civil.Date, error) {
	if !start.IsValid() {
		return nil, fmt.Errorf("planner: invalid start date %s", start)
	}
	if end.IsZero() {
		end = start
	}
	if !end.IsValid() {
		return nil, fmt.Errorf("planner: invalid end date %s", end)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("planner: end date %s is before start date %s", end, start)
	}
	return DayRange(start, end), nil
}
