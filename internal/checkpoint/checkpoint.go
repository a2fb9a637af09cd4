// Package checkpoint persists the progress of a date-ranged pipeline so an
// interrupted or partially failed run can be resumed by the next invocation.
package checkpoint

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
)

// Checkpoint is the persisted progress of one pipeline.
type Checkpoint struct {
	LastExecutionDate civil.Date   `json:"last_execution_date"`
	UncompletedDates  []civil.Date `json:"uncompleted_dates"`
}

// Default returns the checkpoint used when no state has been persisted yet.
func Default(today civil.Date) Checkpoint {
	return Checkpoint{LastExecutionDate: today, UncompletedDates: []civil.Date{}}
}

// Normalize returns a copy with UncompletedDates deduplicated and sorted
// ascending. A nil set becomes an empty one.
func (c Checkpoint) Normalize() Checkpoint {
	return Checkpoint{
		LastExecutionDate: c.LastExecutionDate,
		UncompletedDates:  SortedUnique(c.UncompletedDates),
	}
}

// Equal reports whether two checkpoints describe the same state.
func (c Checkpoint) Equal(o Checkpoint) bool {
	a, b := c.Normalize(), o.Normalize()
	if a.LastExecutionDate != b.LastExecutionDate || len(a.UncompletedDates) != len(b.UncompletedDates) {
		return false
	}
	for i := range a.UncompletedDates {
		if a.UncompletedDates[i] != b.UncompletedDates[i] {
			return false
		}
	}
	return true
}

// SortedUnique returns the distinct dates in ascending order.
func SortedUnique(dates []civil.Date) []civil.Date {
	seen := make(map[civil.Date]struct{}, len(dates))
	out := make([]civil.Date, 0, len(dates))
	for _, d := range dates {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// CorruptCheckpointError is returned when persisted state exists but cannot
// be parsed. It is never resolved by resetting the state; an operator has to
// repair or remove the file.
type CorruptCheckpointError struct {
	PipelineID string
	Path       string
	Err        error
}

func (e *CorruptCheckpointError) Error() string {
	return fmt.Sprintf("checkpoint: %s: corrupt state in %s: %v", e.PipelineID, e.Path, e.Err)
}

func (e *CorruptCheckpointError) Unwrap() error { return e.Err }
