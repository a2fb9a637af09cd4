package pipeline

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/zulandar/empatia/internal/checkpoint"
)

// Outcome is the terminal state of one processing date.
type Outcome string

const (
	// Skipped dates had nothing to process: no tiles, or no orbit that was
	// eligible and passed the gate. They count as done.
	Skipped         Outcome = "skipped"
	Succeeded       Outcome = "succeeded"
	PartiallyFailed Outcome = "partially_failed"
	Failed          Outcome = "failed"
)

// Done reports whether the date needs no further attempts.
func (o Outcome) Done() bool {
	return o == Skipped || o == Succeeded
}

// DateResult summarises the processing of one date.
type DateResult struct {
	Date     civil.Date
	Outcome  Outcome
	Orbits   int // eligible orbits
	Rejected int // dropped by the validity gate
	Produced int // PM10 rasters written
	Failures int // orbits that failed after passing the gate
	Products []string
	Err      error
	Started  time.Time
	Duration time.Duration
}

// RunReport summarises a whole run.
type RunReport struct {
	RunID      string
	PipelineID string
	Started    time.Time
	Finished   time.Time
	Dates      []DateResult // ascending by date
	Checkpoint checkpoint.Checkpoint
	Saved      bool
}

// Count returns how many dates ended with outcome o.
func (r *RunReport) Count(o Outcome) int {
	n := 0
	for _, d := range r.Dates {
		if d.Outcome == o {
			n++
		}
	}
	return n
}

// OK reports whether every date is done.
func (r *RunReport) OK() bool {
	for _, d := range r.Dates {
		if !d.Outcome.Done() {
			return false
		}
	}
	return true
}

// Observer is told about every finished date and every finished run. Calls
// are made from a single goroutine.
type Observer interface {
	DateFinished(ctx context.Context, runID, pipelineID string, res DateResult)
	RunFinished(ctx context.Context, report *RunReport)
}
