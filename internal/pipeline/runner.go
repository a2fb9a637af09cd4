package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/logging"
)

// runner holds what the daily and night lights pipelines share: run
// bookkeeping, the worker pool and the single checkpoint save.
type runner struct {
	opts Options
	deps Deps
	log  zerolog.Logger
}

// dateFunc processes one date. It may panic; the runner turns panics into
// a Failed outcome.
type dateFunc func(ctx context.Context, date civil.Date, log zerolog.Logger) DateResult

func (r *runner) newReport(pipelineID string) *RunReport {
	return &RunReport{
		RunID:      uuid.NewString(),
		PipelineID: pipelineID,
		Started:    r.deps.Now(),
	}
}

// save normalises next, writes it once and notifies observers.
func (r *runner) save(ctx context.Context, report *RunReport, next checkpoint.Checkpoint) (*RunReport, error) {
	next = next.Normalize()
	report.Checkpoint = next
	report.Finished = r.deps.Now()

	if err := r.deps.Store.Save(report.PipelineID, next); err != nil {
		r.finish(ctx, report)
		return report, fmt.Errorf("pipeline: %w", err)
	}
	report.Saved = true
	r.log.Info().
		Str(logging.FieldRunID, report.RunID).
		Str("last_execution_date", next.LastExecutionDate.String()).
		Int("uncompleted", len(next.UncompletedDates)).
		Int("succeeded", report.Count(Succeeded)).
		Int("skipped", report.Count(Skipped)).
		Int("partially_failed", report.Count(PartiallyFailed)).
		Int("failed", report.Count(Failed)).
		Msg("run finished")
	r.finish(ctx, report)
	return report, nil
}

func (r *runner) finish(ctx context.Context, report *RunReport) {
	for _, o := range r.deps.Observers {
		o.RunFinished(ctx, report)
	}
}

// process runs fn for every date on up to Workers goroutines. Results flow
// to a single collector that notifies observers; the returned slice is in
// date order.
func (r *runner) process(ctx context.Context, report *RunReport, dates []civil.Date, fn dateFunc) []DateResult {
	results := make(chan DateResult)
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)
	go func() {
		for _, date := range dates {
			g.Go(func() error {
				results <- r.guard(ctx, date, fn)
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	collected := make([]DateResult, 0, len(dates))
	for res := range results {
		collected = append(collected, res)
		for _, o := range r.deps.Observers {
			o.DateFinished(ctx, report.RunID, report.PipelineID, res)
		}
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].Date.Before(collected[j].Date) })
	return collected
}

// guard is the date boundary: nothing a date does escapes it.
func (r *runner) guard(ctx context.Context, date civil.Date, fn dateFunc) (res DateResult) {
	started := r.deps.Now()
	log := r.log.With().Str(logging.FieldDate, date.String()).Logger()

	defer func() {
		if p := recover(); p != nil {
			res = DateResult{Date: date, Outcome: Failed, Err: fmt.Errorf("panic: %v", p)}
			log.Error().Str("stack", string(debug.Stack())).Interface("panic", p).Msg("date aborted")
		}
		res.Started = started
		res.Duration = r.deps.Now().Sub(started)
		switch res.Outcome {
		case Failed, PartiallyFailed:
			log.Error().Err(res.Err).Str("outcome", string(res.Outcome)).Msg("date not completed")
		default:
			log.Info().Str("outcome", string(res.Outcome)).Int("products", res.Produced).Msg("date done")
		}
	}()

	if err := ctx.Err(); err != nil {
		return failDate(DateResult{Date: date}, err)
	}
	res = fn(ctx, date, log)
	res.Date = date
	return res
}

func failDate(res DateResult, err error) DateResult {
	res.Outcome = Failed
	res.Err = err
	return res
}

func unfinished(results []DateResult) []civil.Date {
	var dates []civil.Date
	for _, r := range results {
		if !r.Outcome.Done() {
			dates = append(dates, r.Date)
		}
	}
	return dates
}
