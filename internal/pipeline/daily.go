// Package pipeline drives the resumable date-ranged processing runs: the
// daily PM10 pipeline and the yearly night lights pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/cleanup"
	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/orbit"
	"github.com/zulandar/empatia/internal/planner"
	"github.com/zulandar/empatia/internal/sensorlog"
)

// Daily runs the daily PM10 pipeline.
type Daily struct {
	runner
	nightLights string
}

// NewDaily validates the collaborators and returns a runner.
func NewDaily(opts Options, deps Deps) (*Daily, error) {
	if err := deps.check(true); err != nil {
		return nil, err
	}
	if opts.ProcessedDir == "" || opts.PredictionDir == "" {
		return nil, errors.New("pipeline: processed and prediction directories are required")
	}
	if len(opts.Maiac.Bands) == 0 {
		return nil, errors.New("pipeline: at least one MAIAC band is required")
	}
	opts.applyDefaults()
	return &Daily{runner: runner{
		opts: opts,
		deps: deps,
		log:  logging.Component(deps.Logger, "daily").With().Str(logging.FieldPipeline, opts.PipelineID).Logger(),
	}}, nil
}

// Run plans the dates still owed by the checkpoint, processes them and saves
// the checkpoint once. An empty plan does nothing and leaves the checkpoint
// untouched. A corrupt checkpoint aborts the run before any work.
func (d *Daily) Run(ctx context.Context) (*RunReport, error) {
	today := civil.DateOf(d.deps.Now())
	cp, err := d.deps.Store.Load(d.opts.PipelineID, today)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	dates := planner.Plan(cp, today, d.opts.MaxLookbackDays)
	report := d.newReport(d.opts.PipelineID)
	if len(dates) == 0 {
		d.log.Info().Str("last_execution_date", cp.LastExecutionDate.String()).Msg("nothing to process")
		report.Checkpoint = cp
		report.Finished = d.deps.Now()
		d.finish(ctx, report)
		return report, nil
	}

	d.log.Info().Str(logging.FieldRunID, report.RunID).Int("dates", len(dates)).
		Str("first", dates[0].String()).Str("last", dates[len(dates)-1].String()).Msg("processing window")
	d.resolveNightLights(today.Year)
	report.Dates = d.process(ctx, report, dates, d.processDate)

	next := checkpoint.Checkpoint{
		LastExecutionDate: dates[len(dates)-1],
		UncompletedDates:  unfinished(report.Dates),
	}
	return d.save(ctx, report, next)
}

// RunRange processes an explicit window regardless of the checkpoint plan.
// Outcomes are merged into the checkpoint: finished dates leave the
// uncompleted set, failed ones join it, and the last execution date only
// moves forward.
func (d *Daily) RunRange(ctx context.Context, start, end civil.Date) (*RunReport, error) {
	dates, err := planner.Range(start, end)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	today := civil.DateOf(d.deps.Now())
	cp, err := d.deps.Store.Load(d.opts.PipelineID, today)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	report := d.newReport(d.opts.PipelineID)
	d.log.Info().Str(logging.FieldRunID, report.RunID).Int("dates", len(dates)).
		Str("first", dates[0].String()).Str("last", dates[len(dates)-1].String()).Msg("processing explicit window")
	d.resolveNightLights(today.Year)
	report.Dates = d.process(ctx, report, dates, d.processDate)

	done := make(map[civil.Date]bool, len(report.Dates))
	for _, r := range report.Dates {
		done[r.Date] = r.Outcome.Done()
	}
	var pending []civil.Date
	for _, u := range cp.UncompletedDates {
		if finished, seen := done[u]; !seen || !finished {
			pending = append(pending, u)
		}
	}
	pending = append(pending, unfinished(report.Dates)...)

	last := cp.LastExecutionDate
	if end := dates[len(dates)-1]; last.Before(end) {
		last = end
	}
	return d.save(ctx, report, checkpoint.Checkpoint{LastExecutionDate: last, UncompletedDates: pending})
}

func (d *Daily) resolveNightLights(year int) {
	d.nightLights = resolveNightLights(d.opts.ProcessedDir, d.opts.Viirs.Product, year)
	if d.nightLights == "" {
		d.log.Warn().Int("year", year).Msg("no night lights raster for this or last year")
	}
}

// orbitRun tracks one eligible orbit through a date.
type orbitRun struct {
	orbit  orbit.Orbit
	name   string            // "<hour>_<sensor>", unique within the date
	bands  map[string]string // band prefix -> mosaic path
	inputs []string          // feature rasters
	err    error
}

func (o *orbitRun) failed() bool { return o.err != nil }

// processDate runs one date end to end: tiles, orbits, gate, reanalysis,
// estimates, index product and sensor log.
func (d *Daily) processDate(ctx context.Context, date civil.Date, log zerolog.Logger) DateResult {
	res := DateResult{Date: date}
	workDir := filepath.Join(d.opts.ProcessedDir, date.String())
	predDir := filepath.Join(d.opts.PredictionDir, date.String())
	for _, dir := range []string{workDir, predDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return failDate(res, fmt.Errorf("create %s: %w", dir, err))
		}
	}
	defer func() {
		if removed, err := cleanup.RemoveIntermediates(workDir); err != nil {
			log.Warn().Err(err).Msg("intermediate cleanup incomplete")
		} else if len(removed) > 0 {
			log.Debug().Int("files", len(removed)).Msg("intermediate rasters removed")
		}
	}()

	region := d.opts.Region
	log.Info().Msg("fetching MAIAC tiles")
	tiles, err := retryOnce(ctx, d.opts.RetryDelay, func() ([]orbit.TileRecord, error) {
		return d.deps.Tiles.FetchTiles(ctx, TileRequest{
			Product:    d.opts.Maiac.Product,
			Collection: d.opts.Maiac.Collection,
			Date:       date,
			Region:     region,
		})
	})
	if err != nil {
		return failDate(res, fmt.Errorf("fetch tiles: %w", err))
	}
	if len(tiles) == 0 {
		log.Info().Msg("no tiles available")
		res.Outcome = Skipped
		return res
	}

	runs := d.eligible(orbit.Cluster(tiles), log)
	res.Orbits = len(runs)
	if len(runs) == 0 {
		log.Info().Int("tiles", len(tiles)).Msg("no eligible orbits")
		res.Outcome = Skipped
		return res
	}

	total, err := d.deps.Raster.TotalCells(ctx, region)
	if err != nil {
		return failDate(res, fmt.Errorf("total cells: %w", err))
	}

	runs, res.Rejected = d.mosaicAndGate(ctx, workDir, runs, total, log)
	live := alive(runs)
	if len(live) == 0 {
		if errs := orbitErrors(runs); errs != nil {
			return failDate(res, errs)
		}
		log.Info().Int("rejected", res.Rejected).Msg("every orbit rejected by the validity gate")
		res.Outcome = Skipped
		return res
	}

	if err := d.reanalysis(ctx, date, workDir, live, log); err != nil {
		return failDate(res, err)
	}

	sensors := sensorlog.Log{}
	var pm10 []string
	for _, r := range alive(live) {
		path, err := d.predict(ctx, r, workDir, predDir, d.nightLights, log)
		if err != nil {
			r.err = err
			continue
		}
		sensors.Append(r.orbit.Sensor, path)
		pm10 = append(pm10, path)
		res.Products = append(res.Products, path)
	}
	res.Produced = len(pm10)
	orbitErrs := orbitErrors(runs)
	res.Failures = countFailed(runs)
	if len(pm10) == 0 {
		return failDate(res, orbitErrs)
	}

	ica, err := d.aggregate(ctx, date, workDir, predDir, pm10)
	if err != nil {
		return failDate(res, fmt.Errorf("index aggregation: %w", err))
	}
	res.Products = append(res.Products, ica)

	if err := sensorlog.Write(d.opts.PredictionDir, date, sensors); err != nil {
		return failDate(res, err)
	}

	if orbitErrs != nil {
		res.Outcome = PartiallyFailed
		res.Err = orbitErrs
		return res
	}
	res.Outcome = Succeeded
	return res
}

// eligible keeps the orbits with enough tiles whose overpass hour falls in
// the configured window.
func (d *Daily) eligible(orbits []orbit.Orbit, log zerolog.Logger) []*orbitRun {
	var runs []*orbitRun
	seen := make(map[string]int)
	for _, o := range orbits {
		hour := o.Start().Hour()
		if len(o.Members) < d.opts.MinTiles || hour < d.opts.HourStart || hour > d.opts.HourEnd {
			log.Debug().Str(logging.FieldOrbit, o.Key()).Int("tiles", len(o.Members)).Msg("orbit not eligible")
			continue
		}
		name := o.Key()
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, o.GroupTag)
		}
		seen[o.Key()]++
		runs = append(runs, &orbitRun{orbit: o, name: name, bands: make(map[string]string)})
	}
	return runs
}

func alive(runs []*orbitRun) []*orbitRun {
	var out []*orbitRun
	for _, r := range runs {
		if !r.failed() {
			out = append(out, r)
		}
	}
	return out
}

func countFailed(runs []*orbitRun) int {
	n := 0
	for _, r := range runs {
		if r.failed() && !isRejection(r.err) {
			n++
		}
	}
	return n
}

// orbitErrors joins the errors of orbits that failed for a reason other
// than the validity gate.
func orbitErrors(runs []*orbitRun) error {
	var errs []error
	for _, r := range runs {
		if r.failed() && !isRejection(r.err) {
			errs = append(errs, fmt.Errorf("orbit %s: %w", r.name, r.err))
		}
	}
	return errors.Join(errs...)
}
