package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/orbit"
	"github.com/zulandar/empatia/internal/planner"
)

// NightLightsPipelineID returns the checkpoint id of a year's night lights
// run.
func NightLightsPipelineID(year int) string {
	return fmt.Sprintf("viirs-%d", year)
}

// NightLights builds the yearly mean of the VIIRS night lights product over
// the configured acquisition window.
type NightLights struct {
	runner
}

// NewNightLights returns a night lights runner. Only the tile source, the
// raster engine and the checkpoint store are needed.
func NewNightLights(opts Options, deps Deps) (*NightLights, error) {
	if err := deps.check(false); err != nil {
		return nil, err
	}
	if opts.ProcessedDir == "" {
		return nil, errors.New("pipeline: processed directory is required")
	}
	opts.applyDefaults()
	return &NightLights{runner{
		opts: opts,
		deps: deps,
		log:  logging.Component(deps.Logger, "viirs"),
	}}, nil
}

// Window returns the acquisition window of year.
func (n *NightLights) Window(year int) (civil.Date, civil.Date, error) {
	start, err := monthDay(year, n.opts.Viirs.WindowStart)
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	end, err := monthDay(year, n.opts.Viirs.WindowEnd)
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	if end.Before(start) {
		return civil.Date{}, civil.Date{}, fmt.Errorf("pipeline: night lights window ends before it starts (%s..%s)", start, end)
	}
	return start, end, nil
}

func monthDay(year int, mmdd string) (civil.Date, error) {
	t, err := time.Parse("01-02", mmdd)
	if err != nil {
		return civil.Date{}, fmt.Errorf("pipeline: window bound %q: %w", mmdd, err)
	}
	return civil.Date{Year: year, Month: t.Month(), Day: t.Day()}, nil
}

// Run builds the night lights mean of year. It returns ErrWindowOpen until
// the acquisition window has closed. When the mean already exists only the
// dates recorded as uncompleted are fetched again; a fresh year fetches the
// whole window. Daily mosaics persist between runs and all of them feed the
// mean.
func (n *NightLights) Run(ctx context.Context, year int) (*RunReport, error) {
	start, end, err := n.Window(year)
	if err != nil {
		return nil, err
	}
	today := civil.DateOf(n.deps.Now())
	if !end.Before(today) {
		return nil, fmt.Errorf("%w: window ends %s", ErrWindowOpen, end)
	}

	id := NightLightsPipelineID(year)
	out := NightLightsPath(n.opts.ProcessedDir, n.opts.Viirs.Product, year)
	dir := filepath.Dir(out)
	log := n.log.With().Str(logging.FieldPipeline, id).Logger()

	cp, err := n.deps.Store.Load(id, today)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	report := n.newReport(id)
	var dates []civil.Date
	if _, err := os.Stat(out); err == nil {
		for _, d := range cp.UncompletedDates {
			if !d.Before(start) && !end.Before(d) {
				dates = append(dates, d)
			}
		}
		if len(dates) == 0 {
			log.Info().Str("raster", out).Msg("night lights already up to date")
			report.Checkpoint = cp
			report.Finished = n.deps.Now()
			n.finish(ctx, report)
			return report, nil
		}
	} else {
		dates = planner.DayRange(start, end)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create %s: %w", dir, err)
	}
	log.Info().Str(logging.FieldRunID, report.RunID).Int("dates", len(dates)).Msg("fetching night lights")
	report.Dates = n.process(ctx, report, dates, func(ctx context.Context, date civil.Date, log zerolog.Logger) DateResult {
		return n.processDate(ctx, date, dir, log)
	})

	next := checkpoint.Checkpoint{LastExecutionDate: end, UncompletedDates: unfinished(report.Dates)}
	meanErr := n.mean(ctx, dir, out)
	if meanErr != nil {
		log.Error().Err(meanErr).Msg("night lights mean not computed")
	} else {
		log.Info().Str("raster", out).Msg("night lights mean written")
	}

	report, err = n.save(ctx, report, next)
	if meanErr != nil {
		return report, fmt.Errorf("pipeline: night lights %d: %w", year, meanErr)
	}
	return report, err
}

func (n *NightLights) processDate(ctx context.Context, date civil.Date, dir string, log zerolog.Logger) DateResult {
	res := DateResult{Date: date}
	tiles, err := retryOnce(ctx, n.opts.RetryDelay, func() ([]orbit.TileRecord, error) {
		return n.deps.Tiles.FetchTiles(ctx, TileRequest{
			Product:    n.opts.Viirs.Product,
			Collection: n.opts.Viirs.Collection,
			Date:       date,
			Region:     n.opts.Region,
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

	out := filepath.Join(dir, dailyNightLightsName(date))
	err = n.deps.Raster.Mosaic(ctx, MosaicRequest{
		Tiles:  tiles,
		Subset: n.opts.Viirs.Subset,
		Out:    out,
		Region: n.opts.Region,
	})
	if err != nil {
		return failDate(res, fmt.Errorf("mosaic: %w", err))
	}
	res.Outcome = Succeeded
	res.Produced = 1
	res.Products = []string{out}
	return res
}

func dailyNightLightsName(date civil.Date) string {
	return fmt.Sprintf("viirs_%s.tif", date)
}

// mean averages every daily mosaic present in dir into out.
func (n *NightLights) mean(ctx context.Context, dir, out string) error {
	rasters, err := filepath.Glob(filepath.Join(dir, "viirs_[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9].tif"))
	if err != nil {
		return err
	}
	if len(rasters) == 0 {
		return errors.New("no daily mosaics")
	}
	sort.Strings(rasters)
	return n.deps.Raster.Stats(ctx, StatMean, rasters, out, n.opts.Region)
}
