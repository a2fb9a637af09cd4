package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/gate"
	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/product"
)

var errRejected = errors.New("rejected by validity gate")

func isRejection(err error) bool {
	var verr *gate.ValidationError
	return errors.Is(err, errRejected) || errors.As(err, &verr)
}

// mosaicAndGate builds the mosaic of every band for every orbit and drops
// the orbits whose mosaics fail the validity gate. Once an (hour, sensor)
// key is rejected, later mosaics sharing it are dropped without counting
// cells. It returns the runs and the number of rejected orbits.
func (d *Daily) mosaicAndGate(ctx context.Context, workDir string, runs []*orbitRun, total int, log zerolog.Logger) ([]*orbitRun, int) {
	memo := gate.NewMemo()
	rejected := 0
	for _, band := range d.opts.Maiac.Bands {
		for _, r := range alive(runs) {
			key := gate.Key{Hour: r.orbit.Start().Hour(), Sensor: string(r.orbit.Sensor)}
			olog := log.With().Str(logging.FieldOrbit, r.name).Str("band", band.Prefix).Logger()

			if memo.Rejected(key) {
				r.err = fmt.Errorf("%s: %w", key, errRejected)
				rejected++
				olog.Info().Msg("overpass already rejected, orbit dropped")
				continue
			}

			out := filepath.Join(workDir, fmt.Sprintf("%s_%s.tif", band.Prefix, r.name))
			err := d.deps.Raster.Mosaic(ctx, MosaicRequest{
				Tiles:  r.orbit.Members,
				Subset: band.Subset,
				Out:    out,
				Region: d.opts.Region,
			})
			if err != nil {
				r.err = fmt.Errorf("mosaic %s: %w", filepath.Base(out), err)
				continue
			}

			nulls, err := d.deps.Raster.CountNullCells(ctx, out, d.opts.Region)
			if err != nil {
				r.err = fmt.Errorf("count null cells of %s: %w", filepath.Base(out), err)
				continue
			}
			a, err := gate.Assess(total, nulls, d.opts.Threshold)
			if err != nil {
				r.err = err
				continue
			}
			if !a.IsValid {
				memo.Reject(key)
				verr := &gate.ValidationError{Raster: filepath.Base(out), Assessment: a}
				r.err = verr
				rejected++
				olog.Info().Err(verr).Msg("orbit dropped")
				continue
			}

			olog.Debug().Float64("valid_percent", a.ValidPercent).Msg("mosaic accepted")
			r.bands[band.Prefix] = out
			if band.Feature {
				r.inputs = append(r.inputs, out)
			}
		}
	}
	return runs, rejected
}

// reanalysis fetches every reanalysis collection for the date and warps the
// band matching each orbit's hour onto the region grid. A grid that cannot be
// read is deleted and fetched again once per collection; a second failure
// fails the orbit.
func (d *Daily) reanalysis(ctx context.Context, date civil.Date, workDir string, runs []*orbitRun, log zerolog.Logger) error {
	for _, ds := range d.opts.Datasets {
		grid, err := d.fetchGrid(ctx, date, ds)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", ds.ShortName, err)
		}

		refetched := false
		for _, r := range alive(runs) {
			band := MerraBand(r.orbit.Start().Hour(), ds)
			for _, v := range ds.Variables {
				out := filepath.Join(workDir, fmt.Sprintf("%s_%s.tif", v, r.name))
				req := ReprojectRequest{Source: netcdfSource(grid, v), Band: band, Out: out, Region: d.opts.Region}
				err := d.deps.Raster.Reproject(ctx, req)
				if err != nil && !refetched {
					refetched = true
					log.Warn().Err(err).Str("dataset", ds.ShortName).Msg("grid unreadable, fetching again")
					if rmErr := os.Remove(grid); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
						return fmt.Errorf("remove %s: %w", grid, rmErr)
					}
					grid, err = d.fetchGrid(ctx, date, ds)
					if err != nil {
						return fmt.Errorf("refetch %s: %w", ds.ShortName, err)
					}
					req.Source = netcdfSource(grid, v)
					err = d.deps.Raster.Reproject(ctx, req)
				}
				if err != nil {
					r.err = fmt.Errorf("reanalysis %s %s: %w", ds.ShortName, v, err)
					break
				}
				r.inputs = append(r.inputs, out)
			}
		}
	}
	return nil
}

func (d *Daily) fetchGrid(ctx context.Context, date civil.Date, ds config.MerraDataset) (string, error) {
	return retryOnce(ctx, d.opts.RetryDelay, func() (string, error) {
		return d.deps.Reanalysis.FetchReanalysis(ctx, date, ds)
	})
}

// predict runs the estimator for one orbit and publishes the estimate next
// to the gated aerosol band. It returns the path of the PM10 raster.
func (d *Daily) predict(ctx context.Context, r *orbitRun, workDir, predDir, nightLights string, log zerolog.Logger) (string, error) {
	name := product.PM10Name(r.orbit.Start())
	out := filepath.Join(workDir, name+".tif")
	req := PredictRequest{
		Model:    d.opts.Model,
		Features: featureStack(r.inputs, d.opts.Region.Domain, nightLights),
		Out:      out,
	}
	if err := d.deps.Estimator.Predict(ctx, req); err != nil {
		return "", &InferenceError{Orbit: r.name, Err: err}
	}

	dir := filepath.Join(predDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	aod := r.bands[d.opts.Maiac.Bands[0].Prefix]
	if err := d.deps.Raster.Export(ctx, []string{out, aod}, filepath.Join(dir, name+".tif"), d.opts.Region); err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}
	if _, err := product.Zip(dir); err != nil {
		return "", err
	}
	log.Info().Str(logging.FieldOrbit, r.name).Str(logging.FieldSensor, string(r.orbit.Sensor)).Str("product", name).Msg("PM10 estimated")
	return out, nil
}

// aggregate averages the date's PM10 rasters and classifies the mean into
// the air-quality index product.
func (d *Daily) aggregate(ctx context.Context, date civil.Date, workDir, predDir string, pm10 []string) (string, error) {
	inputs := append([]string(nil), pm10...)
	sort.Strings(inputs)

	mean := filepath.Join(workDir, "daily_mean.tif")
	if err := d.deps.Raster.Stats(ctx, StatMean, inputs, mean, d.opts.Region); err != nil {
		return "", err
	}

	name := product.ICAName(date)
	dir := filepath.Join(predDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	out := filepath.Join(dir, name+".tif")
	if err := d.deps.Raster.Classify(ctx, mean, d.opts.Scale, out); err != nil {
		return "", err
	}
	if _, err := product.Zip(dir); err != nil {
		return "", err
	}
	return out, nil
}
