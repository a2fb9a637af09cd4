// Package monthly aggregates the daily PM10 estimates of a calendar month
// into per-sensor mean, standard deviation and sample count products.
package monthly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/orbit"
	"github.com/zulandar/empatia/internal/pipeline"
	"github.com/zulandar/empatia/internal/product"
	"github.com/zulandar/empatia/internal/sensorlog"
)

// Engine is the part of the raster engine the aggregation needs.
type Engine interface {
	Stats(ctx context.Context, op pipeline.StatOp, rasters []string, out string, region pipeline.Region) error
	Export(ctx context.Context, bands []string, out string, region pipeline.Region) error
}

// SensorSummary is the monthly product of one sensor.
type SensorSummary struct {
	Sensor  orbit.Sensor
	Name    string
	First   civil.Date // first date contributing rasters
	Last    civil.Date
	Inputs  []string // daily rasters in date order
	Product string   // multiband raster: mean, stddev, count
	Archive string
}

// Summary is the result of aggregating one month.
type Summary struct {
	Year    int
	Month   time.Month
	NoData  bool
	Sensors map[orbit.Sensor]SensorSummary
}

// Aggregator builds monthly products from the daily sensor logs.
type Aggregator struct {
	PredictionDir string
	OutDir        string            // defaults to <PredictionDir>/monthly
	Codes         map[string]string // product code per sensor name
	Region        pipeline.Region
	Engine        Engine
	Logger        zerolog.Logger
}

// Aggregate reads every sensor log of the month in date order, concatenates
// the per-sensor raster lists and computes the statistics of each sensor.
// A month without logs yields Summary{NoData: true} and no error.
func (a *Aggregator) Aggregate(ctx context.Context, year int, month time.Month) (Summary, error) {
	log := logging.Component(a.Logger, "monthly").With().Str("month", fmt.Sprintf("%04d-%02d", year, month)).Logger()
	summary := Summary{Year: year, Month: month, Sensors: make(map[orbit.Sensor]SensorSummary)}
	if a.Engine == nil {
		return summary, errors.New("monthly: raster engine is required")
	}

	entries, err := sensorlog.ScanMonth(a.PredictionDir, year, int(month))
	if err != nil {
		return summary, fmt.Errorf("monthly: %w", err)
	}

	collected := make(map[orbit.Sensor]*SensorSummary)
	for _, e := range entries {
		for _, s := range orbit.Sensors {
			paths := e.Log[s]
			if len(paths) == 0 {
				continue
			}
			ss, ok := collected[s]
			if !ok {
				ss = &SensorSummary{Sensor: s, First: e.Date}
				collected[s] = ss
			}
			ss.Last = e.Date
			ss.Inputs = append(ss.Inputs, paths...)
		}
	}
	if len(collected) == 0 {
		log.Info().Int("logs", len(entries)).Msg("no daily estimates for month")
		summary.NoData = true
		return summary, nil
	}

	outDir := a.OutDir
	if outDir == "" {
		outDir = filepath.Join(a.PredictionDir, "monthly")
	}
	for _, s := range orbit.Sensors {
		ss, ok := collected[s]
		if !ok {
			continue
		}
		if err := a.build(ctx, outDir, ss); err != nil {
			return summary, fmt.Errorf("monthly: %s: %w", s, err)
		}
		summary.Sensors[s] = *ss
		log.Info().Str(logging.FieldSensor, string(s)).Int("rasters", len(ss.Inputs)).Str("product", ss.Name).Msg("monthly product written")
	}
	return summary, nil
}

func (a *Aggregator) build(ctx context.Context, outDir string, ss *SensorSummary) error {
	code := a.Codes[string(ss.Sensor)]
	if code == "" {
		return fmt.Errorf("no product code for sensor %s", ss.Sensor)
	}
	ss.Name = product.MonthlyName(ss.First, ss.Last, code)
	dir := filepath.Join(outDir, ss.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	work, err := os.MkdirTemp(outDir, ".work-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	var bands []string
	for _, op := range []pipeline.StatOp{pipeline.StatMean, pipeline.StatStdDev, pipeline.StatCount} {
		out := filepath.Join(work, fmt.Sprintf("PM10_%s_%s.tif", op, ss.Sensor))
		if err := a.Engine.Stats(ctx, op, ss.Inputs, out, a.Region); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		bands = append(bands, out)
	}

	ss.Product = filepath.Join(dir, ss.Name+".tif")
	if err := a.Engine.Export(ctx, bands, ss.Product, a.Region); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	archive, err := product.Zip(dir)
	if err != nil {
		return err
	}
	ss.Archive = archive
	return nil
}

// MonthOf returns the month containing today minus ndays.
func MonthOf(today civil.Date, ndays int) (int, time.Month) {
	d := today.AddDays(-ndays)
	return d.Year, d.Month
}

// ParseMonth parses a YYYY-MM month.
func ParseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("monthly: month %q must be YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}
