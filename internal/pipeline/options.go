package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/empatia/internal/aqi"
	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/gate"
	"github.com/zulandar/empatia/internal/planner"
)

// DailyPipelineID is the checkpoint id of the daily PM10 pipeline.
const DailyPipelineID = "daily"

// Options holds everything a pipeline run needs besides its collaborators.
type Options struct {
	PipelineID      string
	ProcessedDir    string
	PredictionDir   string
	Model           string
	Region          Region
	Maiac           config.MaiacConfig
	Viirs           config.ViirsConfig
	Datasets        []config.MerraDataset
	MinTiles        int
	HourStart       int
	HourEnd         int
	Threshold       float64
	MaxLookbackDays int
	Scale           aqi.Scale
	Workers         int
	RetryDelay      time.Duration // pause before the single retry of a transient fetch
}

// OptionsFromConfig maps the loaded configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	scale, err := aqi.NewScale(cfg.Index.Bounds)
	if err != nil {
		return Options{}, fmt.Errorf("pipeline: %w", err)
	}
	return Options{
		PipelineID:    DailyPipelineID,
		ProcessedDir:  cfg.Paths.Processed,
		PredictionDir: cfg.Paths.Prediction,
		Model:         cfg.Paths.Model,
		Region: Region{
			North:  cfg.Region.North,
			South:  cfg.Region.South,
			East:   cfg.Region.East,
			West:   cfg.Region.West,
			Domain: cfg.Paths.Domain,
			Mask:   cfg.Paths.RegionMask,
			CRS:    cfg.Raster.CRS,
		},
		Maiac:           cfg.Products.Maiac,
		Viirs:           cfg.Products.Viirs,
		Datasets:        cfg.Merra.Datasets,
		MinTiles:        cfg.Orbits.MinTiles,
		HourStart:       cfg.Orbits.HourStart,
		HourEnd:         cfg.Orbits.HourEnd,
		Threshold:       cfg.Gate.MinValidPercent,
		MaxLookbackDays: cfg.Planner.MaxLookbackDays,
		Scale:           scale,
		Workers:         cfg.Workers,
		RetryDelay:      5 * time.Second,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.PipelineID == "" {
		o.PipelineID = DailyPipelineID
	}
	if o.MinTiles <= 0 {
		o.MinTiles = 3
	}
	if o.HourStart == 0 && o.HourEnd == 0 {
		o.HourStart, o.HourEnd = 12, 20
	}
	o.Threshold = gate.Threshold(o.Threshold)
	if o.MaxLookbackDays <= 0 {
		o.MaxLookbackDays = planner.DefaultMaxLookbackDays
	}
	if len(o.Scale.Bounds()) == 0 {
		o.Scale = aqi.DefaultScale()
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
}

// Deps are the collaborators of a pipeline.
type Deps struct {
	Tiles      TileSource
	Reanalysis ReanalysisSource
	Raster     RasterEngine
	Estimator  Estimator
	Store      *checkpoint.Store
	Observers  []Observer
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (d *Deps) check(needReanalysis bool) error {
	var errs []error
	if d.Tiles == nil {
		errs = append(errs, errors.New("tile source is required"))
	}
	if d.Raster == nil {
		errs = append(errs, errors.New("raster engine is required"))
	}
	if d.Store == nil {
		errs = append(errs, errors.New("checkpoint store is required"))
	}
	if needReanalysis {
		if d.Reanalysis == nil {
			errs = append(errs, errors.New("reanalysis source is required"))
		}
		if d.Estimator == nil {
			errs = append(errs, errors.New("estimator is required"))
		}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: %w", errors.Join(errs...))
	}
	return nil
}
