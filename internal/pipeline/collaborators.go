package pipeline

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/zulandar/empatia/internal/aqi"
	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/orbit"
)

// Region is the spatial context every raster step runs in. It is passed
// explicitly; no step relies on state left behind by a previous one.
type Region struct {
	North, South, East, West float64
	Domain                   string // reference raster fixing grid, extent and resolution
	Mask                     string // vector mask of the study area
	CRS                      string
}

// TileRequest asks the archive for the granules of one product and date.
type TileRequest struct {
	Product    string
	Collection int
	Date       civil.Date
	Region     Region
}

// TileSource downloads satellite granules and decodes the overpasses they
// contain.
type TileSource interface {
	FetchTiles(ctx context.Context, req TileRequest) ([]orbit.TileRecord, error)
}

// ReanalysisSource downloads one reanalysis collection for a date and
// returns the local grid path.
type ReanalysisSource interface {
	FetchReanalysis(ctx context.Context, date civil.Date, ds config.MerraDataset) (string, error)
}

// MosaicRequest stitches one band of several tiles into a single raster.
type MosaicRequest struct {
	Tiles  []orbit.TileRecord
	Subset int // subdataset of the granules to read
	Out    string
	Region Region
}

// ReprojectRequest warps one band of a source grid onto the region's grid.
type ReprojectRequest struct {
	Source string // GDAL dataset name, e.g. NETCDF:"file.nc":PBLH
	Band   int
	Out    string
	Region Region
}

// StatOp is a cell-wise statistic over a stack of rasters.
type StatOp string

const (
	StatMean   StatOp = "mean"
	StatStdDev StatOp = "stddev"
	StatCount  StatOp = "count"
)

// RasterEngine performs the raster operations the pipelines delegate.
type RasterEngine interface {
	Mosaic(ctx context.Context, req MosaicRequest) error
	Reproject(ctx context.Context, req ReprojectRequest) error
	CountNullCells(ctx context.Context, raster string, region Region) (int, error)
	TotalCells(ctx context.Context, region Region) (int, error)
	Stats(ctx context.Context, op StatOp, rasters []string, out string, region Region) error
	Classify(ctx context.Context, src string, scale aqi.Scale, out string) error
	Export(ctx context.Context, bands []string, out string, region Region) error
}

// PredictRequest runs the trained model on an ordered feature stack.
type PredictRequest struct {
	Model    string
	Features []string
	Out      string
}

// Estimator produces a PM10 raster from a feature stack.
type Estimator interface {
	Predict(ctx context.Context, req PredictRequest) error
}
