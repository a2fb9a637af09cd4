// Package raster implements the pipeline's raster operations with the GDAL
// command line utilities. Every operation receives the region explicitly and
// writes GeoTIFFs on the grid of the region's domain raster.
package raster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zulandar/empatia/internal/aqi"
	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/pipeline"
)

var _ pipeline.RasterEngine = (*Engine)(nil)

// Engine runs GDAL utilities through a Commander.
type Engine struct {
	cmd     Commander
	noData  float64
	cacheIn string
	log     zerolog.Logger

	mu    sync.Mutex
	grids map[string]grid
	cells map[string]int // masked cell count per domain and mask
	masks singleflight.Group
}

// New returns an engine. Rasterized masks are cached under cacheDir.
func New(cmd Commander, cfg config.RasterConfig, cacheDir string, log zerolog.Logger) *Engine {
	if cmd == nil {
		cmd = Exec{BinDir: cfg.BinDir}
	}
	return &Engine{
		cmd:     cmd,
		noData:  cfg.NoData,
		cacheIn: cacheDir,
		log:     logging.Component(log, "raster"),
		grids:   make(map[string]grid),
		cells:   make(map[string]int),
	}
}

// grid is the extent and resolution of a domain raster.
type grid struct {
	width  int
	height int
	west   float64
	south  float64
	east   float64
	north  float64
	resX   float64
	resY   float64
}

// info is the subset of `gdalinfo -json` the engine reads.
type info struct {
	Size         []int                        `json:"size"`
	GeoTransform []float64                    `json:"geoTransform"`
	Metadata     map[string]map[string]string `json:"metadata"` // by metadata domain
	Bands        []struct {
		Metadata map[string]map[string]string `json:"metadata"`
	} `json:"bands"`
}

func (e *Engine) gdalinfo(ctx context.Context, path string, stats bool) (info, error) {
	args := []string{"-json"}
	if stats {
		args = append(args, "-stats")
	}
	out, err := e.cmd.Run(ctx, "gdalinfo", append(args, path)...)
	if err != nil {
		return info{}, err
	}
	var inf info
	if err := json.Unmarshal(out, &inf); err != nil {
		return info{}, fmt.Errorf("raster: gdalinfo %s: %w", path, err)
	}
	return inf, nil
}

func (e *Engine) domainGrid(ctx context.Context, region pipeline.Region) (grid, error) {
	if region.Domain == "" {
		return grid{}, errors.New("raster: region has no domain raster")
	}
	e.mu.Lock()
	g, ok := e.grids[region.Domain]
	e.mu.Unlock()
	if ok {
		return g, nil
	}

	inf, err := e.gdalinfo(ctx, region.Domain, false)
	if err != nil {
		return grid{}, err
	}
	if len(inf.Size) != 2 || len(inf.GeoTransform) != 6 {
		return grid{}, fmt.Errorf("raster: domain %s has no georeferencing", region.Domain)
	}
	gt := inf.GeoTransform
	g = grid{
		width:  inf.Size[0],
		height: inf.Size[1],
		west:   gt[0],
		north:  gt[3],
		east:   gt[0] + gt[1]*float64(inf.Size[0]),
		south:  gt[3] + gt[5]*float64(inf.Size[1]),
		resX:   gt[1],
		resY:   math.Abs(gt[5]),
	}
	e.mu.Lock()
	e.grids[region.Domain] = g
	e.mu.Unlock()
	return g, nil
}

func (e *Engine) nd() string { return fmtFloat(e.noData) }

// warpArgs places output on the domain grid, cut to the region mask.
func (e *Engine) warpArgs(g grid, region pipeline.Region) []string {
	args := []string{"-overwrite", "-of", "GTiff", "-co", "COMPRESS=DEFLATE"}
	if region.CRS != "" {
		args = append(args, "-t_srs", region.CRS)
	}
	args = append(args,
		"-te", fmtFloat(g.west), fmtFloat(g.south), fmtFloat(g.east), fmtFloat(g.north),
		"-tr", fmtFloat(g.resX), fmtFloat(g.resY),
		"-dstnodata", e.nd(),
	)
	if region.Mask != "" {
		args = append(args, "-cutline", region.Mask)
	}
	return args
}

// subdataset names the subset-th subdataset of a granule. Files without
// subdatasets are used as they are when subset is 0.
func (e *Engine) subdataset(ctx context.Context, path string, subset int) (string, error) {
	inf, err := e.gdalinfo(ctx, path, false)
	if err != nil {
		return "", err
	}
	sds := inf.Metadata["SUBDATASETS"]
	if len(sds) == 0 && subset == 0 {
		return path, nil
	}
	name, ok := sds[fmt.Sprintf("SUBDATASET_%d_NAME", subset+1)]
	if !ok {
		return "", fmt.Errorf("raster: %s has no subdataset %d", filepath.Base(path), subset)
	}
	return name, nil
}

// OrbitStamps returns the Orbit_time_stamp metadata item of a MODIS
// granule, empty for files without one.
func (e *Engine) OrbitStamps(ctx context.Context, path string) (string, error) {
	inf, err := e.gdalinfo(ctx, path, false)
	if err != nil {
		return "", err
	}
	return inf.Metadata[""]["Orbit_time_stamp"], nil
}

// Mosaic warps one subdataset of every tile onto the domain grid. Tiles
// holding several overpasses contribute only their Layer band.
func (e *Engine) Mosaic(ctx context.Context, req pipeline.MosaicRequest) error {
	if len(req.Tiles) == 0 {
		return errors.New("raster: mosaic without tiles")
	}
	g, err := e.domainGrid(ctx, req.Region)
	if err != nil {
		return err
	}

	var sources []string
	for i, t := range req.Tiles {
		src, err := e.subdataset(ctx, t.Path, req.Subset)
		if err != nil {
			return err
		}
		if t.Layer > 0 {
			vrt := fmt.Sprintf("%s.%d.vrt", strings.TrimSuffix(req.Out, filepath.Ext(req.Out)), i)
			if _, err := e.cmd.Run(ctx, "gdal_translate", "-q", "-of", "VRT", "-b", strconv.Itoa(t.Layer), src, vrt); err != nil {
				return err
			}
			defer os.Remove(vrt)
			src = vrt
		}
		sources = append(sources, src)
	}

	args := append(e.warpArgs(g, req.Region), sources...)
	_, err = e.cmd.Run(ctx, "gdalwarp", append(args, req.Out)...)
	return err
}

// Reproject warps one band of a grid onto the domain grid.
func (e *Engine) Reproject(ctx context.Context, req pipeline.ReprojectRequest) error {
	g, err := e.domainGrid(ctx, req.Region)
	if err != nil {
		return err
	}
	args := e.warpArgs(g, req.Region)
	if req.Band > 0 {
		args = append(args, "-srcband", strconv.Itoa(req.Band))
	}
	_, err = e.cmd.Run(ctx, "gdalwarp", append(args, req.Source, req.Out)...)
	return err
}

// TotalCells counts the cells of the domain grid inside the region mask.
func (e *Engine) TotalCells(ctx context.Context, region pipeline.Region) (int, error) {
	g, err := e.domainGrid(ctx, region)
	if err != nil {
		return 0, err
	}
	if region.Mask == "" {
		return g.width * g.height, nil
	}

	key := region.Domain + "|" + region.Mask
	e.mu.Lock()
	n, ok := e.cells[key]
	e.mu.Unlock()
	if ok {
		return n, nil
	}

	// Concurrent dates share one rasterization of the mask file.
	v, err, _ := e.masks.Do(key, func() (any, error) {
		e.mu.Lock()
		n, ok := e.cells[key]
		e.mu.Unlock()
		if ok {
			return n, nil
		}
		return e.rasterizeMask(ctx, g, region, key)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (e *Engine) rasterizeMask(ctx context.Context, g grid, region pipeline.Region, key string) (int, error) {
	if err := os.MkdirAll(e.cacheIn, 0o755); err != nil {
		return 0, fmt.Errorf("raster: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(region.Mask), filepath.Ext(region.Mask))
	out := filepath.Join(e.cacheIn, "mask_"+base+".tif")
	_, err := e.cmd.Run(ctx, "gdal_rasterize", "-q", "-burn", "1", "-init", "0", "-a_nodata", "0", "-ot", "Byte",
		"-te", fmtFloat(g.west), fmtFloat(g.south), fmtFloat(g.east), fmtFloat(g.north),
		"-tr", fmtFloat(g.resX), fmtFloat(g.resY),
		region.Mask, out)
	if err != nil {
		return 0, err
	}
	n, err := e.validCells(ctx, out)
	if err != nil {
		return 0, err
	}
	e.log.Info().Str("mask", region.Mask).Int("cells", n).Msg("region mask rasterized")

	e.mu.Lock()
	e.cells[key] = n
	e.mu.Unlock()
	return n, nil
}

// CountNullCells counts the cells inside the region mask that hold no data.
func (e *Engine) CountNullCells(ctx context.Context, raster string, region pipeline.Region) (int, error) {
	total, err := e.TotalCells(ctx, region)
	if err != nil {
		return 0, err
	}
	valid, err := e.validCells(ctx, raster)
	if err != nil {
		return 0, err
	}
	return max(total-valid, 0), nil
}

// validCells reads STATISTICS_VALID_PERCENT of the first band. A raster
// without valid pixels carries no statistics and counts as empty.
func (e *Engine) validCells(ctx context.Context, path string) (int, error) {
	inf, err := e.gdalinfo(ctx, path, true)
	if err != nil {
		return 0, err
	}
	if len(inf.Size) != 2 {
		return 0, fmt.Errorf("raster: %s has no size", path)
	}
	if len(inf.Bands) == 0 {
		return 0, nil
	}
	pct, ok := inf.Bands[0].Metadata[""]["STATISTICS_VALID_PERCENT"]
	if !ok {
		return 0, nil
	}
	p, err := strconv.ParseFloat(pct, 64)
	if err != nil {
		return 0, fmt.Errorf("raster: %s valid percent %q: %w", path, pct, err)
	}
	return int(math.Round(p / 100 * float64(inf.Size[0]*inf.Size[1]))), nil
}

// Stats writes a cell-wise statistic over a stack of rasters, ignoring
// no-data cells.
func (e *Engine) Stats(ctx context.Context, op pipeline.StatOp, rasters []string, out string, _ pipeline.Region) error {
	if len(rasters) == 0 {
		return fmt.Errorf("raster: %s of no rasters", op)
	}
	expr, err := statExpression(op, e.nd(), len(rasters))
	if err != nil {
		return err
	}
	args := append([]string{"--quiet", "--overwrite", "-A"}, rasters...)
	args = append(args, "--outfile="+out, "--calc="+expr, "--NoDataValue="+e.nd(), "--type=Float32", "--co=COMPRESS=DEFLATE")
	_, err = e.cmd.Run(ctx, "gdal_calc.py", args...)
	return err
}

// statExpression renders op for gdal_calc. Several files under -A are read
// as one 3D array; a single file is a plain 2D array.
func statExpression(op pipeline.StatOp, nd string, n int) (string, error) {
	masked := fmt.Sprintf("where(A==%s,nan,A)", nd)
	if n == 1 {
		switch op {
		case pipeline.StatMean:
			return fmt.Sprintf("where(A==%s,%s,A)", nd, nd), nil
		case pipeline.StatStdDev:
			return fmt.Sprintf("where(A==%s,%s,0)", nd, nd), nil
		case pipeline.StatCount:
			return fmt.Sprintf("where(A==%s,0,1)", nd), nil
		}
	}
	switch op {
	case pipeline.StatMean:
		return fmt.Sprintf("nan_to_num(nanmean(%s,axis=0),nan=%s)", masked, nd), nil
	case pipeline.StatStdDev:
		return fmt.Sprintf("nan_to_num(nanstd(%s,axis=0),nan=%s)", masked, nd), nil
	case pipeline.StatCount:
		return fmt.Sprintf("sum(A!=%s,axis=0)", nd), nil
	}
	return "", fmt.Errorf("raster: unknown statistic %q", op)
}

// Classify maps a PM10 raster onto the index classes.
func (e *Engine) Classify(ctx context.Context, src string, scale aqi.Scale, out string) error {
	_, err := e.cmd.Run(ctx, "gdal_calc.py", "--quiet", "--overwrite",
		"-A", src,
		"--outfile="+out,
		"--calc="+scale.Expression("A"),
		"--NoDataValue="+strconv.Itoa(aqi.Undefined),
		"--type=Int16",
		"--co=COMPRESS=DEFLATE")
	return err
}

// Export stacks bands, in order, into one compressed multiband GeoTIFF.
func (e *Engine) Export(ctx context.Context, bands []string, out string, _ pipeline.Region) error {
	if len(bands) == 0 {
		return errors.New("raster: export without bands")
	}
	if len(bands) == 1 {
		_, err := e.cmd.Run(ctx, "gdal_translate", "-q", "-co", "COMPRESS=DEFLATE", "-a_nodata", e.nd(), bands[0], out)
		return err
	}
	args := []string{"-q", "-separate", "-o", out, "-a_nodata", e.nd(), "-co", "COMPRESS=DEFLATE"}
	_, err := e.cmd.Run(ctx, "gdal_merge.py", append(args, bands...)...)
	return err
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
