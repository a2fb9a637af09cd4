package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/aqi"
	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/orbit"
)

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func writeFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(filepath.Base(path)), 0o644)
}

// overpass returns n tiles of one sensor starting at hour:minute, five
// minutes apart.
func overpass(date civil.Date, sensor orbit.Sensor, hour, minute, n int) []orbit.TileRecord {
	start := time.Date(date.Year, date.Month, date.Day, hour, minute, 0, 0, time.UTC)
	var tiles []orbit.TileRecord
	for i := 0; i < n; i++ {
		tiles = append(tiles, orbit.TileRecord{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Sensor:    sensor,
			TileID:    fmt.Sprintf("h%02d_v11", 11+i),
			Path:      fmt.Sprintf("/raw/%s/tile%d.hdf", date, i),
			Layer:     1,
		})
	}
	return tiles
}

type fakeTiles struct {
	mu    sync.Mutex
	tiles map[civil.Date][]orbit.TileRecord
	errs  map[civil.Date][]error // consumed one per call
	calls map[civil.Date]int
}

func newFakeTiles() *fakeTiles {
	return &fakeTiles{
		tiles: make(map[civil.Date][]orbit.TileRecord),
		errs:  make(map[civil.Date][]error),
		calls: make(map[civil.Date]int),
	}
}

func (f *fakeTiles) add(date civil.Date, tiles ...[]orbit.TileRecord) {
	for _, t := range tiles {
		f.tiles[date] = append(f.tiles[date], t...)
	}
}

func (f *fakeTiles) FetchTiles(_ context.Context, req TileRequest) ([]orbit.TileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Date]++
	if errs := f.errs[req.Date]; len(errs) > 0 {
		f.errs[req.Date] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	return f.tiles[req.Date], nil
}

func (f *fakeTiles) callCount(date civil.Date) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[date]
}

type fakeReanalysis struct {
	mu    sync.Mutex
	dir   string
	calls map[string]int
}

func (f *fakeReanalysis) FetchReanalysis(_ context.Context, date civil.Date, ds config.MerraDataset) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[ds.ShortName]++
	path := filepath.Join(f.dir, ds.ShortName, date.String(), ds.Product+".nc")
	return path, writeFile(path)
}

type fakeRaster struct {
	mu sync.Mutex

	total     int
	nulls     map[string]int // mosaic base name -> null cells
	failOnce  map[string]bool
	reproject int
	counted   []string
	mosaics   []MosaicRequest
	stats     map[StatOp][][]string
	panicOn   string // mosaic base name that panics
	mosaicErr map[string]error
}

func newFakeRaster() *fakeRaster {
	return &fakeRaster{
		total:     100,
		nulls:     make(map[string]int),
		failOnce:  make(map[string]bool),
		stats:     make(map[StatOp][][]string),
		mosaicErr: make(map[string]error),
	}
}

func (f *fakeRaster) Mosaic(_ context.Context, req MosaicRequest) error {
	f.mu.Lock()
	f.mosaics = append(f.mosaics, req)
	base := filepath.Base(req.Out)
	err := f.mosaicErr[base]
	panicking := f.panicOn != "" && strings.Contains(req.Out, f.panicOn)
	f.mu.Unlock()
	if panicking {
		panic("raster engine crashed")
	}
	if err != nil {
		return err
	}
	return writeFile(req.Out)
}

func (f *fakeRaster) Reproject(_ context.Context, req ReprojectRequest) error {
	f.mu.Lock()
	f.reproject++
	for prefix, pending := range f.failOnce {
		if pending && strings.Contains(req.Source, prefix) {
			f.failOnce[prefix] = false
			f.mu.Unlock()
			return errors.New("netCDF: HDF error")
		}
	}
	f.mu.Unlock()
	return writeFile(req.Out)
}

func (f *fakeRaster) CountNullCells(_ context.Context, raster string, _ Region) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counted = append(f.counted, filepath.Base(raster))
	return f.nulls[filepath.Base(raster)], nil
}

func (f *fakeRaster) TotalCells(context.Context, Region) (int, error) {
	return f.total, nil
}

func (f *fakeRaster) Stats(_ context.Context, op StatOp, rasters []string, out string, _ Region) error {
	f.mu.Lock()
	f.stats[op] = append(f.stats[op], append([]string(nil), rasters...))
	f.mu.Unlock()
	return writeFile(out)
}

func (f *fakeRaster) Classify(_ context.Context, src string, _ aqi.Scale, out string) error {
	return writeFile(out)
}

func (f *fakeRaster) Export(_ context.Context, _ []string, out string, _ Region) error {
	return writeFile(out)
}

func (f *fakeRaster) countedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.counted...)
}

type fakeEstimator struct {
	mu       sync.Mutex
	failWhen []string // substrings of the output path that make inference fail
	requests []PredictRequest
}

func (f *fakeEstimator) Predict(_ context.Context, req PredictRequest) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, s := range f.failWhen {
		if strings.Contains(req.Out, s) {
			return errors.New("model exited with status 1")
		}
	}
	return writeFile(req.Out)
}

type recorder struct {
	mu    sync.Mutex
	dates []DateResult
	runs  []*RunReport
}

func (r *recorder) DateFinished(_ context.Context, _, _ string, res DateResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, res)
}

func (r *recorder) RunFinished(_ context.Context, report *RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, report)
}

// harness wires a Daily runner to fakes rooted in a temp directory.
type harness struct {
	t         *testing.T
	root      string
	tiles     *fakeTiles
	merra     *fakeReanalysis
	raster    *fakeRaster
	estimator *fakeEstimator
	store     *checkpoint.Store
	observer  *recorder
	now       time.Time
	opts      Options
}

func newHarness(t *testing.T, today civil.Date) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		t:         t,
		root:      root,
		tiles:     newFakeTiles(),
		merra:     &fakeReanalysis{dir: filepath.Join(root, "merra")},
		raster:    newFakeRaster(),
		estimator: &fakeEstimator{},
		store:     checkpoint.NewStore(filepath.Join(root, "checkpoints")),
		observer:  &recorder{},
		now:       time.Date(today.Year, today.Month, today.Day, 10, 0, 0, 0, time.UTC),
	}
	h.opts = Options{
		ProcessedDir:  filepath.Join(root, "processed"),
		PredictionDir: filepath.Join(root, "prediction"),
		Model:         filepath.Join(root, "model.joblib"),
		Region:        Region{North: -21.76, South: -55.08, East: -53.58, West: -73.6, Domain: filepath.Join(root, "domain.tif")},
		Maiac: config.MaiacConfig{
			Product:    "MCD19A2",
			Collection: 6,
			Bands: []config.BandConfig{
				{Subset: 0, Prefix: "AOD047", Feature: true},
				{Subset: 1, Prefix: "AOD055", Feature: true},
			},
		},
		Viirs: config.ViirsConfig{Product: "VNP46A1", Collection: 5000, Subset: 4, WindowStart: "04-01", WindowEnd: "04-03"},
		Datasets: []config.MerraDataset{
			{ShortName: "M2T1NXFLX", Product: "MERRA2_400.tavg1_2d_flx_Nx", Variables: []string{"PBLH", "SPEED"}},
			{ShortName: "M2I3NVASM", Product: "MERRA2_400.inst3_3d_asm_Nv", Variables: []string{"T"}, ThreeHourly: true},
		},
	}
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Tiles:      h.tiles,
		Reanalysis: h.merra,
		Raster:     h.raster,
		Estimator:  h.estimator,
		Store:      h.store,
		Observers:  []Observer{h.observer},
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return h.now },
	}
}

func (h *harness) daily() *Daily {
	h.t.Helper()
	d, err := NewDaily(h.opts, h.deps())
	if err != nil {
		h.t.Fatalf("NewDaily: %v", err)
	}
	return d
}

func (h *harness) saveCheckpoint(id string, cp checkpoint.Checkpoint) {
	h.t.Helper()
	if err := h.store.Save(id, cp); err != nil {
		h.t.Fatalf("Save: %v", err)
	}
}

func (h *harness) loadCheckpoint(id string) checkpoint.Checkpoint {
	h.t.Helper()
	cp, err := h.store.Load(id, civil.DateOf(h.now))
	if err != nil {
		h.t.Fatalf("Load: %v", err)
	}
	return cp
}
