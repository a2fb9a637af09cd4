package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
paths:
  data: /srv/empatia
  processed: /scratch/processed
  domain: /srv/empatia/domain.tif
  region_mask: /srv/empatia/argentina.shp
  model: /srv/empatia/model.joblib

region:
  north: -21.76
  south: -55.08
  east: -53.58
  west: -73.6

gate:
  min_valid_percent: 12.5

planner:
  max_lookback_days: 30

orbits:
  min_tiles: 4
  hour_start: 11
  hour_end: 19

index:
  bounds: [0.1, 50, 150, 250, 350, 420]

products:
  maiac:
    product: MCD19A2
    collection: 61
    bands:
      - subset: 0
        prefix: AOD047
        feature: true
      - subset: 5
        prefix: AODQA

archive:
  laads_url: https://example.org/laads
  timeout: 2m

estimator:
  command: ["python3", "-m", "empatia.predict"]

workers: 4

database:
  driver: mysql
  host: 10.0.0.5
  name: empatia_prod

log:
  level: debug
  format: json

notify:
  slack:
    token: xoxb-123
    channel: "#pm10"

schedule:
  daily: "30 5 * * *"
`

const minimalYAML = `
paths:
  data: /data
  domain: /data/domain.tif
  region_mask: /data/region.shp
  model: /data/model.joblib
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Paths.Processed != "/scratch/processed" {
		t.Errorf("Paths.Processed = %q, want /scratch/processed", cfg.Paths.Processed)
	}
	if cfg.Paths.Prediction != "/srv/empatia/prediction" {
		t.Errorf("Paths.Prediction = %q, want derived from data", cfg.Paths.Prediction)
	}
	if cfg.Gate.MinValidPercent != 12.5 {
		t.Errorf("Gate.MinValidPercent = %v, want 12.5", cfg.Gate.MinValidPercent)
	}
	if cfg.Planner.MaxLookbackDays != 30 {
		t.Errorf("Planner.MaxLookbackDays = %d, want 30", cfg.Planner.MaxLookbackDays)
	}
	if cfg.Orbits.MinTiles != 4 || cfg.Orbits.HourStart != 11 || cfg.Orbits.HourEnd != 19 {
		t.Errorf("Orbits = %+v", cfg.Orbits)
	}
	if cfg.Index.Bounds[1] != 50 {
		t.Errorf("Index.Bounds = %v", cfg.Index.Bounds)
	}
	if len(cfg.Products.Maiac.Bands) != 2 || cfg.Products.Maiac.Bands[1].Prefix != "AODQA" || cfg.Products.Maiac.Bands[1].Feature {
		t.Errorf("Maiac.Bands = %+v", cfg.Products.Maiac.Bands)
	}
	if cfg.Products.Maiac.Collection != 61 {
		t.Errorf("Maiac.Collection = %d, want 61", cfg.Products.Maiac.Collection)
	}
	if cfg.Archive.Timeout != 2*time.Minute {
		t.Errorf("Archive.Timeout = %s, want 2m", cfg.Archive.Timeout)
	}
	if len(cfg.Estimator.Command) != 3 {
		t.Errorf("Estimator.Command = %v", cfg.Estimator.Command)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Port != 3306 || cfg.Database.User != "root" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Schedule.Daily != "30 5 * * *" || cfg.Schedule.Monthly != "0 8 2 * *" {
		t.Errorf("Schedule = %+v", cfg.Schedule)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Paths.Modis != "/data/modis" || cfg.Paths.Merra != "/data/merra" || cfg.Paths.Checkpoints != "/data/checkpoints" {
		t.Errorf("derived paths = %+v", cfg.Paths)
	}
	if cfg.Gate.MinValidPercent != 8.0 {
		t.Errorf("Gate.MinValidPercent = %v, want 8.0 (default)", cfg.Gate.MinValidPercent)
	}
	if cfg.Planner.MaxLookbackDays != 90 {
		t.Errorf("Planner.MaxLookbackDays = %d, want 90 (default)", cfg.Planner.MaxLookbackDays)
	}
	if cfg.Orbits.MinTiles != 3 || cfg.Orbits.HourStart != 12 || cfg.Orbits.HourEnd != 20 {
		t.Errorf("Orbits = %+v, want 3/12/20", cfg.Orbits)
	}
	if len(cfg.Index.Bounds) != 6 || cfg.Index.Bounds[5] != 424 {
		t.Errorf("Index.Bounds = %v", cfg.Index.Bounds)
	}
	if cfg.Region.North != -21.76 || cfg.Region.West != -73.6 {
		t.Errorf("Region = %+v", cfg.Region)
	}
	if cfg.Products.Maiac.Product != "MCD19A2" || len(cfg.Products.Maiac.Bands) == 0 {
		t.Errorf("Maiac = %+v", cfg.Products.Maiac)
	}
	if cfg.Products.Viirs.Product != "VNP46A1" || cfg.Products.Viirs.WindowEnd != "06-30" {
		t.Errorf("Viirs = %+v", cfg.Products.Viirs)
	}
	if len(cfg.Merra.Datasets) != 4 {
		t.Fatalf("len(Merra.Datasets) = %d, want 4", len(cfg.Merra.Datasets))
	}
	if !cfg.Merra.Datasets[3].ThreeHourly || cfg.Merra.Datasets[3].ShortName != "M2I3NVASM" {
		t.Errorf("Merra.Datasets[3] = %+v", cfg.Merra.Datasets[3])
	}
	if cfg.Merra.Datasets[0].Version != "5.12.4" {
		t.Errorf("Merra version = %q", cfg.Merra.Datasets[0].Version)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/data/empatia.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Workers)
	}
	if cfg.Raster.NoData != -9999 || cfg.Raster.CRS != "EPSG:4326" {
		t.Errorf("Raster = %+v", cfg.Raster)
	}
	if cfg.Schedule.CleanDays != 60 || cfg.Schedule.MonthlyDays != 30 {
		t.Errorf("Schedule = %+v", cfg.Schedule)
	}
	if cfg.Monthly.Codes["Terra"] != "MOD" || cfg.Monthly.Codes["Aqua"] != "MYD" {
		t.Errorf("Monthly.Codes = %v", cfg.Monthly.Codes)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d", cfg.Dashboard.Port)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing data",
			yaml: "paths:\n  domain: d.tif\n  region_mask: r.shp\n  model: m\n",
			want: "paths.data is required",
		},
		{
			name: "missing model",
			yaml: "paths:\n  data: /d\n  domain: d.tif\n  region_mask: r.shp\n",
			want: "paths.model is required",
		},
		{
			name: "bad driver",
			yaml: minimalYAML + "database:\n  driver: postgres\n",
			want: "database.driver must be one of",
		},
		{
			name: "threshold over 100",
			yaml: minimalYAML + "gate:\n  min_valid_percent: 120\n",
			want: "gate.min_valid_percent",
		},
		{
			name: "hour window reversed",
			yaml: minimalYAML + "orbits:\n  hour_start: 20\n  hour_end: 12\n",
			want: "orbits.hour_start must not be after orbits.hour_end",
		},
		{
			name: "non monotonic bounds",
			yaml: minimalYAML + "index:\n  bounds: [1, 2, 2, 3, 4, 5]\n",
			want: "index.bounds",
		},
		{
			name: "slack half configured",
			yaml: minimalYAML + "notify:\n  slack:\n    token: abc\n",
			want: "notify.slack needs both token and channel",
		},
		{
			name: "bad viirs window",
			yaml: minimalYAML + "products:\n  viirs:\n    window_start: April\n",
			want: "products.viirs window",
		},
		{
			name: "log level",
			yaml: minimalYAML + "log:\n  level: loud\n",
			want: "log.level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("paths: [")); err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %v, want parse error", err)
	}
}

func TestParse_EnvOverridesCredentials(t *testing.T) {
	t.Setenv("EMP_NASA_TOKEN", "from-env")
	cfg, err := Parse([]byte(minimalYAML + "archive:\n  token: from-file\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Archive.Token != "from-env" {
		t.Errorf("Archive.Token = %q, want from-env", cfg.Archive.Token)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empatia.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Data != "/data" {
		t.Errorf("Paths.Data = %q", cfg.Paths.Data)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("EMP_TEST_LOADENV=hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("EMP_TEST_LOADENV") })

	if err := LoadEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("EMP_TEST_LOADENV"); got != "hello" {
		t.Errorf("EMP_TEST_LOADENV = %q, want hello", got)
	}
}
