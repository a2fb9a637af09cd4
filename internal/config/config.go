// Package config provides YAML-based configuration loading for empatia.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/zulandar/empatia/internal/aqi"
	"gopkg.in/yaml.v3"
)

// Config is the top-level empatia configuration, loaded from empatia.yaml.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Region    RegionConfig    `yaml:"region"`
	Gate      GateConfig      `yaml:"gate"`
	Planner   PlannerConfig   `yaml:"planner"`
	Orbits    OrbitsConfig    `yaml:"orbits"`
	Index     IndexConfig     `yaml:"index"`
	Products  ProductsConfig  `yaml:"products"`
	Merra     MerraConfig     `yaml:"merra"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Raster    RasterConfig    `yaml:"raster"`
	Workers   int             `yaml:"workers" validate:"gte=1,lte=32"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Monthly   MonthlyConfig   `yaml:"monthly"`
	Publish   PublishConfig   `yaml:"publish"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// PathsConfig locates the data tree. Relative sub-directories default to
// children of Data.
type PathsConfig struct {
	Data        string `yaml:"data" validate:"required"`
	Modis       string `yaml:"modis"`
	Merra       string `yaml:"merra"`
	Processed   string `yaml:"processed"`
	Prediction  string `yaml:"prediction"`
	Checkpoints string `yaml:"checkpoints"`
	Domain      string `yaml:"domain" validate:"required"`      // reference raster defining grid and extent
	RegionMask  string `yaml:"region_mask" validate:"required"` // vector mask of the study region
	Model       string `yaml:"model" validate:"required"`
}

// RegionConfig is the bounding box used when searching the archives.
type RegionConfig struct {
	North float64 `yaml:"north" validate:"gte=-90,lte=90"`
	South float64 `yaml:"south" validate:"gte=-90,lte=90"`
	East  float64 `yaml:"east" validate:"gte=-180,lte=180"`
	West  float64 `yaml:"west" validate:"gte=-180,lte=180"`
}

// GateConfig holds the valid-data admission threshold.
type GateConfig struct {
	MinValidPercent float64 `yaml:"min_valid_percent" validate:"gte=0,lte=100"`
}

// PlannerConfig bounds the daily work queue.
type PlannerConfig struct {
	MaxLookbackDays int `yaml:"max_lookback_days" validate:"gte=0"`
}

// OrbitsConfig selects which overpasses become mosaics.
type OrbitsConfig struct {
	MinTiles  int `yaml:"min_tiles" validate:"gte=1"`
	HourStart int `yaml:"hour_start" validate:"gte=0,lte=23"`
	HourEnd   int `yaml:"hour_end" validate:"gte=0,lte=23"`
}

// IndexConfig holds the boundaries of the air-quality index classes.
type IndexConfig struct {
	Bounds []float64 `yaml:"bounds"`
}

// ProductsConfig names the satellite products consumed by the pipelines.
type ProductsConfig struct {
	Maiac MaiacConfig `yaml:"maiac"`
	Viirs ViirsConfig `yaml:"viirs"`
}

// MaiacConfig describes the MODIS MAIAC aerosol product. The first band is
// the one gated on valid data and exported next to each PM10 estimate.
type MaiacConfig struct {
	Product    string       `yaml:"product" validate:"required"`
	Collection int          `yaml:"collection"`
	Bands      []BandConfig `yaml:"bands" validate:"min=1,dive"`
}

// BandConfig maps an HDF subdataset to the raster name prefix it produces.
type BandConfig struct {
	Subset  int    `yaml:"subset" validate:"gte=0"`
	Prefix  string `yaml:"prefix" validate:"required"`
	Feature bool   `yaml:"feature"` // passed to the estimator
}

// ViirsConfig describes the night lights product averaged once a year.
type ViirsConfig struct {
	Product     string `yaml:"product" validate:"required"`
	Collection  int    `yaml:"collection"`
	Subset      int    `yaml:"subset"`
	WindowStart string `yaml:"window_start"` // MM-DD
	WindowEnd   string `yaml:"window_end"`   // MM-DD
}

// MerraConfig lists the reanalysis collections fetched per date.
type MerraConfig struct {
	Datasets []MerraDataset `yaml:"datasets" validate:"dive"`
}

// MerraDataset is one MERRA-2 collection.
type MerraDataset struct {
	ShortName   string   `yaml:"shortname" validate:"required"`
	Product     string   `yaml:"product" validate:"required"`
	BaseURL     string   `yaml:"base_url" validate:"required,url"`
	Version     string   `yaml:"version"`
	StartHour   string   `yaml:"start_hour"`
	EndHour     string   `yaml:"end_hour"`
	Variables   []string `yaml:"variables" validate:"min=1"`
	ThreeHourly bool     `yaml:"three_hourly"` // instantaneous 3-hourly collection
}

// ArchiveConfig configures the satellite archive client.
type ArchiveConfig struct {
	LaadsURL string        `yaml:"laads_url" validate:"required,url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EstimatorConfig configures the external PM10 model runner.
type EstimatorConfig struct {
	Command []string `yaml:"command" validate:"min=1"`
}

// RasterConfig configures the raster command bindings.
type RasterConfig struct {
	BinDir string  `yaml:"bin_dir"`
	NoData float64 `yaml:"nodata"`
	CRS    string  `yaml:"crs"`
}

// DatabaseConfig selects where run history is stored.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=sqlite mysql"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// NotifyConfig holds the chat targets for run summaries.
type NotifyConfig struct {
	OnlyFailures bool          `yaml:"only_failures"`
	Slack        SlackConfig   `yaml:"slack"`
	Discord      DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig holds Discord credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// MetricsConfig configures the Prometheus pushgateway for batch runs.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job"`
}

// ScheduleConfig holds the cron expressions used by `emp schedule`.
type ScheduleConfig struct {
	Daily       string `yaml:"daily"`
	Monthly     string `yaml:"monthly"`
	Clean       string `yaml:"clean"`
	Viirs       string `yaml:"viirs"`
	CleanDays   int    `yaml:"clean_days" validate:"gte=0"`
	MonthlyDays int    `yaml:"monthly_days" validate:"gte=0"`
}

// MonthlyConfig configures the monthly products.
type MonthlyConfig struct {
	Codes map[string]string `yaml:"codes"` // product code per sensor
}

// PublishConfig configures uploading of final products to a GCS bucket.
type PublishConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DashboardConfig configures the status server.
type DashboardConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load env %s: %w", f, err)
		}
	}
	return nil
}

// applyEnv lets credentials come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("EMP_NASA_TOKEN"); v != "" {
		c.Archive.Token = v
	}
	if v := os.Getenv("EMP_SLACK_TOKEN"); v != "" {
		c.Notify.Slack.Token = v
	}
	if v := os.Getenv("EMP_DISCORD_TOKEN"); v != "" {
		c.Notify.Discord.BotToken = v
	}
	if v := os.Getenv("EMP_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	p := &c.Paths
	if p.Data != "" {
		p.Modis = defaultPath(p.Modis, p.Data, "modis")
		p.Merra = defaultPath(p.Merra, p.Data, "merra")
		p.Processed = defaultPath(p.Processed, p.Data, "processed")
		p.Prediction = defaultPath(p.Prediction, p.Data, "prediction")
		p.Checkpoints = defaultPath(p.Checkpoints, p.Data, "checkpoints")
	}

	if c.Region == (RegionConfig{}) {
		c.Region = RegionConfig{North: -21.76, South: -55.08, East: -53.58, West: -73.6}
	}
	if c.Gate.MinValidPercent == 0 {
		c.Gate.MinValidPercent = 8.0
	}
	if c.Planner.MaxLookbackDays == 0 {
		c.Planner.MaxLookbackDays = 90
	}
	if c.Orbits.MinTiles == 0 {
		c.Orbits.MinTiles = 3
	}
	if c.Orbits.HourStart == 0 && c.Orbits.HourEnd == 0 {
		c.Orbits.HourStart, c.Orbits.HourEnd = 12, 20
	}
	if len(c.Index.Bounds) == 0 {
		c.Index.Bounds = append([]float64(nil), aqi.DefaultBounds...)
	}

	m := &c.Products.Maiac
	if m.Product == "" {
		m.Product = "MCD19A2"
	}
	if m.Collection == 0 {
		m.Collection = 61
	}
	if len(m.Bands) == 0 {
		m.Bands = []BandConfig{
			{Subset: 0, Prefix: "AOD047", Feature: true},
			{Subset: 1, Prefix: "AOD055", Feature: true},
			{Subset: 2, Prefix: "AODUNC", Feature: true},
		}
	}
	v := &c.Products.Viirs
	if v.Product == "" {
		v.Product = "VNP46A1"
	}
	if v.Collection == 0 {
		v.Collection = 5000
	}
	if v.Subset == 0 {
		v.Subset = 4
	}
	if v.WindowStart == "" {
		v.WindowStart = "04-01"
	}
	if v.WindowEnd == "" {
		v.WindowEnd = "06-30"
	}

	if len(c.Merra.Datasets) == 0 {
		c.Merra.Datasets = DefaultMerraDatasets()
	}
	for i := range c.Merra.Datasets {
		if c.Merra.Datasets[i].Version == "" {
			c.Merra.Datasets[i].Version = "5.12.4"
		}
	}

	if c.Archive.LaadsURL == "" {
		c.Archive.LaadsURL = "https://ladsweb.modaps.eosdis.nasa.gov"
	}
	if c.Archive.Timeout == 0 {
		c.Archive.Timeout = 10 * time.Minute
	}
	if len(c.Estimator.Command) == 0 {
		c.Estimator.Command = []string{"emp-predict"}
	}
	if c.Raster.NoData == 0 {
		c.Raster.NoData = -9999
	}
	if c.Raster.CRS == "" {
		c.Raster.CRS = "EPSG:4326"
	}
	if c.Workers == 0 {
		c.Workers = 1
	}

	db := &c.Database
	if db.Driver == "" {
		db.Driver = "sqlite"
	}
	if db.Driver == "sqlite" && db.Path == "" && p.Data != "" {
		db.Path = filepath.Join(p.Data, "empatia.db")
	}
	if db.Driver == "mysql" {
		if db.Host == "" {
			db.Host = "127.0.0.1"
		}
		if db.Port == 0 {
			db.Port = 3306
		}
		if db.User == "" {
			db.User = "root"
		}
		if db.Name == "" {
			db.Name = "empatia"
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "empatia"
	}

	s := &c.Schedule
	if s.Daily == "" {
		s.Daily = "0 6 * * *"
	}
	if s.Monthly == "" {
		s.Monthly = "0 8 2 * *"
	}
	if s.Clean == "" {
		s.Clean = "0 3 * * 0"
	}
	if s.Viirs == "" {
		s.Viirs = "0 7 2 7 *"
	}
	if s.CleanDays == 0 {
		s.CleanDays = 60
	}
	if s.MonthlyDays == 0 {
		s.MonthlyDays = 30
	}
	if c.Monthly.Codes == nil {
		c.Monthly.Codes = map[string]string{}
	}
	for sensor, code := range map[string]string{"Terra": "MOD", "Aqua": "MYD"} {
		if c.Monthly.Codes[sensor] == "" {
			c.Monthly.Codes[sensor] = code
		}
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// DefaultMerraDatasets returns the MERRA-2 collections used by the model.
func DefaultMerraDatasets() []MerraDataset {
	const otf = "https://goldsmr%d.gesdisc.eosdis.nasa.gov/daac-bin/OTF/HTTP_services.cgi"
	return []MerraDataset{
		{
			ShortName: "M2T1NXAER", Product: "MERRA2_400.tavg1_2d_aer_Nx", BaseURL: fmt.Sprintf(otf, 4),
			StartHour: "12:30:00", EndHour: "20:30:59",
			Variables: []string{"BCCMASS", "DMSSMASS", "DUSMASS", "OCSMASS", "SO2SMASS", "SO4SMASS", "SSSMASS"},
		},
		{
			ShortName: "M2T1NXFLX", Product: "MERRA2_400.tavg1_2d_flx_Nx", BaseURL: fmt.Sprintf(otf, 4),
			StartHour: "12:30:00", EndHour: "20:30:59",
			Variables: []string{"PBLH", "PRECTOT", "SPEED", "SPEEDMAX", "USTAR"},
		},
		{
			ShortName: "M2T1NXRAD", Product: "MERRA2_400.tavg1_2d_rad_Nx", BaseURL: fmt.Sprintf(otf, 4),
			StartHour: "12:30:00", EndHour: "20:30:59",
			Variables: []string{"ALBEDO", "CLDHGH", "CLDLOW"},
		},
		{
			ShortName: "M2I3NVASM", Product: "MERRA2_400.inst3_3d_asm_Nv", BaseURL: fmt.Sprintf(otf, 5),
			StartHour: "12:00:00", EndHour: "21:00:59", ThreeHourly: true,
			Variables: []string{"PS", "RH", "T", "U", "V"},
		},
	}
}

func defaultPath(current, root, child string) string {
	if current != "" {
		return current
	}
	return filepath.Join(root, child)
}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: validation failed: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	if c.Orbits.HourStart > c.Orbits.HourEnd {
		errs = append(errs, "orbits.hour_start must not be after orbits.hour_end")
	}
	if c.Region.North <= c.Region.South {
		errs = append(errs, "region.north must be greater than region.south")
	}
	if _, err := aqi.NewScale(c.Index.Bounds); err != nil {
		errs = append(errs, "index.bounds: "+strings.TrimPrefix(err.Error(), "aqi: "))
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		errs = append(errs, "database.path is required for sqlite")
	}
	if (c.Notify.Slack.Token == "") != (c.Notify.Slack.Channel == "") {
		errs = append(errs, "notify.slack needs both token and channel")
	}
	if (c.Notify.Discord.BotToken == "") != (c.Notify.Discord.ChannelID == "") {
		errs = append(errs, "notify.discord needs both bot_token and channel_id")
	}
	for _, w := range []string{c.Products.Viirs.WindowStart, c.Products.Viirs.WindowEnd} {
		if _, err := time.Parse("01-02", w); err != nil {
			errs = append(errs, fmt.Sprintf("products.viirs window %q must be MM-DD", w))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// describe turns a validator failure into "paths.data is required" style
// text, using yaml field names.
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "url":
		return field + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}
