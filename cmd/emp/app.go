package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/empatia/internal/archive"
	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/db"
	"github.com/zulandar/empatia/internal/estimator"
	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/metrics"
	"github.com/zulandar/empatia/internal/notify"
	"github.com/zulandar/empatia/internal/pipeline"
	"github.com/zulandar/empatia/internal/publish"
	"github.com/zulandar/empatia/internal/raster"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	db        *gorm.DB
	store     *checkpoint.Store
	metrics   *metrics.Collector
	notifier  *notify.Notifier
	publisher *publish.Publisher
	raster    *raster.Engine
	out       io.Writer
	now       func() time.Time

	// batch runs push metrics to the gateway when they finish.
	batch bool
}

// loadConfig reads the env files and the config named by the persistent
// flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	if err := config.LoadEnv(envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// loadApp builds every collaborator from the config. The ledger tables are
// migrated on open.
func loadApp(cmd *cobra.Command, batch bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr())

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	collector, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	senders, err := buildSenders(cfg.Notify)
	if err != nil {
		return nil, err
	}

	pub, err := publish.New(cmd.Context(), cfg.Publish, cfg.Paths.Prediction, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		log:       log,
		db:        gormDB,
		store:     checkpoint.NewStore(cfg.Paths.Checkpoints),
		metrics:   collector,
		notifier:  notify.New(senders, cfg.Notify.OnlyFailures, log),
		publisher: pub,
		raster:    raster.New(nil, cfg.Raster, filepath.Join(cfg.Paths.Processed, "cache"), log),
		out:       cmd.OutOrStdout(),
		now:       timeNow,
		batch:     batch,
	}, nil
}

func buildSenders(cfg config.NotifyConfig) ([]notify.Sender, error) {
	var senders []notify.Sender
	if cfg.Slack.Token != "" {
		s, err := notify.NewSlack(cfg.Slack.Token, cfg.Slack.Channel)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if cfg.Discord.BotToken != "" {
		d, err := notify.NewDiscord(cfg.Discord.BotToken, cfg.Discord.ChannelID)
		if err != nil {
			return nil, err
		}
		senders = append(senders, d)
	}
	return senders, nil
}

// Close releases the database and storage clients.
func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close storage client")
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (a *app) observers() []pipeline.Observer {
	obs := []pipeline.Observer{a.metrics, db.NewLedger(a.db, a.log)}
	if a.notifier.Enabled() {
		obs = append(obs, a.notifier)
	}
	if a.publisher != nil {
		obs = append(obs, a.publisher)
	}
	return obs
}

func (a *app) options() (pipeline.Options, error) {
	return pipeline.OptionsFromConfig(a.cfg)
}

// deps wires the archive clients, raster engine and estimator into the
// pipeline collaborators.
func (a *app) deps(ctx context.Context, region pipeline.Region) (pipeline.Deps, error) {
	est, err := estimator.New(a.cfg.Estimator.Command, a.log)
	if err != nil {
		return pipeline.Deps{}, err
	}
	client := archive.NewClient(ctx, a.cfg.Archive.Token, a.cfg.Archive.Timeout, a.log)
	return pipeline.Deps{
		Tiles:      archive.NewGranules(archive.NewLAADS(client, a.cfg.Archive.LaadsURL), a.cfg.Paths.Modis, a.raster),
		Reanalysis: archive.NewMerra(client, a.cfg.Paths.Merra, region),
		Raster:     a.raster,
		Estimator:  est,
		Store:      a.store,
		Observers:  a.observers(),
		Logger:     a.log,
		Now:        a.now,
	}, nil
}

// finish reports a run error that needs an operator and, for batch runs,
// pushes the metrics. It returns err unchanged.
func (a *app) finish(ctx context.Context, pipelineID string, err error) error {
	var corrupt *checkpoint.CorruptCheckpointError
	if errors.As(err, &corrupt) {
		if aerr := a.notifier.Alert(ctx, pipelineID, err); aerr != nil {
			a.log.Warn().Err(aerr).Msg("alert not delivered")
		}
	}
	if a.batch {
		if perr := a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); perr != nil {
			a.log.Warn().Err(perr).Msg("metrics not pushed")
		}
	}
	return err
}

// printReport writes one line per processed date and a summary line.
func printReport(w io.Writer, r *pipeline.RunReport) {
	for _, d := range r.Dates {
		line := fmt.Sprintf("%s  %-16s orbits=%d rejected=%d produced=%d", d.Date, d.Outcome, d.Orbits, d.Rejected, d.Produced)
		if d.Err != nil {
			line += "  " + d.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s: %d dates, %d succeeded, %d skipped, %d partially failed, %d failed; %d queued for retry\n",
		r.PipelineID, len(r.Dates),
		r.Count(pipeline.Succeeded), r.Count(pipeline.Skipped), r.Count(pipeline.PartiallyFailed), r.Count(pipeline.Failed),
		len(r.Checkpoint.UncompletedDates))
}
