package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/zulandar/empatia/internal/monthly"
	"github.com/zulandar/empatia/internal/orbit"
)

func newMonthlyCmd() *cobra.Command {
	var (
		ndays int
		month string
	)

	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Aggregate the daily PM10 estimates of a month",
		Long: `Computes per-sensor mean, standard deviation and count rasters over every
daily PM10 estimate of a month. The month is the one containing today minus
--ndays, or the one given by --month.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("ndays") && month != "" {
				return errors.New("--ndays and --month are mutually exclusive")
			}
			return runMonthly(cmd, ndays, month)
		},
	}

	cmd.Flags().IntVar(&ndays, "ndays", 30, "select the month containing today minus this many days")
	cmd.Flags().StringVar(&month, "month", "", "month to aggregate (YYYY-MM)")
	return cmd
}

func runMonthly(cmd *cobra.Command, ndays int, month string) error {
	if ndays < 0 {
		return fmt.Errorf("--ndays must not be negative, got %d", ndays)
	}
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	year, mon := monthly.MonthOf(civil.DateOf(a.now()), ndays)
	if month != "" {
		if year, mon, err = monthly.ParseMonth(month); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	sum, err := a.monthly(ctx, year, mon)
	if err == nil {
		printSummary(cmd.OutOrStdout(), sum)
	}
	return a.finish(ctx, "monthly", err)
}

// monthly aggregates one month and publishes its archives.
func (a *app) monthly(ctx context.Context, year int, month time.Month) (monthly.Summary, error) {
	opts, err := a.options()
	if err != nil {
		return monthly.Summary{}, err
	}
	agg := &monthly.Aggregator{
		PredictionDir: a.cfg.Paths.Prediction,
		Codes:         a.cfg.Monthly.Codes,
		Region:        opts.Region,
		Engine:        a.raster,
		Logger:        a.log,
	}
	sum, err := agg.Aggregate(ctx, year, month)
	if err != nil || a.publisher == nil {
		return sum, err
	}
	for _, s := range orbit.Sensors {
		ss, ok := sum.Sensors[s]
		if !ok {
			continue
		}
		if _, err := a.publisher.Upload(ctx, ss.Archive); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func printSummary(w io.Writer, sum monthly.Summary) {
	if sum.NoData {
		fmt.Fprintf(w, "%04d-%02d: no daily estimates\n", sum.Year, sum.Month)
		return
	}
	for _, s := range orbit.Sensors {
		ss, ok := sum.Sensors[s]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s  %-5s %d rasters  %s .. %s  %s\n", ss.Name, s, len(ss.Inputs), ss.First, ss.Last, ss.Archive)
	}
}
