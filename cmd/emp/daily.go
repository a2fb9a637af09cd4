package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/zulandar/empatia/internal/pipeline"
)

func newDailyCmd() *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Run the daily PM10 pipeline",
		Long: `Processes every date owed by the daily checkpoint: today, the dates since the
last execution and the dates still marked uncompleted, within the lookback
horizon. With --start and --end the given window is processed instead and its
outcomes are merged into the checkpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaily(cmd, start, end)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first date of an explicit window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last date of an explicit window (YYYY-MM-DD)")
	return cmd
}

func runDaily(cmd *cobra.Command, start, end string) error {
	window, err := parseWindow(start, end)
	if err != nil {
		return err
	}
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	report, err := a.daily(ctx, window)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return a.finish(ctx, pipeline.DailyPipelineID, err)
}

// window is an explicit date range; the zero value means "follow the
// checkpoint".
type window struct {
	start, end civil.Date
}

func (w window) set() bool { return w.start.IsValid() }

func parseWindow(start, end string) (window, error) {
	if start == "" && end == "" {
		return window{}, nil
	}
	if start == "" || end == "" {
		return window{}, errors.New("--start and --end must be given together")
	}
	s, err := civil.ParseDate(start)
	if err != nil {
		return window{}, fmt.Errorf("--start: %w", err)
	}
	e, err := civil.ParseDate(end)
	if err != nil {
		return window{}, fmt.Errorf("--end: %w", err)
	}
	if e.Before(s) {
		return window{}, fmt.Errorf("--end %s is before --start %s", e, s)
	}
	return window{start: s, end: e}, nil
}

func (a *app) daily(ctx context.Context, w window) (*pipeline.RunReport, error) {
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	deps, err := a.deps(ctx, opts.Region)
	if err != nil {
		return nil, err
	}
	d, err := pipeline.NewDaily(opts, deps)
	if err != nil {
		return nil, err
	}
	if w.set() {
		return d.RunRange(ctx, w.start, w.end)
	}
	return d.Run(ctx)
}
