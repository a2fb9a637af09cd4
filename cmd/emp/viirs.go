package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/zulandar/empatia/internal/pipeline"
)

func newViirsCmd() *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "viirs",
		Short: "Build the yearly VIIRS night lights mean",
		Long: `Downloads the VIIRS night lights tiles of the configured acquisition window,
mosaics each date and averages them into the raster used as a model feature.
Refuses to run until the window has closed. Dates that fail are retried by the
next invocation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViirs(cmd, year)
		},
	}

	cmd.Flags().IntVar(&year, "year", 0, "year to build (default: current year)")
	return cmd
}

func runViirs(cmd *cobra.Command, year int) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if year == 0 {
		year = a.now().Year()
	}
	ctx := cmd.Context()
	report, err := a.viirs(ctx, year)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return a.finish(ctx, pipeline.NightLightsPipelineID(year), err)
}

func (a *app) viirs(ctx context.Context, year int) (*pipeline.RunReport, error) {
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	deps, err := a.deps(ctx, opts.Region)
	if err != nil {
		return nil, err
	}
	n, err := pipeline.NewNightLights(opts, deps)
	if err != nil {
		return nil, err
	}
	return n.Run(ctx, year)
}

// viirsWhenClosed runs the night lights pipeline and treats an open window
// as nothing to do.
func (a *app) viirsWhenClosed(ctx context.Context, year int) error {
	_, err := a.viirs(ctx, year)
	if errors.Is(err, pipeline.ErrWindowOpen) {
		a.log.Info().Int("year", year).Msg("night lights window still open")
		return nil
	}
	return a.finish(ctx, pipeline.NightLightsPipelineID(year), err)
}
