package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/empatia/internal/monthly"
	"github.com/zulandar/empatia/internal/pipeline"
	"github.com/zulandar/empatia/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	var (
		list  bool
		serve bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipelines on their cron schedules",
		Long: `Runs the daily pipeline, the monthly aggregation, the cleanup and the yearly
night lights build on the cron expressions of the schedule section until
interrupted. With --serve the status API runs in the same process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.scheduler()
			if err != nil {
				return err
			}
			if list {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "JOB\tSPEC\tNEXT")
				for _, p := range s.Plan(a.now()) {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Spec, p.Next.Format(time.RFC3339))
				}
				return tw.Flush()
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return s.Run(ctx) })
			if serve {
				g.Go(func() error { return a.serve(ctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "print the jobs and their next fire time, then exit")
	cmd.Flags().BoolVar(&serve, "serve", false, "also serve the status API")
	return cmd
}

// scheduler registers the pipeline jobs.
func (a *app) scheduler() (*scheduler.Scheduler, error) {
	sc := a.cfg.Schedule
	s := scheduler.New(time.Local, a.log)

	jobs := []struct {
		name, spec string
		job        scheduler.Job
	}{
		{"daily", sc.Daily, func(ctx context.Context) error {
			_, err := a.daily(ctx, window{})
			return a.finish(ctx, pipeline.DailyPipelineID, err)
		}},
		{"monthly", sc.Monthly, func(ctx context.Context) error {
			year, month := monthly.MonthOf(civil.DateOf(a.now()), sc.MonthlyDays)
			_, err := a.monthly(ctx, year, month)
			return err
		}},
		{"clean", sc.Clean, func(ctx context.Context) error {
			removed, err := clean(a.cfg, civil.DateOf(a.now()), sc.CleanDays)
			a.log.Info().Int("removed", len(removed)).Msg("cleanup done")
			return err
		}},
		{"viirs", sc.Viirs, func(ctx context.Context) error {
			return a.viirsWhenClosed(ctx, a.now().Year())
		}},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.job); err != nil {
			return nil, err
		}
	}
	return s, nil
}
