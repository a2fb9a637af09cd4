package main

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/zulandar/empatia/internal/dashboard"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the status API",
		Long:  "Serves checkpoint status, recorded runs, a run event stream and Prometheus metrics over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if cmd.Flags().Changed("port") {
				a.cfg.Dashboard.Port = port
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on (overrides dashboard.port)")
	return cmd
}

// serve blocks until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	today := func() civil.Date { return civil.DateOf(a.now()) }
	return dashboard.Start(ctx, dashboard.StartOpts{
		DB:        a.db,
		Store:     a.store,
		Pipelines: pipelineIDs(today()),
		Metrics:   a.metrics.Handler(),
		Port:      a.cfg.Dashboard.Port,
		Log:       a.log,
		Today:     today,
	})
}
