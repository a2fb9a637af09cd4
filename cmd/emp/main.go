package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// timeNow is the clock of every command.
var timeNow = time.Now

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "emp",
		Short:        "Empatia: satellite PM10 estimation pipelines",
		Long:         "Empatia turns MODIS aerosol tiles and MERRA-2 reanalysis into daily and monthly PM10 and air-quality index products.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "empatia.yaml", "path to empatia config file")
	cmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "KEY=VALUE files loaded before the config")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDailyCmd())
	cmd.AddCommand(newMonthlyCmd())
	cmd.AddCommand(newViirsCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newDBCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "emp %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newRootCmd())
	stop()
	os.Exit(code)
}
