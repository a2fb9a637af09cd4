package main

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/zulandar/empatia/internal/cleanup"
	"github.com/zulandar/empatia/internal/config"
)

func newCleanCmd() *cobra.Command {
	var ndays int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove dated working directories older than --ndays",
		Long: `Deletes the per-date directories of raw downloads, reanalysis grids, processed
intermediates and predictions whose date is more than --ndays days ago.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ndays <= 0 {
				return errors.New("--ndays must be positive")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			removed, err := clean(cfg, civil.DateOf(timeNow()), ndays)
			for _, p := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), "removed", p)
			}
			return err
		},
	}

	cmd.Flags().IntVar(&ndays, "ndays", 60, "keep this many days of data")
	return cmd
}

func clean(cfg *config.Config, today civil.Date, ndays int) ([]string, error) {
	shortNames := make([]string, 0, len(cfg.Merra.Datasets))
	for _, ds := range cfg.Merra.Datasets {
		shortNames = append(shortNames, ds.ShortName)
	}
	roots := cleanup.Roots(cfg.Paths.Modis, cfg.Products.Maiac.Product, cfg.Paths.Merra, shortNames, cfg.Paths.Processed, cfg.Paths.Prediction)
	return cleanup.RemoveDatedBefore(today.AddDays(-ndays), roots...)
}
