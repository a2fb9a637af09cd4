package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/dashboard"
	"github.com/zulandar/empatia/internal/db"
	"github.com/zulandar/empatia/internal/pipeline"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint and last run of each pipeline",
		Long:  "Prints the checkpoint of the daily and night lights pipelines with their latest recorded run. Output is a table on a terminal and JSON otherwise or with --json.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, asJSON bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	today := civil.DateOf(timeNow())
	statuses, err := collectStatus(gormDB, checkpoint.NewStore(cfg.Paths.Checkpoints), pipelineIDs(today), today)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON || !isTerminal(out) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}
	printStatus(out, statuses)
	return nil
}

// pipelineIDs lists the checkpointed pipelines: the daily one and the night
// lights of this year and last year.
func pipelineIDs(today civil.Date) []string {
	return []string{
		pipeline.DailyPipelineID,
		pipeline.NightLightsPipelineID(today.Year),
		pipeline.NightLightsPipelineID(today.Year - 1),
	}
}

func collectStatus(gormDB *gorm.DB, store *checkpoint.Store, ids []string, today civil.Date) ([]*dashboard.PipelineStatus, error) {
	out := make([]*dashboard.PipelineStatus, 0, len(ids))
	for _, id := range ids {
		st, err := dashboard.Status(gormDB, store, id, today)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func printStatus(w io.Writer, statuses []*dashboard.PipelineStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPELINE\tLAST EXECUTION\tUNCOMPLETED\tLAST RUN\tRESULT")
	for _, st := range statuses {
		last := "-"
		if st.Persisted {
			last = st.LastExecutionDate.String()
		}
		pending := fmt.Sprint(len(st.UncompletedDates))
		if len(st.UncompletedDates) > 0 && len(st.UncompletedDates) <= 3 {
			dates := make([]string, len(st.UncompletedDates))
			for i, d := range st.UncompletedDates {
				dates[i] = d.String()
			}
			pending += " (" + strings.Join(dates, ", ") + ")"
		}
		run, result := "-", "-"
		if st.LastRun != nil {
			run = st.LastRun.StartedAt.Local().Format("2006-01-02 15:04")
			result = fmt.Sprintf("%d ok, %d skipped, %d partial, %d failed",
				st.LastRun.Succeeded, st.LastRun.Skipped, st.LastRun.PartiallyFailed, st.LastRun.Failed)
		}
		if st.Corrupt != "" {
			last, pending = "CORRUPT", "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Pipeline, last, pending, run, result)
	}
	tw.Flush()
	for _, st := range statuses {
		if st.Corrupt != "" {
			fmt.Fprintf(w, "\n%s\n", st.Corrupt)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
