package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/empatia/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Run ledger database commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the run ledger tables",
		Long:  "Migrates the run ledger tables. With --create the MySQL database is created first when missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, create)
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create the MySQL database if it does not exist")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, create bool) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if create && cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
	return nil
}
