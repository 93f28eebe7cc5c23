package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/demetra.report/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <up|down|status|version N|force N>",
		Short: "Inspect or change the database schema version",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runMigrate,
	}
	cmd.Flags().String("db-path", "", "Path to the sqlite database (default from config)")
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("db-path")
	if err != nil {
		return err
	}
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.GetDBPath()
	}
	return store.RunMigrateCommand(cmd.OutOrStdout(), path, args)
}
