/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/exambook/apiserver/internal/db"
	"github.com/exambook/apiserver/internal/logging"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := db.MigrateUp(db.DSN(cfg.Database)); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		logging.Info().Msg("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [N]",
	Short: "Roll back N migrations, or all of them when N is omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			steps = n
		}

		cfg := loadConfig()
		if err := db.MigrateDown(db.DSN(cfg.Database), steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		logging.Info().Int("steps", steps).Msg("migrations rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		version, dirty, err := db.MigrationVersion(db.DSN(cfg.Database))
		if err != nil {
			return fmt.Errorf("read migration version: %w", err)
		}
		if dirty {
			logging.Warn().Uint("version", version).Msg("schema is dirty; fix the failed migration and force the version")
		}
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}
