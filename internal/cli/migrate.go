package cli

import (
	"context"
	"database/sql"
	"errors"

	"agendahub/config/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), database.Migrate)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), database.Rollback)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), database.Status)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	if cfg.DatabaseDSN == "" {
		return errors.New("no database configured: set DATABASE_URL")
	}
	db, err := database.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}
