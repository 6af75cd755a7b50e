// Package cli holds the agendahub command tree.
package cli

import (
	"fmt"
	"os"

	"agendahub/config"
	"agendahub/pkg/logger"

	"github.com/spf13/cobra"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "agendahub",
	Short: "Shared projects, agenda, tasks and events with live sync",
	Long: `agendahub serves records (projects, agenda items, pending tasks and
scheduled events) to many users at once, each record visible to its owner and
the users on its visibility list. Changes are pushed over a websocket and
reconciled by periodic polling.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logger.Init(cfg.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(watchCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
