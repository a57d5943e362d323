package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pgsession",
	Short: "Manage the PostgreSQL session store",
	Long: `pgsession manages the database backing the session store:
it applies schema migrations and verifies connectivity.

Connection settings come from ~/.pgsession/config.yaml, PGSESSION_*
environment variables, or DATABASE_URL (highest priority).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
