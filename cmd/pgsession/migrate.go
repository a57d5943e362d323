package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandkit/pgsession/config"
	"github.com/strandkit/pgsession/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply all pending schema migrations to the session database.

Migrations are embedded in the binary and tracked in the
schema_migrations table; running migrate twice is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		fmt.Println("Migrations applied.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
