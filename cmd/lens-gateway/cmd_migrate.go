package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentlens.local/projects/lens-gateway/internal/config"
	"agentlens.local/projects/lens-gateway/internal/store"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Open runs every pending migration before returning.
	st, err := store.Open(cfg.DBDriver, cfg.DBDSN, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	logger.Printf("migrations applied driver=%s", cfg.DBDriver)
	return nil
}
