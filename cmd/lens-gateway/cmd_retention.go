package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agentlens.local/projects/lens-gateway/internal/config"
	"agentlens.local/projects/lens-gateway/internal/store"
)

var (
	retentionOlderThan time.Duration
	retentionTenantID  string
)

func init() {
	retentionCmd.Flags().DurationVar(&retentionOlderThan, "older-than", 0, "delete events older than this duration (required)")
	retentionCmd.Flags().StringVar(&retentionTenantID, "tenant", "", "restrict the sweep to one tenant (default: all tenants)")
	_ = retentionCmd.MarkFlagRequired("older-than")
	rootCmd.AddCommand(retentionCmd)
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Delete events past the retention window",
	RunE:  runRetention,
}

func runRetention(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if retentionOlderThan <= 0 {
		return fmt.Errorf("--older-than must be > 0")
	}

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	cutoff := time.Now().UTC().Add(-retentionOlderThan)
	result, err := st.ApplyRetention(cmd.Context(), retentionTenantID, cutoff)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
