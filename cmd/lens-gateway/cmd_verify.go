package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agentlens.local/projects/lens-gateway/internal/audit"
	"agentlens.local/projects/lens-gateway/internal/config"
	"agentlens.local/projects/lens-gateway/internal/store"
	"agentlens.local/projects/lens-gateway/internal/tenant"
)

var (
	verifySessionID string
	verifyFrom      string
	verifyTo        string
	verifyTenantID  string
)

func init() {
	verifyCmd.Flags().StringVar(&verifySessionID, "session", "", "verify a single session's chain")
	verifyCmd.Flags().StringVar(&verifyFrom, "from", "", "range start (RFC3339)")
	verifyCmd.Flags().StringVar(&verifyTo, "to", "", "range end (RFC3339)")
	verifyCmd.Flags().StringVar(&verifyTenantID, "tenant", tenant.Default, "tenant id")
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-derive hash chains and report any tampering",
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	params := audit.Params{SessionID: verifySessionID}
	var err error
	if params.From, err = parseFlagTime(verifyFrom, "--from"); err != nil {
		return err
	}
	if params.To, err = parseFlagTime(verifyTo, "--to"); err != nil {
		return err
	}

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	report, err := audit.NewVerifier(st).Verify(cmd.Context(), verifyTenantID, params)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Verified {
		return errors.New("verification failed")
	}
	return nil
}

func parseFlagTime(raw, flagName string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", flagName, err)
	}
	return parsed, nil
}
