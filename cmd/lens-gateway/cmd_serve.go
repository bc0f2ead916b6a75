package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentlens.local/projects/lens-gateway/internal/audit"
	"agentlens.local/projects/lens-gateway/internal/config"
	"agentlens.local/projects/lens-gateway/internal/dispatch"
	"agentlens.local/projects/lens-gateway/internal/httpapi"
	"agentlens.local/projects/lens-gateway/internal/store"
	"agentlens.local/projects/lens-gateway/internal/subscribers"
	"agentlens.local/projects/lens-gateway/internal/subscribers/logging"
	"agentlens.local/projects/lens-gateway/internal/subscribers/webhook"
	"agentlens.local/projects/lens-gateway/internal/subscribers/wslive"
	"agentlens.local/projects/lens-gateway/internal/tenant"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest and query HTTP server",
	RunE:  runServe,
}

const retentionSweepInterval = time.Hour

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	hub := wslive.NewHub(logger)
	subs := []subscribers.Subscriber{logging.New(logger), hub}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger))
	}
	dispatcher := dispatch.New(logger, subs)

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN,
		store.WithLogger(logger),
		store.WithPublisher(dispatcher),
		store.WithPageCap(cfg.MaxPageSize),
	)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	verifier := audit.NewVerifier(st)
	srv := httpapi.NewServer(logger, cfg.HTTPAddr, st, verifier, hub, tenant.Mode(cfg.TenantMode))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if cfg.RetentionMaxAge > 0 {
		go runRetentionSweeps(ctx, logger, st, cfg.RetentionMaxAge)
	}

	go func() {
		logger.Printf("listening on %s driver=%s tenant_mode=%s", cfg.HTTPAddr, cfg.DBDriver, cfg.TenantMode)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	hub.Close()
	return nil
}

// runRetentionSweeps deletes expired events across every tenant on a fixed
// interval.
func runRetentionSweeps(ctx context.Context, logger *log.Logger, st *store.Store, maxAge time.Duration) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := time.Now().UTC().Add(-maxAge)
		result, err := st.ApplyRetention(ctx, "", cutoff)
		if err != nil {
			logger.Printf("retention sweep failed: %v", err)
			continue
		}
		if result.EventsDeleted > 0 || result.SessionsDeleted > 0 {
			logger.Printf("retention sweep events_deleted=%d sessions_deleted=%d cutoff=%s",
				result.EventsDeleted, result.SessionsDeleted, cutoff.Format(time.RFC3339))
		}
	}
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}
