package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"agentlens.local/projects/lens-gateway/internal/tenant"
)

const defaultHTTPAddr = ":8080"
const (
	defaultDBDriver    = "sqlite"
	defaultDBDSN       = "lens-gateway.db"
	defaultTenantMode  = string(tenant.ModeOpen)
	defaultMaxPageSize = 500
)

type Config struct {
	HTTPAddr        string
	DBDriver        string
	DBDSN           string
	TenantMode      string
	WebhookURLs     []string
	MaxPageSize     int
	RetentionMaxAge time.Duration
}

func FromEnv() Config {
	addr := strings.TrimSpace(os.Getenv("LENS_GATEWAY_HTTP_ADDR"))
	if addr == "" {
		addr = defaultHTTPAddr
	}

	driver := strings.TrimSpace(os.Getenv("LENS_GATEWAY_DB_DRIVER"))
	if driver == "" {
		driver = defaultDBDriver
	}
	dsn := strings.TrimSpace(os.Getenv("LENS_GATEWAY_DB_DSN"))
	if dsn == "" {
		dsn = defaultDBDSN
	}
	tenantMode := strings.TrimSpace(strings.ToLower(os.Getenv("LENS_GATEWAY_TENANT_MODE")))
	if tenantMode == "" {
		tenantMode = defaultTenantMode
	}

	var webhookURLs []string
	for _, raw := range strings.Split(os.Getenv("LENS_GATEWAY_WEBHOOK_URLS"), ",") {
		if url := strings.TrimSpace(raw); url != "" {
			webhookURLs = append(webhookURLs, url)
		}
	}

	maxPageSize := defaultMaxPageSize
	if raw := strings.TrimSpace(os.Getenv("LENS_GATEWAY_MAX_PAGE_SIZE")); raw != "" {
		var parsed int
		if _, err := fmt.Sscanf(raw, "%d", &parsed); err == nil && parsed > 0 {
			maxPageSize = parsed
		}
	}

	var retentionMaxAge time.Duration
	if raw := strings.TrimSpace(os.Getenv("LENS_GATEWAY_RETENTION_MAX_AGE")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err == nil && parsed > 0 {
			retentionMaxAge = parsed
		}
	}

	return Config{
		HTTPAddr:        addr,
		DBDriver:        strings.ToLower(driver),
		DBDSN:           dsn,
		TenantMode:      tenantMode,
		WebhookURLs:     webhookURLs,
		MaxPageSize:     maxPageSize,
		RetentionMaxAge: retentionMaxAge,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("LENS_GATEWAY_HTTP_ADDR must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("LENS_GATEWAY_DB_DRIVER must be sqlite or postgres")
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("LENS_GATEWAY_DB_DSN must not be empty")
	}
	if !tenant.Mode(c.TenantMode).Valid() {
		return fmt.Errorf("LENS_GATEWAY_TENANT_MODE must be open, warn or strict")
	}
	if c.MaxPageSize <= 0 {
		return fmt.Errorf("LENS_GATEWAY_MAX_PAGE_SIZE must be > 0")
	}
	if c.RetentionMaxAge < 0 {
		return fmt.Errorf("LENS_GATEWAY_RETENTION_MAX_AGE must be >= 0")
	}
	return nil
}
