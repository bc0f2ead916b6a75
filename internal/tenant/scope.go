// Package tenant binds event-store operations to exactly one tenant.
// Isolation is structural in the schema (every row carries tenant_id and
// tenant-unique keys are composite); this package makes it structural in
// the API as well.
package tenant

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"agentlens.local/projects/lens-gateway/internal/event"
	"agentlens.local/projects/lens-gateway/internal/store"
)

// Default is the tenant used for unscoped callers in permissive modes.
const Default = "default"

// Mode controls how an unscoped (empty tenant id) call is treated.
type Mode string

const (
	// ModeOpen silently maps unscoped calls to the default tenant.
	ModeOpen Mode = "open"
	// ModeWarn maps unscoped calls to the default tenant and logs them.
	ModeWarn Mode = "warn"
	// ModeStrict rejects unscoped calls.
	ModeStrict Mode = "strict"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeOpen, ModeWarn, ModeStrict:
		return true
	}
	return false
}

// Resolve maps a caller-supplied tenant id through the scoping mode.
func Resolve(mode Mode, logger *log.Logger, tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID != "" {
		return tenantID, nil
	}
	switch mode {
	case ModeStrict:
		return "", fmt.Errorf("%w: tenant id is required", store.ErrValidation)
	case ModeWarn:
		if logger != nil {
			logger.Printf("unscoped call mapped to tenant %q", Default)
		}
		return Default, nil
	default:
		return Default, nil
	}
}

// Scoped wraps a store so every operation is implicitly bound to one
// tenant.
type Scoped struct {
	store    *store.Store
	tenantID string
}

func Scope(s *store.Store, tenantID string) (*Scoped, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", store.ErrValidation)
	}
	return &Scoped{store: s, tenantID: tenantID}, nil
}

func (s *Scoped) TenantID() string {
	return s.tenantID
}

func (s *Scoped) InsertEvents(ctx context.Context, batch []event.Event) (int, error) {
	return s.store.InsertEvents(ctx, s.tenantID, batch)
}

func (s *Scoped) QueryEvents(ctx context.Context, f store.EventFilter) (*store.EventPage, error) {
	return s.store.QueryEvents(ctx, s.tenantID, f)
}

func (s *Scoped) GetSessionTimeline(ctx context.Context, sessionID string) ([]event.Event, error) {
	return s.store.GetSessionTimeline(ctx, s.tenantID, sessionID)
}

func (s *Scoped) GetLastEventHash(ctx context.Context, sessionID string) (*string, error) {
	return s.store.GetLastEventHash(ctx, s.tenantID, sessionID)
}

func (s *Scoped) GetEvent(ctx context.Context, id string) (event.Event, error) {
	return s.store.GetEvent(ctx, s.tenantID, id)
}

func (s *Scoped) GetSession(ctx context.Context, sessionID string) (store.SessionRecord, error) {
	return s.store.GetSession(ctx, s.tenantID, sessionID)
}

func (s *Scoped) QuerySessions(ctx context.Context, f store.SessionFilter) (*store.SessionPage, error) {
	return s.store.QuerySessions(ctx, s.tenantID, f)
}

func (s *Scoped) GetAgent(ctx context.Context, agentID string) (store.AgentRecord, error) {
	return s.store.GetAgent(ctx, s.tenantID, agentID)
}

func (s *Scoped) ListAgents(ctx context.Context, limit, offset int) ([]store.AgentRecord, error) {
	return s.store.ListAgents(ctx, s.tenantID, limit, offset)
}

func (s *Scoped) UpdateAgentControls(ctx context.Context, agentID string, modelOverride *string, pausedAt *time.Time, pauseReason string) (store.AgentRecord, error) {
	return s.store.UpdateAgentControls(ctx, s.tenantID, agentID, modelOverride, pausedAt, pauseReason)
}

func (s *Scoped) GetStats(ctx context.Context) (*store.Stats, error) {
	return s.store.GetStats(ctx, s.tenantID)
}

func (s *Scoped) GetAnalytics(ctx context.Context, q store.AnalyticsQuery) ([]store.AnalyticsBucket, error) {
	return s.store.GetAnalytics(ctx, s.tenantID, q)
}

func (s *Scoped) ApplyRetention(ctx context.Context, olderThan time.Time) (*store.RetentionResult, error) {
	return s.store.ApplyRetention(ctx, s.tenantID, olderThan)
}
