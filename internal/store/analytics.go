package store

import (
	"context"
	"strings"
	"time"
)

// GetStats reports row counts for the tenant plus whole-database storage
// size and the bounds of the tenant's event history.
func (s *Store) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validationf("tenant id is required")
	}
	stats := &Stats{}

	if err := s.gdb.WithContext(ctx).Model(&eventRow{}).
		Where("tenant_id = ?", tenantID).Count(&stats.EventCount).Error; err != nil {
		return nil, err
	}
	if err := s.gdb.WithContext(ctx).Model(&sessionRow{}).
		Where("tenant_id = ?", tenantID).Count(&stats.SessionCount).Error; err != nil {
		return nil, err
	}
	if err := s.gdb.WithContext(ctx).Model(&agentRow{}).
		Where("tenant_id = ?", tenantID).Count(&stats.AgentCount).Error; err != nil {
		return nil, err
	}
	if err := s.gdb.WithContext(ctx).Raw(s.dialect.StorageSizeSQL()).Scan(&stats.StorageBytes).Error; err != nil {
		return nil, err
	}

	if stats.EventCount > 0 {
		var bounds struct {
			Oldest time.Time
			Newest time.Time
		}
		if err := s.gdb.WithContext(ctx).Model(&eventRow{}).
			Select(`MIN("timestamp") AS oldest, MAX("timestamp") AS newest`).
			Where("tenant_id = ?", tenantID).
			Scan(&bounds).Error; err != nil {
			return nil, err
		}
		oldest := bounds.Oldest.UTC()
		newest := bounds.Newest.UTC()
		stats.OldestEvent = &oldest
		stats.NewestEvent = &newest
	}
	return stats, nil
}

// GetAnalytics rolls events up into time buckets using the engine's native
// date truncation. Bucket labels and values are identical across both
// engines for identical data.
func (s *Store) GetAnalytics(ctx context.Context, tenantID string, q AnalyticsQuery) ([]AnalyticsBucket, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validationf("tenant id is required")
	}
	if q.From.IsZero() || q.To.IsZero() {
		return nil, validationf("analytics requires both from and to")
	}
	if q.To.Before(q.From) {
		return nil, validationf("analytics range end precedes start")
	}
	granularity := q.Granularity
	if granularity == "" {
		granularity = GranularityHour
	}
	if !granularity.Valid() {
		return nil, validationf("unknown granularity %q", granularity)
	}

	bucket, err := s.dialect.DateBucket(granularity, `"timestamp"`)
	if err != nil {
		return nil, err
	}
	costExpr := s.dialect.JSONNumber("payload", "costUsd")
	latencyExpr := s.dialect.JSONNumber("payload", "latencyMs")

	sql := `SELECT ` + bucket + ` AS bucket,
	COUNT(*) AS event_count,
	SUM(CASE WHEN severity IN ('error', 'critical') OR event_type = 'tool_error' THEN 1 ELSE 0 END) AS error_count,
	SUM(CASE WHEN event_type = 'tool_call' THEN 1 ELSE 0 END) AS tool_call_count,
	SUM(CASE WHEN event_type = 'llm_response' THEN 1 ELSE 0 END) AS llm_call_count,
	COALESCE(SUM(CASE WHEN event_type IN ('cost_tracked', 'llm_response') THEN ` + costExpr + ` ELSE 0 END), 0) AS cost_usd,
	COALESCE(AVG(CASE WHEN event_type = 'llm_response' THEN ` + latencyExpr + ` END), 0) AS avg_latency_ms
FROM events
WHERE tenant_id = ? AND "timestamp" >= ? AND "timestamp" <= ?`

	args := []any{tenantID, q.From.UTC(), q.To.UTC()}
	if q.AgentID != "" {
		sql += " AND agent_id = ?"
		args = append(args, q.AgentID)
	}
	sql += " GROUP BY bucket ORDER BY bucket ASC"

	var buckets []AnalyticsBucket
	if err := s.gdb.WithContext(ctx).Raw(sql, args...).Scan(&buckets).Error; err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []AnalyticsBucket{}
	}
	return buckets, nil
}
