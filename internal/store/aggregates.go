package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agentlens.local/projects/lens-gateway/internal/event"
)

// applyAggregates folds one newly inserted event into the session and
// agent materialized rows. Runs inside the insert transaction; all counter
// changes are relative SQL expressions so appends to different sessions
// never contend.
func (s *Store) applyAggregates(tx *gorm.DB, ev event.Event) error {
	now := s.now()
	if err := s.applySessionAggregates(tx, ev, now); err != nil {
		return err
	}
	return s.applyAgentAggregates(tx, ev, now)
}

func (s *Store) applySessionAggregates(tx *gorm.DB, ev event.Event, now time.Time) error {
	counters := map[string]any{
		"event_count": gorm.Expr("event_count + 1"),
		"updated_at":  now,
	}

	switch ev.EventType {
	case event.TypeToolCall:
		counters["tool_call_count"] = gorm.Expr("tool_call_count + 1")
	case event.TypeCostTracked:
		var p event.CostTrackedPayload
		if err := ev.DecodePayload(&p); err == nil && p.CostUsd != 0 {
			counters["total_cost_usd"] = gorm.Expr("total_cost_usd + ?", p.CostUsd)
		}
	case event.TypeLLMResponse:
		counters["llm_call_count"] = gorm.Expr("llm_call_count + 1")
		var p event.LLMResponsePayload
		if err := ev.DecodePayload(&p); err == nil {
			if p.CostUsd != 0 {
				counters["total_cost_usd"] = gorm.Expr("total_cost_usd + ?", p.CostUsd)
			}
			if p.Usage != nil {
				counters["total_input_tokens"] = gorm.Expr("total_input_tokens + ?", p.Usage.InputTokens)
				counters["total_output_tokens"] = gorm.Expr("total_output_tokens + ?", p.Usage.OutputTokens)
			}
		}
	}
	if ev.Severity == event.SeverityError || ev.Severity == event.SeverityCritical || ev.EventType == event.TypeToolError {
		counters["error_count"] = gorm.Expr("error_count + 1")
	}

	if err := tx.Model(&sessionRow{}).
		Where("id = ? AND tenant_id = ?", ev.SessionID, ev.TenantID).
		Updates(counters).Error; err != nil {
		return err
	}

	// Status and endedAt transition once: a session that has ended stays
	// ended even if stray lifecycle events arrive afterwards.
	switch ev.EventType {
	case event.TypeSessionStarted:
		var p event.SessionStartedPayload
		_ = ev.DecodePayload(&p)

		updates := map[string]any{"started_at": ev.Timestamp.UTC()}
		if p.AgentName != "" {
			updates["agent_name"] = p.AgentName
		}
		if err := tx.Model(&sessionRow{}).
			Where("id = ? AND tenant_id = ?", ev.SessionID, ev.TenantID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(&sessionRow{}).
			Where("id = ? AND tenant_id = ? AND ended_at IS NULL", ev.SessionID, ev.TenantID).
			Update("status", string(SessionActive)).Error; err != nil {
			return err
		}
		if len(p.Tags) > 0 {
			if err := mergeSessionTags(tx, ev.TenantID, ev.SessionID, p.Tags); err != nil {
				return err
			}
		}
	case event.TypeSessionEnded:
		var p event.SessionEndedPayload
		_ = ev.DecodePayload(&p)

		status := SessionCompleted
		if p.Reason == event.SessionEndReasonError {
			status = SessionError
		}
		if err := tx.Model(&sessionRow{}).
			Where("id = ? AND tenant_id = ? AND ended_at IS NULL", ev.SessionID, ev.TenantID).
			Updates(map[string]any{
				"ended_at": ev.Timestamp.UTC(),
				"status":   string(status),
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func mergeSessionTags(tx *gorm.DB, tenantID, sessionID string, add []string) error {
	var row sessionRow
	if err := tx.Where("id = ? AND tenant_id = ?", sessionID, tenantID).Take(&row).Error; err != nil {
		return err
	}
	existing := []string{}
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &existing); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(existing))
	for _, tag := range existing {
		seen[tag] = struct{}{}
	}
	changed := false
	for _, tag := range add {
		if _, ok := seen[tag]; ok {
			continue
		}
		existing = append(existing, tag)
		seen[tag] = struct{}{}
		changed = true
	}
	if !changed {
		return nil
	}
	encoded, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return tx.Model(&sessionRow{}).
		Where("id = ? AND tenant_id = ?", sessionID, tenantID).
		Update("tags", string(encoded)).Error
}

func (s *Store) applyAgentAggregates(tx *gorm.DB, ev event.Event, now time.Time) error {
	var startedName string
	if ev.EventType == event.TypeSessionStarted {
		var p event.SessionStartedPayload
		_ = ev.DecodePayload(&p)
		startedName = p.AgentName
	}

	bare := agentRow{
		ID:          ev.AgentID,
		TenantID:    ev.TenantID,
		Name:        startedName,
		FirstSeenAt: ev.Timestamp.UTC(),
		LastSeenAt:  ev.Timestamp.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&bare).Error; err != nil {
		return err
	}

	// lastSeenAt only advances.
	if err := tx.Model(&agentRow{}).
		Where("id = ? AND tenant_id = ? AND last_seen_at < ?", ev.AgentID, ev.TenantID, ev.Timestamp.UTC()).
		Updates(map[string]any{
			"last_seen_at": ev.Timestamp.UTC(),
			"updated_at":   now,
		}).Error; err != nil {
		return err
	}

	if ev.EventType == event.TypeSessionStarted {
		updates := map[string]any{
			"session_count": gorm.Expr("session_count + 1"),
			"updated_at":    now,
		}
		if startedName != "" {
			updates["name"] = startedName
		}
		if err := tx.Model(&agentRow{}).
			Where("id = ? AND tenant_id = ?", ev.AgentID, ev.TenantID).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}
