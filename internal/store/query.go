package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"agentlens.local/projects/lens-gateway/internal/event"
)

// QueryEvents returns a filtered, ordered page of events for one tenant.
// Total reflects the filtered count irrespective of page size.
func (s *Store) QueryEvents(ctx context.Context, tenantID string, f EventFilter) (*EventPage, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validationf("tenant id is required")
	}
	limit, offset, order, err := s.normalizePage(f.Limit, f.Offset, f.Order)
	if err != nil {
		return nil, err
	}

	q := s.gdb.WithContext(ctx).Model(&eventRow{}).Where("tenant_id = ?", tenantID)
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			if !t.Valid() {
				return nil, validationf("unknown event type %q", t)
			}
			types[i] = string(t)
		}
		q = q.Where("event_type IN ?", types)
	}
	if len(f.Severities) > 0 {
		severities := make([]string, len(f.Severities))
		for i, sev := range f.Severities {
			if !sev.Valid() {
				return nil, validationf("unknown severity %q", sev)
			}
			severities[i] = string(sev)
		}
		q = q.Where("severity IN ?", severities)
	}
	if !f.From.IsZero() {
		q = q.Where(`"timestamp" >= ?`, f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where(`"timestamp" <= ?`, f.To.UTC())
	}
	if f.Search != "" {
		q = q.Where(s.dialect.TextMatch("payload"), "%"+escapeLike(f.Search)+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	direction := "ASC"
	if order == OrderDesc {
		direction = "DESC"
	}
	var rows []eventRow
	if err := q.
		Order(`"timestamp" ` + direction + `, id ` + direction).
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return &EventPage{
		Events:  events,
		Total:   total,
		HasMore: int64(offset+len(events)) < total,
	}, nil
}

// GetSessionTimeline returns every event of a session in chain order.
func (s *Store) GetSessionTimeline(ctx context.Context, tenantID, sessionID string) ([]event.Event, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, validationf("session id is required")
	}
	var rows []eventRow
	if err := s.gdb.WithContext(ctx).
		Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).
		Order(`"timestamp" ASC, id ASC`).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetLastEventHash returns the hash of the session's chain head, or nil
// for a session with no events. Producers fetch this to stamp the next
// batch.
func (s *Store) GetLastEventHash(ctx context.Context, tenantID, sessionID string) (*string, error) {
	return lastHashTx(s.gdb.WithContext(ctx), tenantID, sessionID)
}

func (s *Store) GetEvent(ctx context.Context, tenantID, id string) (event.Event, error) {
	var row eventRow
	err := s.gdb.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return event.Event{}, ErrNotFound
	}
	if err != nil {
		return event.Event{}, err
	}
	return row.toEvent()
}

// SessionIDsInRange lists the sessions with at least one event inside the
// half-open time range. Used by audit verification.
func (s *Store) SessionIDsInRange(ctx context.Context, tenantID string, from, to time.Time) ([]string, error) {
	var ids []string
	if err := s.gdb.WithContext(ctx).
		Model(&eventRow{}).
		Distinct("session_id").
		Where(`tenant_id = ? AND "timestamp" >= ? AND "timestamp" <= ?`, tenantID, from.UTC(), to.UTC()).
		Order("session_id ASC").
		Pluck("session_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetSession(ctx context.Context, tenantID, sessionID string) (SessionRecord, error) {
	var row sessionRow
	err := s.gdb.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", sessionID, tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	return row.toRecord()
}

func (s *Store) QuerySessions(ctx context.Context, tenantID string, f SessionFilter) (*SessionPage, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validationf("tenant id is required")
	}
	limit, offset, _, err := s.normalizePage(f.Limit, f.Offset, OrderDesc)
	if err != nil {
		return nil, err
	}

	q := s.gdb.WithContext(ctx).Model(&sessionRow{}).Where("tenant_id = ?", tenantID)
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if !f.From.IsZero() {
		q = q.Where("started_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("started_at <= ?", f.To.UTC())
	}
	for _, tag := range f.Tags {
		q = q.Where(s.dialect.TextMatch("tags"), `%"`+escapeLike(tag)+`"%`)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []sessionRow
	if err := q.
		Order("started_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	sessions := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	return &SessionPage{
		Sessions: sessions,
		Total:    total,
		HasMore:  int64(offset+len(sessions)) < total,
	}, nil
}

func (s *Store) GetAgent(ctx context.Context, tenantID, agentID string) (AgentRecord, error) {
	var row agentRow
	err := s.gdb.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", agentID, tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AgentRecord{}, ErrNotFound
	}
	if err != nil {
		return AgentRecord{}, err
	}
	return row.toRecord(), nil
}

func (s *Store) ListAgents(ctx context.Context, tenantID string, limit, offset int) ([]AgentRecord, error) {
	pageLimit, pageOffset, _, err := s.normalizePage(limit, offset, OrderDesc)
	if err != nil {
		return nil, err
	}
	var rows []agentRow
	if err := s.gdb.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("last_seen_at DESC, id ASC").
		Limit(pageLimit).
		Offset(pageOffset).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	agents := make([]AgentRecord, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, row.toRecord())
	}
	return agents, nil
}

// UpdateAgentControls sets the operator-facing agent fields: model
// override and pause state. A nil modelOverride clears the override; a nil
// pausedAt resumes the agent.
func (s *Store) UpdateAgentControls(ctx context.Context, tenantID, agentID string, modelOverride *string, pausedAt *time.Time, pauseReason string) (AgentRecord, error) {
	res := s.gdb.WithContext(ctx).Model(&agentRow{}).
		Where("id = ? AND tenant_id = ?", agentID, tenantID).
		Updates(map[string]any{
			"model_override": modelOverride,
			"paused_at":      pausedAt,
			"pause_reason":   pauseReason,
			"updated_at":     s.now(),
		})
	if res.Error != nil {
		return AgentRecord{}, res.Error
	}
	if res.RowsAffected == 0 {
		return AgentRecord{}, ErrNotFound
	}
	return s.GetAgent(ctx, tenantID, agentID)
}

func (s *Store) normalizePage(limit, offset int, order Order) (int, int, Order, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > s.pageCap {
		limit = s.pageCap
	}
	if offset < 0 {
		offset = 0
	}
	switch order {
	case "", OrderAsc, OrderDesc:
	default:
		return 0, 0, "", validationf("order must be %q or %q", OrderAsc, OrderDesc)
	}
	if order == "" {
		order = OrderAsc
	}
	return limit, offset, order, nil
}

func escapeLike(v string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(v)
}
