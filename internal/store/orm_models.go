package store

import (
	"encoding/json"
	"time"

	"agentlens.local/projects/lens-gateway/internal/event"
)

type eventRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	TenantID  string    `gorm:"size:191;not null"`
	SessionID string    `gorm:"size:191;not null"`
	AgentID   string    `gorm:"size:191;not null"`
	EventType string    `gorm:"size:64;not null"`
	Severity  string    `gorm:"size:16;not null"`
	Payload   string    `gorm:"type:text"`
	Metadata  string    `gorm:"type:text"`
	PrevHash  *string   `gorm:"size:64"`
	Hash      string    `gorm:"size:64;not null"`
	Timestamp time.Time `gorm:"column:timestamp;not null"`
}

func (eventRow) TableName() string {
	return "events"
}

func (r eventRow) toEvent() (event.Event, error) {
	ev := event.Event{
		ID:        r.ID,
		Timestamp: r.Timestamp.UTC(),
		SessionID: r.SessionID,
		AgentID:   r.AgentID,
		EventType: event.Type(r.EventType),
		Severity:  event.Severity(r.Severity),
		PrevHash:  r.PrevHash,
		Hash:      r.Hash,
		TenantID:  r.TenantID,
	}
	if r.Payload != "" {
		ev.Payload = json.RawMessage(r.Payload)
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &ev.Metadata); err != nil {
			return event.Event{}, err
		}
	}
	return ev, nil
}

func eventRowFrom(ev event.Event) (eventRow, error) {
	row := eventRow{
		ID:        ev.ID,
		TenantID:  ev.TenantID,
		SessionID: ev.SessionID,
		AgentID:   ev.AgentID,
		EventType: string(ev.EventType),
		Severity:  string(ev.Severity),
		Payload:   string(ev.Payload),
		PrevHash:  ev.PrevHash,
		Hash:      ev.Hash,
		Timestamp: ev.Timestamp.UTC(),
	}
	if len(ev.Metadata) > 0 {
		encoded, err := json.Marshal(ev.Metadata)
		if err != nil {
			return eventRow{}, err
		}
		row.Metadata = string(encoded)
	}
	return row, nil
}

type sessionRow struct {
	ID                string     `gorm:"primaryKey;size:191"`
	TenantID          string     `gorm:"primaryKey;size:191"`
	AgentID           string     `gorm:"size:191;not null"`
	AgentName         string     `gorm:"size:191"`
	StartedAt         time.Time  `gorm:"not null"`
	EndedAt           *time.Time ``
	Status            string     `gorm:"size:32;not null"`
	EventCount        int64      `gorm:"not null;default:0"`
	ToolCallCount     int64      `gorm:"not null;default:0"`
	ErrorCount        int64      `gorm:"not null;default:0"`
	TotalCostUsd      float64    `gorm:"not null;default:0"`
	LLMCallCount      int64      `gorm:"column:llm_call_count;not null;default:0"`
	TotalInputTokens  int64      `gorm:"not null;default:0"`
	TotalOutputTokens int64      `gorm:"not null;default:0"`
	Tags              string     `gorm:"type:text"`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

func (r sessionRow) toRecord() (SessionRecord, error) {
	rec := SessionRecord{
		ID:                r.ID,
		TenantID:          r.TenantID,
		AgentID:           r.AgentID,
		AgentName:         r.AgentName,
		StartedAt:         r.StartedAt.UTC(),
		Status:            SessionStatus(r.Status),
		EventCount:        r.EventCount,
		ToolCallCount:     r.ToolCallCount,
		ErrorCount:        r.ErrorCount,
		TotalCostUsd:      r.TotalCostUsd,
		LLMCallCount:      r.LLMCallCount,
		TotalInputTokens:  r.TotalInputTokens,
		TotalOutputTokens: r.TotalOutputTokens,
		Tags:              []string{},
	}
	if r.EndedAt != nil {
		ended := r.EndedAt.UTC()
		rec.EndedAt = &ended
	}
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &rec.Tags); err != nil {
			return SessionRecord{}, err
		}
	}
	return rec, nil
}

type agentRow struct {
	ID            string     `gorm:"primaryKey;size:191"`
	TenantID      string     `gorm:"primaryKey;size:191"`
	Name          string     `gorm:"size:191"`
	FirstSeenAt   time.Time  `gorm:"not null"`
	LastSeenAt    time.Time  `gorm:"not null"`
	SessionCount  int64      `gorm:"not null;default:0"`
	ModelOverride *string    `gorm:"size:191"`
	PausedAt      *time.Time ``
	PauseReason   string     `gorm:"size:255"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

func (agentRow) TableName() string {
	return "agents"
}

func (r agentRow) toRecord() AgentRecord {
	rec := AgentRecord{
		ID:            r.ID,
		TenantID:      r.TenantID,
		Name:          r.Name,
		FirstSeenAt:   r.FirstSeenAt.UTC(),
		LastSeenAt:    r.LastSeenAt.UTC(),
		SessionCount:  r.SessionCount,
		ModelOverride: r.ModelOverride,
		PauseReason:   r.PauseReason,
	}
	if r.PausedAt != nil {
		paused := r.PausedAt.UTC()
		rec.PausedAt = &paused
	}
	return rec
}
