package store

import (
	"time"

	"agentlens.local/projects/lens-gateway/internal/event"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
	SessionFailed    SessionStatus = "failed"
)

// SessionRecord is the materialized aggregate for one session, maintained
// incrementally by the insert path. Counters only grow; status and endedAt
// transition once.
type SessionRecord struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenantId,omitempty"`
	AgentID           string        `json:"agentId"`
	AgentName         string        `json:"agentName,omitempty"`
	StartedAt         time.Time     `json:"startedAt"`
	EndedAt           *time.Time    `json:"endedAt,omitempty"`
	Status            SessionStatus `json:"status"`
	EventCount        int64         `json:"eventCount"`
	ToolCallCount     int64         `json:"toolCallCount"`
	ErrorCount        int64         `json:"errorCount"`
	TotalCostUsd      float64       `json:"totalCostUsd"`
	LLMCallCount      int64         `json:"llmCallCount"`
	TotalInputTokens  int64         `json:"totalInputTokens"`
	TotalOutputTokens int64         `json:"totalOutputTokens"`
	Tags              []string      `json:"tags"`
}

// AgentRecord is the materialized aggregate for one agent.
type AgentRecord struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId,omitempty"`
	Name          string     `json:"name,omitempty"`
	FirstSeenAt   time.Time  `json:"firstSeenAt"`
	LastSeenAt    time.Time  `json:"lastSeenAt"`
	SessionCount  int64      `json:"sessionCount"`
	ModelOverride *string    `json:"modelOverride,omitempty"`
	PausedAt      *time.Time `json:"pausedAt,omitempty"`
	PauseReason   string     `json:"pauseReason,omitempty"`
}

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// EventFilter selects events for a query. Zero values mean "no constraint".
type EventFilter struct {
	SessionID  string
	AgentID    string
	EventTypes []event.Type
	Severities []event.Severity
	From       time.Time
	To         time.Time
	Search     string
	Limit      int
	Offset     int
	Order      Order
}

type EventPage struct {
	Events  []event.Event `json:"events"`
	Total   int64         `json:"total"`
	HasMore bool          `json:"hasMore"`
}

type SessionFilter struct {
	AgentID  string
	Statuses []SessionStatus
	From     time.Time
	To       time.Time
	Tags     []string
	Limit    int
	Offset   int
}

type SessionPage struct {
	Sessions []SessionRecord `json:"sessions"`
	Total    int64           `json:"total"`
	HasMore  bool            `json:"hasMore"`
}

// Stats summarizes the store contents. StorageBytes reflects the whole
// underlying database, not a single tenant's share.
type Stats struct {
	EventCount   int64      `json:"eventCount"`
	SessionCount int64      `json:"sessionCount"`
	AgentCount   int64      `json:"agentCount"`
	StorageBytes int64      `json:"storageBytes"`
	OldestEvent  *time.Time `json:"oldestEvent,omitempty"`
	NewestEvent  *time.Time `json:"newestEvent,omitempty"`
}

type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
)

func (g Granularity) Valid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek:
		return true
	}
	return false
}

type AnalyticsQuery struct {
	From        time.Time
	To          time.Time
	Granularity Granularity
	AgentID     string
}

// AnalyticsBucket is one time bucket of the analytics rollup. Bucket is the
// UTC start of the bucket in ISO-8601, identical across backends.
type AnalyticsBucket struct {
	Bucket        string  `json:"bucket"`
	EventCount    int64   `json:"eventCount"`
	ErrorCount    int64   `json:"errorCount"`
	ToolCallCount int64   `json:"toolCallCount"`
	LLMCallCount  int64   `json:"llmCallCount"`
	CostUsd       float64 `json:"costUsd"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
}

type RetentionResult struct {
	EventsDeleted   int64 `json:"eventsDeleted"`
	SessionsDeleted int64 `json:"sessionsDeleted"`
}
