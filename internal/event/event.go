package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeSessionStarted    Type = "session_started"
	TypeSessionEnded      Type = "session_ended"
	TypeToolCall          Type = "tool_call"
	TypeToolResponse      Type = "tool_response"
	TypeToolError         Type = "tool_error"
	TypeApprovalRequested Type = "approval_requested"
	TypeApprovalGranted   Type = "approval_granted"
	TypeApprovalDenied    Type = "approval_denied"
	TypeApprovalExpired   Type = "approval_expired"
	TypeFormSubmitted     Type = "form_submitted"
	TypeFormCompleted     Type = "form_completed"
	TypeFormExpired       Type = "form_expired"
	TypeCostTracked       Type = "cost_tracked"
	TypeLLMCall           Type = "llm_call"
	TypeLLMResponse       Type = "llm_response"
	TypeAlertTriggered    Type = "alert_triggered"
	TypeAlertResolved     Type = "alert_resolved"
	TypeCustom            Type = "custom"
)

var knownTypes = map[Type]struct{}{
	TypeSessionStarted:    {},
	TypeSessionEnded:      {},
	TypeToolCall:          {},
	TypeToolResponse:      {},
	TypeToolError:         {},
	TypeApprovalRequested: {},
	TypeApprovalGranted:   {},
	TypeApprovalDenied:    {},
	TypeApprovalExpired:   {},
	TypeFormSubmitted:     {},
	TypeFormCompleted:     {},
	TypeFormExpired:       {},
	TypeCostTracked:       {},
	TypeLLMCall:           {},
	TypeLLMResponse:       {},
	TypeAlertTriggered:    {},
	TypeAlertResolved:     {},
	TypeCustom:            {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Event is the fundamental unit of data: an immutable, hash-chained fact
// emitted by an agent runtime. Within a (tenant, session) partition events
// form a strict singly-linked chain: each event's PrevHash equals the Hash
// of the event inserted immediately before it, and the first event's
// PrevHash is nil.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId"`
	EventType Type            `json:"eventType"`
	Severity  Severity        `json:"severity"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	PrevHash  *string         `json:"prevHash"`
	Hash      string          `json:"hash"`
	TenantID  string          `json:"tenantId,omitempty"`
}

// DecodePayload unmarshals the raw payload into the typed variant for the
// event's type.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Validate checks the static fields of an event. Hash and chain checks are
// the store's job; this only rejects events that could never be valid.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s: timestamp is required", e.ID)
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("event %s: session id is required", e.ID)
	}
	if strings.TrimSpace(e.AgentID) == "" {
		return fmt.Errorf("event %s: agent id is required", e.ID)
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("event %s: unknown event type %q", e.ID, e.EventType)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("event %s: unknown severity %q", e.ID, e.Severity)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("event %s: payload is not valid JSON", e.ID)
	}
	return nil
}
