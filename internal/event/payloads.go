package event

// Typed payload variants, one per event type. The wire payload is free-form
// JSON; these are the structural schemas producers are expected to follow
// and consumers decode with Event.DecodePayload.

type SessionStartedPayload struct {
	AgentName string         `json:"agentName,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

type SessionEndedPayload struct {
	Reason  string `json:"reason,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// SessionEndReasonError marks a session as having ended in failure; any
// other reason resolves to a completed session.
const SessionEndReasonError = "error"

type ToolCallPayload struct {
	ToolName string         `json:"toolName"`
	CallID   string         `json:"callId,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
}

type ToolResponsePayload struct {
	ToolName   string         `json:"toolName"`
	CallID     string         `json:"callId,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

type ToolErrorPayload struct {
	ToolName   string `json:"toolName"`
	CallID     string `json:"callId,omitempty"`
	Error      string `json:"error"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type CostTrackedPayload struct {
	CostUsd     float64 `json:"costUsd"`
	Description string  `json:"description,omitempty"`
}

type TokenUsage struct {
	InputTokens      int64 `json:"inputTokens"`
	OutputTokens     int64 `json:"outputTokens"`
	TotalTokens      int64 `json:"totalTokens"`
	ThinkingTokens   int64 `json:"thinkingTokens,omitempty"`
	CacheReadTokens  int64 `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int64 `json:"cacheWriteTokens,omitempty"`
}

type LLMMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type LLMCallPayload struct {
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Messages     []LLMMessage   `json:"messages,omitempty"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

type LLMResponsePayload struct {
	Provider     string      `json:"provider,omitempty"`
	Model        string      `json:"model,omitempty"`
	Completion   string      `json:"completion,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	CostUsd      float64     `json:"costUsd,omitempty"`
	LatencyMs    float64     `json:"latencyMs,omitempty"`
}

type ApprovalPayload struct {
	ApprovalID string `json:"approvalId"`
	Action     string `json:"action,omitempty"`
	Requester  string `json:"requester,omitempty"`
	DecidedBy  string `json:"decidedBy,omitempty"`
}

type FormPayload struct {
	FormID string         `json:"formId"`
	Fields map[string]any `json:"fields,omitempty"`
}

type AlertPayload struct {
	RuleID  string `json:"ruleId"`
	Message string `json:"message,omitempty"`
}

type CustomPayload struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}
