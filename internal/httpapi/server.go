package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"agentlens.local/projects/lens-gateway/internal/audit"
	"agentlens.local/projects/lens-gateway/internal/event"
	"agentlens.local/projects/lens-gateway/internal/store"
	"agentlens.local/projects/lens-gateway/internal/subscribers/wslive"
	"agentlens.local/projects/lens-gateway/internal/tenant"
)

// TenantHeader carries the caller's tenant id. How an absent header is
// treated depends on the configured tenant mode.
const TenantHeader = "X-AgentLens-Tenant"

const maxRequestBytes int64 = 8 << 20

type server struct {
	logger     *log.Logger
	store      *store.Store
	verifier   *audit.Verifier
	hub        *wslive.Hub
	tenantMode tenant.Mode
}

func NewServer(logger *log.Logger, addr string, st *store.Store, verifier *audit.Verifier, hub *wslive.Hub, tenantMode tenant.Mode) *http.Server {
	h := &server{
		logger:     logger,
		store:      st,
		verifier:   verifier,
		hub:        hub,
		tenantMode: tenantMode,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/events", h.handleEvents)
	mux.HandleFunc("/v1/events/ws", h.handleEventsWS)
	mux.HandleFunc("/v1/sessions", h.handleSessions)
	mux.HandleFunc("/v1/sessions/", h.handleSessionByID)
	mux.HandleFunc("/v1/agents", h.handleAgents)
	mux.HandleFunc("/v1/agents/", h.handleAgentByID)
	mux.HandleFunc("/v1/audit/verify", h.handleVerify)
	mux.HandleFunc("/v1/stats", h.handleStats)
	mux.HandleFunc("/v1/analytics", h.handleAnalytics)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) scope(r *http.Request) (*tenant.Scoped, error) {
	tenantID, err := tenant.Resolve(s.tenantMode, s.logger, r.Header.Get(TenantHeader))
	if err != nil {
		return nil, err
	}
	return tenant.Scope(s.store, tenantID)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleQueryEvents(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}

	batch, err := decodeEventBatch(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(batch) == 0 {
		http.Error(w, "empty batch", http.StatusBadRequest)
		return
	}

	inserted, err := scoped.InsertEvents(r.Context(), batch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"inserted": inserted,
		"received": len(batch),
	})
}

// decodeEventBatch accepts either one event object or an array of events.
func decodeEventBatch(body []byte) ([]event.Event, error) {
	trimmed := strings.TrimLeftFunc(string(body), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()

	var batch []event.Event
	if strings.HasPrefix(trimmed, "[") {
		if err := dec.Decode(&batch); err != nil {
			return nil, err
		}
	} else {
		var single event.Event
		if err := dec.Decode(&single); err != nil {
			return nil, err
		}
		batch = []event.Event{single}
	}
	if dec.More() {
		return nil, errors.New("trailing content")
	}
	return batch, nil
}

func (s *server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := store.EventFilter{
		SessionID: strings.TrimSpace(q.Get("sessionId")),
		AgentID:   strings.TrimSpace(q.Get("agentId")),
		Search:    strings.TrimSpace(q.Get("search")),
		Order:     store.Order(strings.TrimSpace(q.Get("order"))),
	}
	for _, raw := range splitCSV(q.Get("eventType")) {
		filter.EventTypes = append(filter.EventTypes, event.Type(raw))
	}
	for _, raw := range splitCSV(q.Get("severity")) {
		filter.Severities = append(filter.Severities, event.Severity(raw))
	}
	if filter.From, err = parseTimeParam(q, "from"); err != nil {
		writeError(w, err)
		return
	}
	if filter.To, err = parseTimeParam(q, "to"); err != nil {
		writeError(w, err)
		return
	}
	if filter.Limit, err = parseIntParam(q, "limit"); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = parseIntParam(q, "offset"); err != nil {
		writeError(w, err)
		return
	}

	page, err := scoped.QueryEvents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hub == nil {
		http.Error(w, "live feed not configured", http.StatusNotImplemented)
		return
	}
	tenantID, err := tenant.Resolve(s.tenantMode, s.logger, r.Header.Get(TenantHeader))
	if err != nil {
		writeError(w, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("events ws upgrade failed: %v", err)
		return
	}
	s.hub.Add(tenantID, conn)
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := store.SessionFilter{
		AgentID: strings.TrimSpace(q.Get("agentId")),
		Tags:    splitCSV(q.Get("tags")),
	}
	for _, raw := range splitCSV(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, store.SessionStatus(raw))
	}
	if filter.From, err = parseTimeParam(q, "from"); err != nil {
		writeError(w, err)
		return
	}
	if filter.To, err = parseTimeParam(q, "to"); err != nil {
		writeError(w, err)
		return
	}
	if filter.Limit, err = parseIntParam(q, "limit"); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = parseIntParam(q, "offset"); err != nil {
		writeError(w, err)
		return
	}

	page, err := scoped.QuerySessions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	sessionID, sub, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	switch sub {
	case "":
		record, err := scoped.GetSession(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case "timeline":
		events, err := scoped.GetSessionTimeline(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": sessionID,
			"events":    events,
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	limit, err := parseIntParam(q, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := parseIntParam(q, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	agents, err := scoped.ListAgents(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type agentControlsBody struct {
	ModelOverride *string `json:"modelOverride"`
	Paused        *bool   `json:"paused"`
	PauseReason   string  `json:"pauseReason"`
}

func (s *server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	agentID := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	if agentID == "" || strings.Contains(agentID, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		record, err := scoped.GetAgent(r.Context(), agentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodPatch:
		defer r.Body.Close()
		var body agentControlsBody
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
			return
		}
		var pausedAt *time.Time
		if body.Paused != nil && *body.Paused {
			now := time.Now().UTC()
			pausedAt = &now
		}
		record, err := scoped.UpdateAgentControls(r.Context(), agentID, body.ModelOverride, pausedAt, body.PauseReason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID, err := tenant.Resolve(s.tenantMode, s.logger, r.Header.Get(TenantHeader))
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	params := audit.Params{SessionID: strings.TrimSpace(q.Get("sessionId"))}
	if params.From, err = parseTimeParam(q, "from"); err != nil {
		writeError(w, err)
		return
	}
	if params.To, err = parseTimeParam(q, "to"); err != nil {
		writeError(w, err)
		return
	}

	report, err := s.verifier.Verify(r.Context(), tenantID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := scoped.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scoped, err := s.scope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	query := store.AnalyticsQuery{
		Granularity: store.Granularity(strings.TrimSpace(q.Get("granularity"))),
		AgentID:     strings.TrimSpace(q.Get("agentId")),
	}
	if query.From, err = parseTimeParam(q, "from"); err != nil {
		writeError(w, err)
		return
	}
	if query.To, err = parseTimeParam(q, "to"); err != nil {
		writeError(w, err)
		return
	}

	buckets, err := scoped.GetAnalytics(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrChainIntegrity):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseTimeParam(q url.Values, key string) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", store.ErrValidation, key)
	}
	return parsed, nil
}

func parseIntParam(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", store.ErrValidation, key)
	}
	return parsed, nil
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
