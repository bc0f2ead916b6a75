package wslive

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agentlens.local/projects/lens-gateway/internal/event"
)

func dialHub(t *testing.T, hub *Hub, tenantID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Add(tenantID, conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcastsToMatchingTenant(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	defer hub.Close()

	acme := dialHub(t, hub, "acme")
	globex := dialHub(t, hub, "globex")

	if err := hub.Handle(context.Background(), event.Event{
		ID:        "ev-1",
		SessionID: "sess-1",
		EventType: event.TypeToolCall,
		Severity:  event.SeverityInfo,
		TenantID:  "acme",
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	_ = acme.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := acme.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got event.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "ev-1" || got.TenantID != "acme" {
		t.Fatalf("got = %+v, want ev-1 for acme", got)
	}

	// The other tenant's connection stays silent.
	_ = globex.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := globex.ReadMessage(); err == nil {
		t.Fatal("globex received an acme event")
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	defer hub.Close()

	conn := dialHub(t, hub, "acme")
	_ = conn.Close()

	// Give the hub's read loop a moment to notice the close.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("closed client never removed from hub")
}
