// Package wslive broadcasts committed events to websocket clients for live
// dashboards. Clients only receive events belonging to their own tenant.
package wslive

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentlens.local/projects/lens-gateway/internal/event"
)

const writeTimeout = 5 * time.Second

type client struct {
	tenantID string
	conn     *websocket.Conn
	mu       sync.Mutex
}

type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string {
	return "websocket"
}

// Add registers a connection for a tenant and holds it open until the
// peer disconnects. Reads are drained and discarded; the feed is one-way.
func (h *Hub) Add(tenantID string, conn *websocket.Conn) {
	c := &client{tenantID: tenantID, conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Handle implements subscribers.Subscriber: broadcast the event to every
// connection scoped to its tenant.
func (h *Hub) Handle(_ context.Context, ev event.Event) error {
	encoded, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.tenantID == ev.TenantID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, encoded)
		c.mu.Unlock()
		if err != nil {
			h.logger.Printf("websocket write failed tenant=%s err=%v", c.tenantID, err)
			h.remove(c)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}
