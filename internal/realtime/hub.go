// Package realtime pushes per-user events to browser websocket connections.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JonMunkholm/livpulse/internal/core"
)

// Message is the frame written to clients.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Hub tracks live connections by user id. A user may hold several.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*client]struct{}
}

var _ core.Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{clients: make(map[int64]map[*client]struct{})}
}

// Notify delivers the event to this instance's connections of userID.
func (h *Hub) Notify(_ context.Context, userID int64, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	h.Deliver(userID, event, data)
	return nil
}

// Deliver writes an already encoded payload to every connection of userID.
// Connections whose send buffer is full are dropped.
func (h *Hub) Deliver(userID int64, event string, payload json.RawMessage) {
	frame, err := json.Marshal(Message{Type: event, Data: payload})
	if err != nil {
		slog.Error("encode websocket frame failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients[userID] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("dropping slow websocket client", "user_id", userID)
		h.unregister(c)
	}
}

// Connections returns the number of live connections for userID.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[int64]map[*client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.user.ID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.user.ID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.user.ID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.user.ID)
		}
	}
	h.mu.Unlock()
	c.close()
}
