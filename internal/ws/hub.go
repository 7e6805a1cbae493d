package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"player-portal/internal/models"
	"player-portal/internal/observability"
)

const wsRoutingKey = "ws_events.portal"

// Hub keeps the connected clients of every user and fans events out to them.
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

// Register adds a client under its user id.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.info.UserID]; !ok {
		h.clients[c.info.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.info.UserID][c] = struct{}{}
}

// Unregister removes the client and closes its queue. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.info.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.info.UserID)
		}
	}
	h.mu.Unlock()
	c.closeSend()
}

// NotifyUsers sends ev to every connection of the given users.
func (h *Hub) NotifyUsers(userIDs []string, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("websocket event encode failed", slog.String("event", ev.Type), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	var targets []*Client
	for _, id := range userIDs {
		for c := range h.clients[id] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, payload, ev.Type)
}

// NotifyAll sends ev to every connected client.
func (h *Hub) NotifyAll(ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("websocket event encode failed", slog.String("event", ev.Type), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	var targets []*Client
	for _, conns := range h.clients {
		for c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, payload, ev.Type)
}

// deliver never blocks: a client whose queue is full is dropped.
func (h *Hub) deliver(targets []*Client, payload []byte, event string) {
	for _, c := range targets {
		if c.enqueue(payload) {
			observability.IncWSEvent(event)
			continue
		}
		slog.Warn("websocket client too slow, disconnecting",
			slog.String("conn_id", c.info.ConnID),
			slog.String("user_id", c.info.UserID))
		h.Unregister(c)
		h.publishWSError(c.info, "send queue full")
	}
}

// Connections reports how many connections userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) publishWSError(info ConnInfo, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   info.payload("ws_error", reason),
	}, headers)
	observability.IncWSEvent("ws_error")
}
