// Package ws delivers match events to connected clients over per-user
// websocket channels.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spotex/internal/engine"
)

// EventOrderMatched is the event name carried by every match message.
const EventOrderMatched = "order.matched"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// envelope is the wire format of a pushed event.
type envelope struct {
	Event string            `json:"event"`
	Data  engine.MatchEvent `json:"data"`
}

// Hub tracks connected clients by user and implements engine.Notifier.
// A user may hold several connections; each receives every event.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[int]map[*client]bool
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, clients: make(map[int]map[*client]bool)}
}

// NotifyMatch publishes a match event to every connection of userID.
// Connections that fail to accept the write are dropped.
func (h *Hub) NotifyMatch(userID int, event engine.MatchEvent) {
	data, err := json.Marshal(envelope{Event: EventOrderMatched, Data: event})
	if err != nil {
		h.log.Error("failed to marshal match event", zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(data); err != nil {
			h.log.Warn("dropping websocket client", zap.Int("user_id", userID), zap.Error(err))
			h.remove(userID, c)
			c.conn.Close()
		}
	}
}

// Handler returns the websocket endpoint. authenticate resolves the request
// to a user id; connections it rejects are refused.
func (h *Hub) Handler(authenticate func(r *http.Request) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticate(r)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		c := &client{conn: conn}
		h.add(userID, c)
		h.log.Info("websocket client connected", zap.Int("user_id", userID))

		// Block until the peer goes away; inbound messages are ignored.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.remove(userID, c)
		conn.Close()
	}
}

func (h *Hub) add(userID int, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]bool)
	}
	h.clients[userID][c] = true
}

func (h *Hub) remove(userID int, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[userID], c)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}
