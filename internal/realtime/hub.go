// Package realtime pushes dashboard state to connected websocket clients.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/google/uuid"
)

// EventDashboardUpdate is the only event clients receive.
const EventDashboardUpdate = "dashboard-update"

const clientQueueSize = 16

// Frame is the wire envelope of every pushed message.
type Frame struct {
	Event string                `json:"event"`
	Data  domain.DashboardState `json:"data"`
}

// Hub fans each broadcast out to every registered client.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

// Broadcast sends the full state to every client. It never blocks on a
// slow client; that client's oldest queued frames are dropped instead.
func (h *Hub) Broadcast(state domain.DashboardState) {
	frame, err := encodeFrame(state)
	if err != nil {
		h.logger.Error("Failed to encode dashboard frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if dropped := c.enqueue(frame); dropped {
			h.logger.Debug("Slow websocket client, dropped stale frame", "client_id", c.id)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds c and queues state as its first frame.
func (h *Hub) register(c *client, state domain.DashboardState) {
	frame, err := encodeFrame(state)
	if err != nil {
		h.logger.Error("Failed to encode initial dashboard frame", "error", err, "client_id", c.id)
	} else {
		c.enqueue(frame)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.logger.Info("Dashboard client connected", "client_id", c.id, "clients", len(h.clients))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[c.id]; ok && current == c {
		delete(h.clients, c.id)
		c.close()
		h.logger.Info("Dashboard client disconnected", "client_id", c.id, "clients", len(h.clients))
	}
}

func encodeFrame(state domain.DashboardState) ([]byte, error) {
	return json.Marshal(Frame{Event: EventDashboardUpdate, Data: state.Normalize()})
}

// client is one connection's outbound queue. The queue keeps the newest
// frames; every frame is a full state so dropping old ones loses nothing.
type client struct {
	id   string
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient() *client {
	return &client{
		id:   uuid.NewString(),
		send: make(chan []byte, clientQueueSize),
	}
}

// enqueue queues frame and reports whether an older frame was dropped.
func (c *client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	dropped := false
	for {
		select {
		case c.send <- frame:
			return dropped
		default:
		}
		select {
		case <-c.send:
			dropped = true
		default:
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
