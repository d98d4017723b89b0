package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Joiner hands a newly connected client the current state atomically with
// respect to broadcasts.
type Joiner interface {
	Join(fn func(domain.DashboardState))
}

// WebSocketHandler upgrades dashboard subscribers and streams updates.
type WebSocketHandler struct {
	hub            *Hub
	joiner         Joiner
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *Hub, joiner Joiner, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		joiner:         joiner,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "subscription ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	c := newClient()
	h.joiner.Join(func(state domain.DashboardState) {
		h.hub.register(c, state)
	})
	defer h.hub.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.writeLoop(ctx, ws, c)
	}()
	h.readLoop(ctx, ws, c.id)
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write error", "error", err, "client_id", c.id)
				return
			}
		}
	}
}

// readLoop answers pings and returns when the client goes away. Clients
// send nothing else.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, clientID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "client_id", clientID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "client_id", clientID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
