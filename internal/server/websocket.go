package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analytics"
	"github.com/fleetsight/fleetsight/internal/metrics"
)

// WebSocket message types
const (
	MessageTypeRunCompleted = "run_completed"
	MessageTypeHeartbeat    = "heartbeat"
)

// WSMessage is an outbound event on the WebSocket stream.
type WSMessage struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunCompletedEvent summarizes a finished analysis run for subscribers.
type RunCompletedEvent struct {
	RunID            string   `json:"run_id"`
	Anomalous        []string `json:"anomalous_devices"`
	DevicesScored    int      `json:"devices_scored"`
	InsufficientData int      `json:"insufficient_data"`
	DurationMs       int64    `json:"duration_ms"`
}

// defaultAllowedOrigins applies when server.allowed_origins is unset.
var defaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Hub tracks connected WebSocket clients and fans out run events. The event
// stream is one-way; clients send nothing but control frames.
type Hub struct {
	ctx    context.Context
	logger *zap.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan WSMessage
	clients    map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
}

func newHub(ctx context.Context, logger *zap.Logger) *Hub {
	return &Hub{
		ctx:        ctx,
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan WSMessage, 16),
		clients:    make(map[*wsClient]struct{}),
	}
}

// run owns the client set; all membership changes go through the channels so
// no lock is needed.
func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.WebSocketConnections.Inc()

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WebSocketConnections.Dec()
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer, drop it.
					delete(h.clients, c)
					close(c.send)
					metrics.WebSocketConnections.Dec()
				}
			}
		}
	}
}

// broadcastRunCompleted publishes a run summary to all subscribers.
func (h *Hub) broadcastRunCompleted(result *analytics.Result) {
	event := RunCompletedEvent{
		RunID:            result.RunID,
		Anomalous:        result.Anomalous,
		DevicesScored:    len(result.Scored),
		InsufficientData: len(result.InsufficientData),
		DurationMs:       result.Duration.Milliseconds(),
	}
	select {
	case h.broadcast <- WSMessage{Type: MessageTypeRunCompleted, Payload: event, Timestamp: time.Now().UTC()}:
	case <-h.ctx.Done():
	}
}

// checkOrigin enforces the configured origin allowlist. Requests without an
// Origin header (curl, same-host tools) are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := s.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// handleEvents upgrades the connection and streams run events until the
// client disconnects or the server stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan WSMessage, 16)}

	select {
	case s.hub.register <- client:
	case <-s.ctx.Done():
		_ = conn.Close()
		return
	}

	go s.readPump(client)
	s.writePump(client)
}

// readPump drains control frames and detects disconnects.
func (s *Server) readPump(client *wsClient) {
	defer func() {
		select {
		case s.hub.unregister <- client:
		case <-s.ctx.Done():
		}
		_ = client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards hub messages and heartbeats to the client.
func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteJSON(WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}
