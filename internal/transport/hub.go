package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"stockwatch/internal/domain"
	"stockwatch/internal/metrics"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds a single frame write to a client.
	writeTimeout = 10 * time.Second
	// pongWait is how long a client may stay silent before it is treated as gone.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy belongs to the reverse proxy in front of the API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub keeps websocket clients and broadcasts every published event to them.
// Params: per-client buffer depth and logger.
// Returns: transport sink and http.Handler for the upgrade endpoint.
type Hub struct {
	sendBuffer int
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates websocket hub.
// Params: per-client outgoing buffer depth (<=0 uses default) and logger.
// Returns: hub with no clients.
func NewHub(sendBuffer int, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sendBuffer: sendBuffer,
		logger:     logger.With("component", "transport", "sink", "websocket"),
		clients:    make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades request and serves client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Publish broadcasts event to all connected clients; clients with full buffers are dropped.
// Params: context (unused, broadcast never blocks) and event.
// Returns: encode error.
func (h *Hub) Publish(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("websocket", string(event.Kind), "failure").Inc()
		return fmt.Errorf("marshal websocket event: %w", err)
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !h.offer(c, data) {
			h.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			h.unregister(c)
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues("websocket", string(event.Kind), "success").Inc()
	return nil
}

// offer queues data without blocking; send channel may already be closed by unregister.
func (h *Hub) offer(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Count returns number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WebSocketClients.Set(0)
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.WebSocketClients.Set(float64(len(h.clients)))
	}
}

// writePump forwards queued messages and sends periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
