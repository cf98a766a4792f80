package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ergo-live/internal/observability"
	"ergo-live/internal/presentation"
)

// Stream timing.
const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
	streamBuffer     = 256
)

// Stream message types.
const (
	MessageBacklog  = "backlog"
	MessageDelivery = "delivery"
)

// StreamMessage is the envelope of every websocket frame.
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Backlog supplies the recently displayed items sent to new clients.
type Backlog interface {
	Displayed() []presentation.Delivery
}

// Hub fans deliveries out to websocket clients. A client whose buffer is
// full is disconnected; it can reconnect and backfill from the backlog.
// Renderers should dedupe by Seq since a delivery racing a connect can
// appear both in the backlog and as a live message.
type Hub struct {
	backlog  Backlog
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

var _ presentation.Sink = (*Hub)(nil)

// NewHub creates a hub. backlog may be nil.
func NewHub(backlog Backlog, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		backlog: backlog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Deliver implements presentation.Sink. It never blocks on a client.
func (h *Hub) Deliver(_ context.Context, d presentation.Delivery) error {
	msg, err := json.Marshal(StreamMessage{Type: MessageDelivery, Data: d})
	if err != nil {
		return fmt.Errorf("marshal stream delivery: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("stream client too slow, disconnecting",
				zap.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// removeLocked must be called with mu held.
func (h *Hub) removeLocked(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	observability.AddStreamClients(-1)
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// Serve upgrades the request and streams deliveries until the client leaves.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("stream upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan []byte, streamBuffer),
		done: make(chan struct{}),
	}

	if !h.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(streamWriteWait))
		conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

// register adds c and queues the backlog ahead of any live delivery.
func (h *Hub) register(c *streamClient) bool {
	var backlog []presentation.Delivery
	if h.backlog != nil {
		backlog = h.backlog.Displayed()
	}
	if backlog == nil {
		backlog = []presentation.Delivery{}
	}
	msg, err := json.Marshal(StreamMessage{Type: MessageBacklog, Data: backlog})
	if err != nil {
		h.logger.Error("marshal stream backlog", zap.Error(err))
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	c.send <- msg
	h.clients[c] = struct{}{}
	observability.AddStreamClients(1)
	return true
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *streamClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}
