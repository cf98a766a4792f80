package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ergo-live/internal/observability"
)

// Feed event names.
const (
	EventInfo       = "info"
	EventMempoolTxs = "mempoolTxs"
)

// Event is a server-pushed socket.io event.
type Event struct {
	Name string
	Data json.RawMessage
}

// FeedConfig configures push feed behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is used until the server announces its ping schedule.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// Buffer is the capacity of the events channel.
	Buffer int
}

// DefaultFeedConfig returns default push feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		Buffer:            64,
	}
}

// Feed is a socket.io client for the explorer push feed.
// Events are delivered in arrival order; the connection is re-established with
// exponential backoff until the context passed to Run is cancelled.
type Feed struct {
	endpoint string
	config   FeedConfig
	logger   *zap.Logger

	events chan Event

	conn   *websocket.Conn
	connMu sync.Mutex

	connected atomic.Bool
	dials     atomic.Uint64
}

// NewFeed creates a push feed for the given base URL (http, https, ws or wss).
func NewFeed(endpoint string, config *FeedConfig, logger *zap.Logger) (*Feed, error) {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := socketURL(endpoint)
	if err != nil {
		return nil, err
	}
	return &Feed{
		endpoint: u,
		config:   cfg,
		logger:   logger.Named("feed"),
		events:   make(chan Event, cfg.Buffer),
	}, nil
}

// Events returns the event channel. It is closed when Run returns.
func (f *Feed) Events() <-chan Event {
	return f.events
}

// Connected reports whether a socket.io session is currently established.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// Run connects and reads events until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.events)

	go func() {
		<-ctx.Done()
		f.connMu.Lock()
		if f.conn != nil {
			f.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			f.conn.Close()
		}
		f.connMu.Unlock()
	}()

	reconnectDelay := f.config.ReconnectDelay
	for {
		received, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// Reset delay once a session made progress.
		if received {
			reconnectDelay = f.config.ReconnectDelay
		}
		f.logger.Warn("push feed disconnected",
			zap.Error(err),
			zap.Duration("retry_in", reconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > f.config.MaxReconnectDelay {
			reconnectDelay = f.config.MaxReconnectDelay
		}
	}
}

// session runs one connection. received reports whether any event arrived.
func (f *Feed) session(ctx context.Context) (received bool, err error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		f.connected.Store(false)
		observability.SetFeedConnected(false)
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	readTimeout := f.config.ReadTimeout
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read: %w", err)
		}

		p, err := decodePacket(message)
		if err != nil {
			f.logger.Debug("skipping malformed packet", zap.Error(err))
			continue
		}

		switch p.eio {
		case eioOpen:
			var open openPayload
			if err := json.Unmarshal(p.data, &open); err == nil && open.PingInterval > 0 {
				readTimeout = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
			}
			if err := f.write(conn, []byte{eioMessage, sioConnect}); err != nil {
				return received, fmt.Errorf("write connect: %w", err)
			}
		case eioPing:
			if err := f.write(conn, []byte{eioPong}); err != nil {
				return received, fmt.Errorf("write pong: %w", err)
			}
		case eioClose:
			return received, fmt.Errorf("server closed session")
		case eioMessage:
			switch p.sio {
			case sioConnect:
				f.connected.Store(true)
				observability.SetFeedConnected(true)
				f.logger.Info("connected to push feed", zap.String("endpoint", f.endpoint))
			case sioConnectError:
				return received, fmt.Errorf("connect error: %s", string(p.data))
			case sioDisconnect:
				return received, fmt.Errorf("server disconnected namespace")
			case sioEvent:
				received = true
				select {
				case f.events <- Event{Name: p.event, Data: p.data}:
				case <-ctx.Done():
					return received, ctx.Err()
				}
			}
		}
	}
}

// connect establishes the websocket connection.
func (f *Feed) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: f.config.HandshakeTimeout,
	}

	f.dials.Add(1)
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return conn, nil
}

func (f *Feed) write(conn *websocket.Conn, msg []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
