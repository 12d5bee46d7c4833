package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Websocket defaults.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultSendQueue    = 64
)

// WebSocketOptions configures a WebSocketConnection.
type WebSocketOptions struct {
	// Transport is TransportWebSocket or TransportWebSocketXHR. Defaults to
	// TransportWebSocket.
	Transport Transport

	WriteTimeout time.Duration

	// PongWait is how long the connection may stay silent. Pings are sent
	// at nine tenths of it.
	PongWait time.Duration

	// SendQueue is the number of messages buffered for a slow client.
	SendQueue int

	// MaxMessageSize limits incoming messages. Zero means no limit.
	MaxMessageSize int64

	// OnMessage receives client messages read from the websocket. It is
	// only called for TransportWebSocket; the xhr variant ignores incoming
	// data messages.
	OnMessage func(msg []byte)

	Observer Observer
	Logger   *slog.Logger
}

// WebSocketConnection pushes messages over a gorilla websocket.
type WebSocketConnection struct {
	id   string
	conn *websocket.Conn
	opts WebSocketOptions

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	logger    *slog.Logger
}

// NewWebSocketConnection wraps an upgraded websocket. Call Run to start
// the read and write loops.
func NewWebSocketConnection(conn *websocket.Conn, opts WebSocketOptions) *WebSocketConnection {
	if opts.Transport == "" {
		opts.Transport = TransportWebSocket
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := newConnectionID()
	return &WebSocketConnection{
		id:     id,
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.SendQueue),
		done:   make(chan struct{}),
		logger: opts.Logger.With("push_id", id, "transport", string(opts.Transport)),
	}
}

// ID returns the connection id.
func (c *WebSocketConnection) ID() string { return c.id }

// Transport returns the configured transport.
func (c *WebSocketConnection) Transport() Transport { return c.opts.Transport }

// Push queues msg for the write loop. A client that cannot keep up is
// disconnected; it reconnects and catches up from the message cache.
func (c *WebSocketConnection) Push(syncID int, msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.logger.Warn("send queue full, disconnecting", "sync_id", syncID)
		c.Disconnect()
		return ErrQueueFull
	}
}

// IsConnected reports whether the websocket is open.
func (c *WebSocketConnection) IsConnected() bool {
	return !c.closed.Load()
}

// Disconnect stops both loops and closes the websocket.
func (c *WebSocketConnection) Disconnect() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.opts.Observer.Disconnected(c.opts.Transport)
	})
}

// Done is closed when the connection is disconnected.
func (c *WebSocketConnection) Done() <-chan struct{} {
	return c.done
}

// Run runs the read and write loops until the connection closes or ctx is
// done. It always disconnects and closes the websocket before returning.
func (c *WebSocketConnection) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.Disconnect()
		return c.readLoop()
	})
	g.Go(func() error {
		defer c.Disconnect()
		return c.writeLoop(gctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) || isNormalClose(err) {
		return nil
	}
	return err
}

func (c *WebSocketConnection) readLoop() error {
	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if kind != websocket.TextMessage {
			continue
		}
		if c.opts.Transport == TransportWebSocket && c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}

func (c *WebSocketConnection) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer ticker.Stop()
	// Closing the socket unblocks the read loop.
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Error("write error", "error", err)
				return err
			}
			c.opts.Observer.MessagePushed(c.opts.Transport, len(msg))

		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}

		case <-c.done:
			c.writeClose()
			return nil

		case <-ctx.Done():
			c.writeClose()
			return ctx.Err()
		}
	}
}

func (c *WebSocketConnection) writeClose() {
	deadline := time.Now().Add(c.opts.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
