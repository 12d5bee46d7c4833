package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
)

// Run keeps the client connected until ctx is done, Close is called or the
// session expires. It sends debounced events, heartbeats, receives pushed
// messages, and asks for a resynchronization when a missing message does
// not arrive in time.
//
// Run returns nil when stopped by ctx or Close, and ErrSessionExpired when
// the server dropped the UI.
func (c *Client) Run(ctx context.Context) error {
	if c.expired.Load() {
		return ErrSessionExpired
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-c.done:
			return ErrClosed
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error { return c.sendLoop(gctx) })
	if c.hs.HeartbeatInterval > 0 {
		g.Go(func() error { return c.heartbeatLoop(gctx) })
	}
	if c.hs.Push.Mode != push.ModeDisabled.String() {
		g.Go(func() error { return c.pushLoop(gctx) })
	}

	err := g.Wait()
	switch {
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return nil
	case c.expired.Load():
		return ErrSessionExpired
	}
	return err
}

func (c *Client) sendLoop(ctx context.Context) error {
	interval := c.messages.maxSuspend / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.flushCh:
			err = c.send(ctx, false)
		case <-c.resyncCh:
			err = c.send(ctx, true)
		case now := <-ticker.C:
			if c.expired.Load() {
				return ErrSessionExpired
			}
			c.mu.Lock()
			expired := c.messages.Expired(now)
			c.mu.Unlock()
			if expired {
				err = c.send(ctx, true)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrClosed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			c.logger.Warn("send failed", "error", err)
		}
	}
}

// Heartbeat tells the server the UI is still open.
func (c *Client) Heartbeat(ctx context.Context) error {
	if c.hs.HeartbeatURL == "" {
		return nil
	}
	_, err := c.post(ctx, c.resolve(c.hs.HeartbeatURL), nil)
	if errors.Is(err, ErrSessionExpired) {
		c.expire()
	}
	return err
}

func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(c.hs.HeartbeatInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := c.Heartbeat(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionExpired):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			c.logger.Warn("heartbeat failed", "error", err)
		}
	}
}

// pushLoop receives pushed messages over the announced transport, falling
// back to long polling when the websocket cannot be opened.
func (c *Client) pushLoop(ctx context.Context) error {
	transport := push.Transport(c.hs.Push.Transport)
	if transport.UsesWebSocket() {
		err := c.websocketLoop(ctx, transport)
		if err == nil || ctx.Err() != nil || errors.Is(err, ErrSessionExpired) {
			return err
		}
		if push.Transport(c.hs.Push.Fallback) != push.TransportLongPolling {
			return err
		}
		c.logger.Warn("websocket push unavailable, falling back to long polling", "error", err)
	}
	return c.pollLoop(ctx)
}

func (c *Client) websocketURL(transport push.Transport) string {
	u, err := url.Parse(c.resolve(c.hs.Push.URL))
	if err != nil {
		return c.resolve(c.hs.Push.URL)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"transport": {string(transport)}}.Encode()
	return u.String()
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(func() error {
		ws, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return retry.Unrecoverable(fmt.Errorf("%w: push endpoint returned 404", ErrSessionExpired))
			}
			return err
		}
		conn = ws
		return nil
	}, c.retryOptions(ctx)...)
	return conn, err
}

// websocketLoop reads pushed messages and reconnects after connection
// loss. It returns an error without ever connecting when the first dial
// fails.
func (c *Client) websocketLoop(ctx context.Context, transport push.Transport) error {
	target := c.websocketURL(transport)
	connected := false
	for {
		conn, err := c.dial(ctx, target)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				c.expire()
				return ErrSessionExpired
			}
			if connected && ctx.Err() == nil {
				return fmt.Errorf("client: push reconnect: %w", err)
			}
			return err
		}
		connected = true
		c.logger.Debug("push connected", "transport", string(transport))

		err = c.readPushed(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("push connection lost, reconnecting", "error", err)
	}
}

func (c *Client) readPushed(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn("dropping undecodable push message", "error", err)
			continue
		}
		c.deliver(msg)
		if c.expired.Load() {
			return ErrSessionExpired
		}
	}
}

func (c *Client) pollURL() string {
	return c.resolve(strings.TrimSuffix(c.hs.UIDLURL, "/uidl") + "/poll")
}

func (c *Client) pollLoop(ctx context.Context) error {
	target := c.pollURL()
	for {
		var msgs []json.RawMessage
		err := retry.Do(func() error {
			var err error
			msgs, err = c.poll(ctx, target, c.LastSeen())
			return err
		}, c.retryOptions(ctx)...)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrSessionExpired):
			c.expire()
			return err
		case err != nil:
			return fmt.Errorf("client: long poll: %w", err)
		}
		for _, raw := range msgs {
			msg, err := protocol.DecodeServerMessage(raw)
			if err != nil {
				c.logger.Warn("dropping undecodable poll message", "error", err)
				continue
			}
			c.deliver(msg)
		}
		if c.expired.Load() {
			return ErrSessionExpired
		}
	}
}

func (c *Client) poll(ctx context.Context, target string, lastSeen int) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"?lastSeen="+strconv.Itoa(lastSeen), nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, retry.Unrecoverable(ErrSessionExpired)
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return nil, err
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("client: poll response: %w", err))
	}
	return msgs, nil
}
