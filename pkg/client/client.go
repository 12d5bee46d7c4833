package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/protocol"
)

var (
	// ErrSessionExpired is returned once the server no longer knows the UI.
	ErrSessionExpired = errors.New("client: session expired")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")

	// ErrRejected is returned when the server refuses a request; resending
	// it would not help.
	ErrRejected = errors.New("client: request rejected")

	// ErrNoListener is returned by Fire for events nobody listens to.
	ErrNoListener = errors.New("client: no listener for event")

	// ErrNotPublished is returned by Call for methods the node does not
	// publish.
	ErrNotPublished = errors.New("client: method not published")

	// ErrNoJS is reported to the server for JS executions when no
	// Options.ExecuteJS is configured.
	ErrNoJS = errors.New("client: JS execution not supported")
)

// CallError is a rejected server method call.
type CallError struct {
	Method  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("client: call %s: %s", e.Method, e.Message)
}

// Options configures a Client.
type Options struct {
	// BaseURL is where the server handler is mounted, such as
	// "http://localhost:8080".
	BaseURL string

	// Location is the initial location reported in the handshake.
	Location string

	// HTTPClient is used for all requests. A cookie jar is added when it
	// has none. Default: a new http.Client.
	HTTPClient *http.Client

	// Dialer opens websocket push connections.
	// Default: websocket.DefaultDialer settings.
	Dialer *websocket.Dialer

	Logger *slog.Logger

	// RetryAttempts is how often a request is tried before giving up.
	// Default: 5.
	RetryAttempts uint

	// RetryDelay is the first delay between attempts; later delays back
	// off exponentially. Default: 100ms.
	RetryDelay time.Duration

	// MaxSuspend overrides the handshake's limit for waiting on a missing
	// message.
	MaxSuspend time.Duration

	// ExecuteJS runs JS expressions sent by the server. It is called with
	// the client lock held and must not call back into the Client.
	ExecuteJS func(expr string, args []any) (any, error)

	// OnMessage is called after each server message was applied.
	OnMessage func(*protocol.ServerMessage)

	// OnAppError is called with errors the server reports for failed
	// handlers.
	OnAppError func(*protocol.ErrorMessage)
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Dialer == nil {
		d := *websocket.DefaultDialer
		o.Dialer = &d
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	return o
}

type debounceKey struct {
	node    dom.NodeID
	event   string
	filter  string
	timeout int64
}

type promiseResult struct {
	value json.RawMessage
	err   error
}

// Client is a headless browser for one UI. It keeps a mirror of the
// server tree, sends events and property values, and receives pushed
// changes.
//
// Client messages are numbered and sent one at a time. A request that
// fails is resent with the same number, so the server either processes it
// once or answers with its cached response.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
	base   *url.URL
	hs     *protocol.Handshake

	mu         sync.Mutex
	tree       *Tree
	messages   *MessageHandler
	queue      []protocol.Invocation
	debouncers map[debounceKey]*timedDebouncer
	promises   map[int]chan promiseResult
	calls      map[int]string
	nextCall   int

	// sendMu keeps one request in flight and guards clientID.
	sendMu   sync.Mutex
	clientID int

	flushCh   chan struct{}
	resyncCh  chan struct{}
	expired   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial creates a UI on the server and returns a client for it, with the
// initial tree applied.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	hc := *opts.HTTPClient
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc.Jar = jar
	}
	if opts.Dialer.Jar == nil {
		opts.Dialer.Jar = hc.Jar
	}

	c := &Client{
		opts:       opts,
		http:       &hc,
		logger:     opts.Logger,
		base:       base,
		tree:       NewTree(),
		debouncers: make(map[debounceKey]*timedDebouncer),
		promises:   make(map[int]chan promiseResult),
		calls:      make(map[int]string),
		flushCh:    make(chan struct{}, 1),
		resyncCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	body, err := json.Marshal(protocol.HandshakeRequest{
		Location:   opts.Location,
		Transports: []string{"websocket", "long-polling", "websocket-xhr"},
	})
	if err != nil {
		return nil, err
	}
	var hs *protocol.Handshake
	err = retry.Do(func() error {
		data, err := c.post(ctx, c.base.String()+"/ui", body)
		if err != nil {
			return err
		}
		if hs, err = protocol.DecodeHandshake(data); err != nil {
			return retry.Unrecoverable(err)
		}
		return nil
	}, c.retryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("client: handshake: %w", err)
	}
	if hs.Version != protocol.Version {
		return nil, fmt.Errorf("client: server speaks protocol %d, want %d", hs.Version, protocol.Version)
	}
	c.hs = hs

	maxSuspend := opts.MaxSuspend
	if maxSuspend <= 0 {
		maxSuspend = time.Duration(hs.MaxMessageSuspend) * time.Millisecond
	}
	c.logger = c.logger.With("ui_id", hs.UIID)
	c.messages = NewMessageHandler(maxSuspend, c.logger)
	if hs.Initial != nil {
		c.deliver(hs.Initial)
	}
	c.logger.Debug("UI created", "push", hs.Push.Mode, "transport", hs.Push.Transport)
	return c, nil
}

// UIID returns the id of the server UI.
func (c *Client) UIID() string { return c.hs.UIID }

// Handshake returns the server's handshake.
func (c *Client) Handshake() *protocol.Handshake { return c.hs }

// View runs fn with the mirror. fn must not keep the tree or its nodes.
func (c *Client) View(fn func(*Tree)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.tree)
}

// HTML renders the mirror.
func (c *Client) HTML() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.HTML()
}

// LastSeen returns the sync id of the last applied server message.
func (c *Client) LastSeen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages.LastSeen()
}

// Expired reports whether the server dropped the UI.
func (c *Client) Expired() bool { return c.expired.Load() }

func (c *Client) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(c.opts.RetryAttempts),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying request", "attempt", n+1, "error", err)
		}),
	}
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(ref).String()
}

// post sends body and returns the response body. Client errors are
// unrecoverable; server errors and transport failures may be retried.
func (c *Client) post(ctx context.Context, target string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return data, statusError(resp.StatusCode, data)
}

func statusError(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusGone:
		return retry.Unrecoverable(ErrSessionExpired)
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("client: server returned %d", status)
	}
	msg := http.StatusText(status)
	var em protocol.ErrorMessage
	if json.Unmarshal(body, &em) == nil && em.Message != "" {
		msg = em.Message
	}
	return retry.Unrecoverable(fmt.Errorf("%w: %d %s", ErrRejected, status, msg))
}

// Flush sends the queued invocations.
func (c *Client) Flush(ctx context.Context) error {
	return c.send(ctx, false)
}

// Resync asks the server for the full tree.
func (c *Client) Resync(ctx context.Context) error {
	return c.send(ctx, true)
}

// Refresh sends a message even when nothing is queued, to pick up changes
// made on the server outside a request when push is disabled.
func (c *Client) Refresh(ctx context.Context) error {
	return c.exchange(ctx, false, true)
}

func (c *Client) send(ctx context.Context, resync bool) error {
	return c.exchange(ctx, resync, false)
}

// exchange posts the queued invocations and delivers the response. An
// empty queue is only sent when always is set.
func (c *Client) exchange(ctx context.Context, resync, always bool) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.expired.Load() {
		return ErrSessionExpired
	}

	c.mu.Lock()
	rpc := c.queue
	c.queue = nil
	syncID := c.messages.LastSeen()
	if resync {
		c.messages.ResyncRequested()
	}
	c.mu.Unlock()
	if len(rpc) == 0 && !resync && !always {
		return nil
	}

	body, err := protocol.EncodeClientMessage(&protocol.ClientMessage{
		CSRFToken:     c.hs.CSRFToken,
		SyncID:        syncID,
		ClientID:      c.clientID,
		Resynchronize: resync,
		RPC:           rpc,
	})
	if err != nil {
		return fmt.Errorf("client: encode message: %w", err)
	}

	var resp *protocol.ServerMessage
	err = retry.Do(func() error {
		data, err := c.post(ctx, c.resolve(c.hs.UIDLURL), body)
		if err != nil {
			return err
		}
		if resp, err = protocol.DecodeServerMessage(data); err != nil {
			return retry.Unrecoverable(err)
		}
		return nil
	}, c.retryOptions(ctx)...)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			c.expire()
		}
		return err
	}
	if resp.Meta != nil && resp.Meta.SessionExpired {
		c.expire()
		return ErrSessionExpired
	}
	c.clientID = resp.ClientID
	c.deliver(resp)
	return nil
}

// deliver orders and applies a server message.
func (c *Client) deliver(msg *protocol.ServerMessage) {
	if msg.Meta != nil && msg.Meta.SessionExpired {
		c.expire()
		return
	}

	var appErrs []*protocol.ErrorMessage
	var needResync bool
	c.mu.Lock()
	ready := c.messages.Handle(msg, time.Now())
	for _, m := range ready {
		if m.Resynchronize {
			c.tree.Reset()
			c.stopDebouncersLocked()
		}
		if err := c.tree.Apply(m.Changes); err != nil {
			c.logger.Warn("cannot apply changes, resynchronizing", "sync_id", m.SyncID, "error", err)
			needResync = true
			break
		}
		for _, ex := range m.Execute {
			c.executeLocked(ex)
		}
		if m.Meta != nil && m.Meta.AppError != nil {
			appErrs = append(appErrs, m.Meta.AppError)
			if m.Meta.AppError.Code == protocol.CodeHandlerPanic {
				c.rejectCallsLocked(m.Meta.AppError)
			}
		}
	}
	queued := len(c.queue) > 0
	c.mu.Unlock()

	for _, m := range ready {
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(m)
		}
	}
	for _, e := range appErrs {
		c.logger.Warn("server reported an error", "code", string(e.Code), "message", e.Message)
		if c.opts.OnAppError != nil {
			c.opts.OnAppError(e)
		}
	}
	if needResync {
		signal(c.resyncCh)
	} else if queued {
		signal(c.flushCh)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// executeLocked runs one JS execution. Promise settlements are handled
// here; everything else goes to Options.ExecuteJS.
func (c *Client) executeLocked(ex protocol.Execute) {
	if ex.Expr == protocol.ResolvePromiseExpr && len(ex.Args) == 4 {
		id, _ := ex.Args[1].(float64)
		ok, _ := ex.Args[2].(bool)
		c.settleLocked(int(id), ok, ex.Args[3])
		return
	}

	var result any
	err := ErrNoJS
	if c.opts.ExecuteJS != nil {
		result, err = c.opts.ExecuteJS(ex.Expr, ex.Args)
	}
	if ex.ID == 0 {
		if err != nil && !errors.Is(err, ErrNoJS) {
			c.logger.Debug("JS execution failed", "expr", ex.Expr, "error", err)
		}
		return
	}
	inv := protocol.Invocation{Type: protocol.InvocationReturn, ID: ex.ID, Success: err == nil, Value: result}
	if err != nil {
		inv.Value = err.Error()
	}
	c.queue = append(c.queue, inv)
}

func (c *Client) settleLocked(id int, ok bool, value any) {
	ch := c.promises[id]
	method := c.calls[id]
	delete(c.promises, id)
	delete(c.calls, id)
	if ch == nil {
		return
	}
	if !ok {
		ch <- promiseResult{err: &CallError{Method: method, Message: fmt.Sprint(value)}}
		return
	}
	// The server sends the result as JSON inside the argument list.
	raw, err := json.Marshal(value)
	ch <- promiseResult{value: raw, err: err}
}

func (c *Client) rejectCallsLocked(e *protocol.ErrorMessage) {
	for id := range c.promises {
		c.settleLocked(id, false, e.Message)
	}
}

func (c *Client) failCallsLocked(err error) {
	for id, ch := range c.promises {
		ch <- promiseResult{err: err}
		delete(c.promises, id)
		delete(c.calls, id)
	}
}

func (c *Client) stopDebouncersLocked() {
	for k, d := range c.debouncers {
		d.stop()
		delete(c.debouncers, k)
	}
}

func (c *Client) expire() {
	if c.expired.Swap(true) {
		return
	}
	c.logger.Info("session expired")
	c.mu.Lock()
	c.stopDebouncersLocked()
	c.failCallsLocked(ErrSessionExpired)
	c.mu.Unlock()
}

// Close stops background work. It does not close the UI on the server;
// that happens when heartbeats stop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.stopDebouncersLocked()
		c.failCallsLocked(ErrClosed)
		c.mu.Unlock()
		c.http.CloseIdleConnections()
	})
}
