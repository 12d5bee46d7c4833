package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/location"
	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
	"github.com/vango-dev/mirror/pkg/upload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg *Config, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(cfg, append([]Option{WithLogger(discardLogger())}, opts...)...)
	t.Cleanup(func() {
		require.NoError(t, m.Shutdown(context.Background()))
	})
	return m
}

// page is a small UI: a button counting clicks into a label, and an input
// whose value property the client may sync.
type page struct {
	ui     *UI
	button *dom.Node
	label  *dom.Node
	input  *dom.Node
	clicks int
}

func (p *page) build(_ context.Context, u *UI) error {
	p.ui = u
	p.button = dom.NewElement("button")
	p.label = dom.NewElement("span")
	p.input = dom.NewElement("input")
	p.input.AllowPropertySync("value", dom.DisabledUpdateOnlyWhenEnabled)
	p.button.AddEventListener("click", func(*dom.DomEvent) {
		p.clicks++
		_ = p.label.SetText(p.input.PropertyString("value", "") + "!")
	})
	return u.Root().AppendChild(p.button, p.label, p.input)
}

func newPage(t *testing.T, cfg *Config, opts ...Option) (*Manager, *page) {
	t.Helper()
	p := &page{}
	m := newTestManager(t, cfg, append(opts, WithUIInit(p.build))...)
	ctx := context.Background()
	s, err := m.Session(ctx, "")
	require.NoError(t, err)
	u, err := m.CreateUI(ctx, s, "")
	require.NoError(t, err)
	initial, err := u.initialMessage()
	require.NoError(t, err)
	require.Equal(t, 1, initial.SyncID)
	require.Equal(t, 0, initial.ClientID)
	return m, p
}

func send(t *testing.T, u *UI, clientID, syncID int, rpc ...protocol.Invocation) *protocol.ServerMessage {
	t.Helper()
	data, err := u.HandleMessage(context.Background(), &protocol.ClientMessage{
		CSRFToken: u.CSRFToken(),
		SyncID:    syncID,
		ClientID:  clientID,
		RPC:       rpc,
	})
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	return msg
}

func click(n *dom.Node) protocol.Invocation {
	return protocol.Invocation{Type: protocol.InvocationEvent, Node: n.ID(), Event: "click"}
}

func syncValue(n *dom.Node, v string) protocol.Invocation {
	return protocol.Invocation{Type: protocol.InvocationPropertySync, Node: n.ID(), Property: "value", Value: v}
}

// read runs fn under the UI lock.
func read(t *testing.T, u *UI, fn func()) {
	t.Helper()
	require.NoError(t, u.Access(fn).Wait(context.Background()))
}

func TestHandleMessageRunsInvocations(t *testing.T) {
	_, p := newPage(t, nil)

	msg := send(t, p.ui, 0, 1, click(p.button))
	assert.Equal(t, 2, msg.SyncID)
	assert.Equal(t, 1, msg.ClientID)
	assert.False(t, msg.Resynchronize)
	assert.NotEmpty(t, msg.Changes)

	msg = send(t, p.ui, 1, 2, click(p.button))
	assert.Equal(t, 3, msg.SyncID)
	assert.Equal(t, 2, msg.ClientID)
	assert.Equal(t, 2, p.clicks)
}

func TestHandleMessageResendsDuplicate(t *testing.T) {
	_, p := newPage(t, nil)
	req := &protocol.ClientMessage{CSRFToken: p.ui.CSRFToken(), SyncID: 1, ClientID: 0, RPC: []protocol.Invocation{click(p.button)}}

	first, err := p.ui.HandleMessage(context.Background(), req)
	require.NoError(t, err)
	again, err := p.ui.HandleMessage(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.Equal(t, 1, p.clicks, "a resent message is not processed twice")
}

func TestHandleMessageUnexpectedIDResynchronizes(t *testing.T) {
	_, p := newPage(t, nil)

	msg := send(t, p.ui, 5, 1, click(p.button))
	assert.True(t, msg.Resynchronize)
	assert.Equal(t, 0, msg.ClientID, "the expected id is unchanged")
	assert.Zero(t, p.clicks)
	assert.NotEmpty(t, msg.Changes)

	msg = send(t, p.ui, 0, msg.SyncID, click(p.button))
	assert.False(t, msg.Resynchronize)
	assert.Equal(t, 1, p.clicks)
}

func TestHandleMessageResynchronizeRequest(t *testing.T) {
	_, p := newPage(t, nil)
	data, err := p.ui.HandleMessage(context.Background(), &protocol.ClientMessage{
		CSRFToken:     p.ui.CSRFToken(),
		SyncID:        1,
		ClientID:      0,
		Resynchronize: true,
		RPC:           []protocol.Invocation{click(p.button)},
	})
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	assert.True(t, msg.Resynchronize)
	assert.Equal(t, 1, p.clicks, "invocations run before the resync")
}

func TestHandleMessageRejectsBadCSRF(t *testing.T) {
	_, p := newPage(t, nil)
	_, err := p.ui.HandleMessage(context.Background(), &protocol.ClientMessage{CSRFToken: "nope", ClientID: 0})
	assert.ErrorIs(t, err, ErrInvalidCSRF)

	_, p = newPage(t, DefaultConfig().WithCSRFProtection(false))
	_, err = p.ui.HandleMessage(context.Background(), &protocol.ClientMessage{ClientID: 0})
	assert.NoError(t, err)
}

func TestPropertySyncRunsFirst(t *testing.T) {
	_, p := newPage(t, nil)

	send(t, p.ui, 0, 1, click(p.button), syncValue(p.input, "typed"))
	read(t, p.ui, func() {
		assert.Equal(t, "typed!", p.label.Text())
	})
}

func TestStalePropertySyncDropped(t *testing.T) {
	_, p := newPage(t, nil)

	// The client has not applied sync id 1 yet.
	send(t, p.ui, 0, 0, syncValue(p.input, "stale"))
	read(t, p.ui, func() {
		assert.Equal(t, "", p.input.PropertyString("value", ""))
	})

	cfg := DefaultConfig()
	cfg.SyncIDCheck = false
	_, p = newPage(t, cfg)
	send(t, p.ui, 0, 0, syncValue(p.input, "accepted"))
	read(t, p.ui, func() {
		assert.Equal(t, "accepted", p.input.PropertyString("value", ""))
	})
}

func TestHandlerPanicIsReported(t *testing.T) {
	_, p := newPage(t, nil)
	read(t, p.ui, func() {
		p.label.AddEventListener("boom", func(*dom.DomEvent) { panic("kaboom") })
	})

	msg := send(t, p.ui, 0, 1,
		protocol.Invocation{Type: protocol.InvocationEvent, Node: p.label.ID(), Event: "boom"},
		click(p.button))
	require.NotNil(t, msg.Meta)
	require.NotNil(t, msg.Meta.AppError)
	assert.Equal(t, protocol.CodeHandlerPanic, msg.Meta.AppError.Code)
	assert.Contains(t, msg.Meta.AppError.Message, "kaboom")
	assert.Equal(t, 1, p.clicks, "later invocations still run")

	_, p = newPage(t, DefaultConfig().WithProductionMode(true))
	read(t, p.ui, func() {
		p.label.AddEventListener("boom", func(*dom.DomEvent) { panic("secret") })
	})
	msg = send(t, p.ui, 0, 1, protocol.Invocation{Type: protocol.InvocationEvent, Node: p.label.ID(), Event: "boom"})
	require.NotNil(t, msg.Meta)
	assert.NotContains(t, msg.Meta.AppError.Message, "secret")
}

func TestFailedInvocationIsNotReported(t *testing.T) {
	_, p := newPage(t, nil)
	msg := send(t, p.ui, 0, 1, protocol.Invocation{Type: protocol.InvocationEvent, Node: 9999, Event: "click"})
	assert.Nil(t, msg.Meta)
	assert.Equal(t, 1, msg.ClientID)
}

func TestAccessQueuedWhileLocked(t *testing.T) {
	_, p := newPage(t, nil)
	var future *Future
	read(t, p.ui, func() {
		p.button.AddEventListener("spawn", func(*dom.DomEvent) {
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				future = p.ui.Access(func() { _ = p.label.SetText("from goroutine") })
			}()
			wg.Wait()
			// The lock is held here, so the task is only queued.
			select {
			case <-future.Done():
				t.Error("task ran while the lock was held")
			default:
			}
		})
	})

	msg := send(t, p.ui, 0, 1, protocol.Invocation{Type: protocol.InvocationEvent, Node: p.button.ID(), Event: "spawn"})
	require.NotNil(t, future)
	assert.NoError(t, future.Err())
	assert.NotEmpty(t, msg.Changes, "queued changes go out with the response")
	read(t, p.ui, func() {
		assert.Equal(t, "from goroutine", p.label.Text())
	})
}

func TestAccessPanicAndClose(t *testing.T) {
	m, p := newPage(t, nil)

	err := p.ui.Access(func() { panic("task") }).Wait(context.Background())
	var uiErr *UIError
	require.ErrorAs(t, err, &uiErr)
	assert.Equal(t, "access", uiErr.Op)

	closed := make(chan struct{})
	p.ui.OnClose(func(*UI) { close(closed) })
	m.Close(p.ui.ID(), CloseClient)
	<-closed
	assert.True(t, p.ui.IsClosed())
	assert.ErrorIs(t, p.ui.Access(func() {}).Err(), ErrUIClosed)
	_, err = p.ui.HandleMessage(context.Background(), &protocol.ClientMessage{})
	assert.ErrorIs(t, err, ErrUIClosed)
}

func TestHandlerClosesOwnUI(t *testing.T) {
	m, p := newPage(t, nil)
	read(t, p.ui, func() {
		p.button.AddEventListener("logout", func(*dom.DomEvent) {
			m.Close(p.ui.ID(), CloseClient)
		})
	})

	_, err := p.ui.HandleMessage(context.Background(), &protocol.ClientMessage{
		CSRFToken: p.ui.CSRFToken(),
		SyncID:    1,
		RPC:       []protocol.Invocation{{Type: protocol.InvocationEvent, Node: p.button.ID(), Event: "logout"}},
	})
	require.NoError(t, err)
	assert.True(t, p.ui.IsClosed())
	_, err = m.Get(p.ui.ID())
	assert.ErrorIs(t, err, ErrUINotFound)
}

func TestNavigation(t *testing.T) {
	var visited []string
	m := newTestManager(t, nil, WithUIInit(func(_ context.Context, u *UI) error {
		u.SetNavigationHandler(func(_ context.Context, _ *UI, location string) error {
			visited = append(visited, location)
			return nil
		})
		return nil
	}))
	ctx := context.Background()
	s, err := m.Session(ctx, "")
	require.NoError(t, err)
	u, err := m.CreateUI(ctx, s, "/start")
	require.NoError(t, err)
	_, err = u.initialMessage()
	require.NoError(t, err)

	send(t, u, 0, 1, protocol.Invocation{Type: protocol.InvocationNavigation, Location: "orders//42/"})
	assert.Equal(t, []string{"/start", "/orders/42"}, visited)
	read(t, u, func() {
		assert.Equal(t, "/orders/42", u.Location())
	})

	// Locations leaving the application never reach the handler.
	send(t, u, 1, 2, protocol.Invocation{Type: protocol.InvocationNavigation, Location: "https://evil.example/"})
	send(t, u, 2, 3, protocol.Invocation{Type: protocol.InvocationNavigation, Location: "/../etc"})
	assert.Equal(t, []string{"/start", "/orders/42"}, visited)
	read(t, u, func() {
		assert.Equal(t, "/orders/42", u.Location())
		assert.ErrorIs(t, u.Navigate(context.Background(), "//evil.example"), location.ErrInvalid)
	})
}

func TestExposedMethods(t *testing.T) {
	_, p := newPage(t, nil)
	var remove func()
	read(t, p.ui, func() {
		var err error
		remove, err = p.ui.Expose(p.button, "add", func(ctx context.Context, a, b int) (int, error) {
			require.NotNil(t, ctx)
			return a + b, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"add"}, p.button.PublishedMethods())
	})

	call := func(clientID int, promise int, args ...string) *protocol.ServerMessage {
		raw := make([]json.RawMessage, len(args))
		for i, a := range args {
			raw[i] = json.RawMessage(a)
		}
		return send(t, p.ui, clientID, clientID+1, protocol.Invocation{
			Type:    protocol.InvocationPublished,
			Node:    p.button.ID(),
			Method:  "add",
			Args:    raw,
			Promise: promise,
		})
	}

	msg := call(0, 7, "2", "3")
	require.Len(t, msg.Execute, 1)
	assert.Equal(t, protocol.ResolvePromiseExpr, msg.Execute[0].Expr)
	assert.Equal(t, []any{float64(7), true, float64(5)}, msg.Execute[0].Args[1:])

	msg = call(1, 8, `"two"`, "3")
	require.Len(t, msg.Execute, 1)
	assert.Equal(t, float64(8), msg.Execute[0].Args[1])
	assert.Equal(t, false, msg.Execute[0].Args[2])

	msg = call(2, 9, "1")
	require.Len(t, msg.Execute, 1)
	assert.Equal(t, false, msg.Execute[0].Args[2], "wrong argument count")

	read(t, p.ui, func() { remove() })
	msg = call(3, 0, "1", "2")
	assert.Empty(t, msg.Execute)
	read(t, p.ui, func() {
		assert.Empty(t, p.button.PublishedMethods())
	})
}

func TestExposedMethodsTravelWithNode(t *testing.T) {
	_, p := newPage(t, nil)
	calls := 0
	var oldID dom.NodeID
	read(t, p.ui, func() {
		_, err := p.ui.Expose(p.button, "ping", func() { calls++ })
		require.NoError(t, err)
		oldID = p.button.ID()
		require.NoError(t, p.button.RemoveFromParent())
		assert.NotNil(t, exposedOn(p.button, "ping"), "detached node keeps its methods")

		err = p.ui.callExposed(context.Background(), &protocol.Invocation{Node: oldID, Method: "ping"})
		assert.ErrorIs(t, err, ErrNodeNotFound)

		require.NoError(t, p.ui.Root().AppendChild(p.button))
		require.NoError(t, p.ui.callExposed(context.Background(), &protocol.Invocation{Node: p.button.ID(), Method: "ping"}))
	})
	assert.Equal(t, 1, calls)
}

func TestStreamReceiversTravelWithNode(t *testing.T) {
	_, p := newPage(t, nil)
	read(t, p.ui, func() {
		remove := p.ui.AddStreamReceiver(p.input, "file", func(context.Context, *upload.File) error { return nil })
		oldID := p.input.ID()
		require.NoError(t, p.input.RemoveFromParent())
		_, _, err := p.ui.receiverLocked(oldID, "file")
		assert.ErrorIs(t, err, ErrNodeNotFound)

		require.NoError(t, p.ui.Root().AppendChild(p.input))
		_, r, err := p.ui.receiverLocked(p.input.ID(), "file")
		require.NoError(t, err)
		assert.NotNil(t, r)

		remove()
		_, _, err = p.ui.receiverLocked(p.input.ID(), "file")
		assert.ErrorIs(t, err, ErrNoReceiver)
	})
}

func TestExposeRejectsBadSignatures(t *testing.T) {
	_, p := newPage(t, nil)
	read(t, p.ui, func() {
		_, err := p.ui.Expose(p.button, "x", 42)
		assert.Error(t, err)
		_, err = p.ui.Expose(p.button, "x", func() (int, int) { return 0, 0 })
		assert.Error(t, err)
		_, err = p.ui.Expose(dom.NewText("t"), "x", func() {})
		assert.ErrorIs(t, err, dom.ErrTextNode)
	})
}

func TestExposedMethodDisabledNode(t *testing.T) {
	_, p := newPage(t, nil)
	called := false
	read(t, p.ui, func() {
		_, err := p.ui.Expose(p.button, "save", func() { called = true })
		require.NoError(t, err)
		require.NoError(t, p.button.SetEnabled(false))
	})
	msg := send(t, p.ui, 0, 1, protocol.Invocation{Type: protocol.InvocationPublished, Node: p.button.ID(), Method: "save", Promise: 1})
	assert.False(t, called)
	require.Len(t, msg.Execute, 1)
	assert.Equal(t, false, msg.Execute[0].Args[2])
}

// fakeConn records pushed messages.
type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func (c *fakeConn) ID() string                { return "fake" }
func (c *fakeConn) Transport() push.Transport { return push.TransportWebSocket }
func (c *fakeConn) Push(_ int, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}
func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}
func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
func (c *fakeConn) pushed() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}

func TestManualPush(t *testing.T) {
	_, p := newPage(t, DefaultConfig().WithPush(push.ModeManual, push.TransportWebSocket))
	conn := &fakeConn{}
	p.ui.setConnection(conn)

	read(t, p.ui, func() { _ = p.label.SetText("pending") })
	assert.Empty(t, conn.pushed(), "manual mode waits for Push")

	p.ui.Push()
	require.Len(t, conn.pushed(), 1)
	msg, err := protocol.DecodeServerMessage(conn.pushed()[0])
	require.NoError(t, err)
	assert.Equal(t, 2, msg.SyncID)
	require.NotNil(t, msg.Meta)
	assert.True(t, msg.Meta.Async)

	p.ui.Push()
	assert.Len(t, conn.pushed(), 1, "nothing to push")
}

func TestAutomaticPush(t *testing.T) {
	m, p := newPage(t, DefaultConfig().WithPush(push.ModeAutomatic, push.TransportWebSocket))
	conn := &fakeConn{}
	p.ui.setConnection(conn)

	read(t, p.ui, func() { _ = p.label.SetText("one") })
	read(t, p.ui, func() { _ = p.label.SetText("two") })
	assert.Len(t, conn.pushed(), 2)

	m.Close(p.ui.ID(), CloseClient)
	assert.False(t, conn.IsConnected())
}

func TestPushWithoutConnectionKeepsChanges(t *testing.T) {
	_, p := newPage(t, DefaultConfig().WithPush(push.ModeManual, push.TransportWebSocket))
	read(t, p.ui, func() { _ = p.label.SetText("later") })
	p.ui.Push()

	msg := send(t, p.ui, 0, 1)
	assert.NotEmpty(t, msg.Changes, "changes go out with the next response")
}

func TestResynchronize(t *testing.T) {
	_, p := newPage(t, nil)
	send(t, p.ui, 0, 1, click(p.button))

	data, err := p.ui.Resynchronize()
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	assert.True(t, msg.Resynchronize)
	assert.True(t, msg.Meta.Async)

	// The cached response for a resent message is still the old one.
	again := send(t, p.ui, 0, 1, click(p.button))
	assert.Equal(t, 2, again.SyncID)
}
