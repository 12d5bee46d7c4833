package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
)

// UI is one browser tab: an element tree and the state needed to keep the
// client in sync with it.
//
// All tree access must happen while holding the UI lock. Client messages
// take it automatically; code running on other goroutines uses Access.
type UI struct {
	id      string
	csrf    string
	session *Session
	config  *Config
	logger  *slog.Logger

	observer Observer
	invoke   InvocationHandler

	tree *dom.Tree

	// mu is the UI lock. queue holds tasks waiting for it; whoever holds
	// mu runs them before releasing it.
	mu            sync.Mutex
	queueMu       sync.Mutex
	queue         []*task
	pushRequested atomic.Bool

	// Guarded by mu.
	syncID       int
	lastClientID int
	lastResponse []byte
	navigation   NavigationHandler
	location     string

	// cache holds every encoded server message for long polling.
	cache *push.MessageCache

	connMu sync.Mutex
	conn   push.Connection

	created       time.Time
	lastHeartbeat atomic.Int64 // unix nanoseconds
	lastActivity  atomic.Int64 // unix nanoseconds

	closed    atomic.Bool
	closeOnce sync.Once
	onClose   []func(*UI)
}

type uiOptions struct {
	session  *Session
	config   *Config
	logger   *slog.Logger
	observer Observer
	invoke   InvocationHandler
}

func newUI(opts uiOptions) *UI {
	id := uuid.NewString()
	now := time.Now()
	u := &UI{
		id:           id,
		csrf:         uuid.NewString(),
		session:      opts.session,
		config:       opts.config,
		logger:       opts.logger.With("ui_id", id),
		observer:     opts.observer,
		invoke:       opts.invoke,
		tree:         dom.NewTree(),
		lastClientID: -1,
		cache:        push.NewMessageCache(opts.config.MessageCacheSize),
		created:      now,
	}
	u.lastHeartbeat.Store(now.UnixNano())
	u.lastActivity.Store(now.UnixNano())
	u.tree.SetScheduler(func(run func()) { u.Access(run) })
	u.tree.SetLogger(u.logger)
	return u
}

// ID returns the UI id.
func (u *UI) ID() string { return u.id }

// CSRFToken returns the token every client message must carry.
func (u *UI) CSRFToken() string { return u.csrf }

// Session returns the HTTP session the UI belongs to.
func (u *UI) Session() *Session { return u.session }

// Tree returns the element tree. Use it only while holding the UI lock.
func (u *UI) Tree() *dom.Tree { return u.tree }

// Root returns the body element. Use it only while holding the UI lock.
func (u *UI) Root() *dom.Node { return u.tree.Root() }

// Logger returns the UI logger.
func (u *UI) Logger() *slog.Logger { return u.logger }

// Created returns when the UI was created.
func (u *UI) Created() time.Time { return u.created }

// LastHeartbeat returns when the client last showed it is alive.
func (u *UI) LastHeartbeat() time.Time { return time.Unix(0, u.lastHeartbeat.Load()) }

// LastActivity returns when the client last sent a message other than a
// heartbeat.
func (u *UI) LastActivity() time.Time { return time.Unix(0, u.lastActivity.Load()) }

// IsClosed reports whether the UI has been closed.
func (u *UI) IsClosed() bool { return u.closed.Load() }

// Heartbeat records that the client is alive.
func (u *UI) Heartbeat() {
	u.lastHeartbeat.Store(time.Now().UnixNano())
}

func (u *UI) touch() {
	now := time.Now().UnixNano()
	u.lastHeartbeat.Store(now)
	u.lastActivity.Store(now)
	if u.session != nil {
		u.session.touch()
	}
}

// Future completes when a task passed to Access has run.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed when the task has run or was dropped.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the task error once Done is closed: a recovered panic, or
// ErrUIClosed when the UI closed before the task ran.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the task has run or ctx is done. Never wait from
// inside a locked section: the task would wait for the waiter.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	fn     func()
	future *Future
}

// Access runs fn while holding the UI lock and returns a Future for it.
//
// If the lock is free, fn runs before Access returns. Otherwise fn is
// queued and the goroutine holding the lock runs it before releasing the
// lock, so Access never blocks. With automatic push, changes made by
// the tasks are pushed once the queue is empty.
func (u *UI) Access(fn func()) *Future {
	f := newFuture()
	if u.closed.Load() {
		f.complete(ErrUIClosed)
		return f
	}
	u.queueMu.Lock()
	u.queue = append(u.queue, &task{fn: fn, future: f})
	u.queueMu.Unlock()
	u.drain()
	return f
}

// Push sends pending changes over the push connection. It is how
// changes reach the client with manual push mode. Without a connected push
// connection it does nothing and the changes go out with the next response.
func (u *UI) Push() {
	if !u.config.PushMode.Enabled() {
		return
	}
	u.pushRequested.Store(true)
	u.Access(func() {})
}

// lock takes the UI lock. Release it with unlock, never mu.Unlock directly.
func (u *UI) lock() {
	u.mu.Lock()
}

// unlock runs queued tasks, pushes if needed and releases the lock. Tasks
// queued after the release are run by taking the lock again.
func (u *UI) unlock() {
	u.runQueueLocked()
	u.pushLocked()
	u.mu.Unlock()
	u.drain()
}

func (u *UI) drain() {
	for u.hasQueued() {
		if !u.mu.TryLock() {
			// The holder runs the queue before releasing the lock.
			return
		}
		u.runQueueLocked()
		u.pushLocked()
		u.mu.Unlock()
	}
}

func (u *UI) hasQueued() bool {
	u.queueMu.Lock()
	defer u.queueMu.Unlock()
	return len(u.queue) > 0
}

// runQueueLocked runs queued tasks until the queue is empty, including
// tasks queued by the tasks themselves.
func (u *UI) runQueueLocked() {
	for {
		u.queueMu.Lock()
		tasks := u.queue
		u.queue = nil
		u.queueMu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, t := range tasks {
			if u.closed.Load() {
				t.future.complete(ErrUIClosed)
				continue
			}
			t.future.complete(u.runTask(t.fn))
		}
	}
}

func (u *UI) runTask(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UIError{UIID: u.id, Op: "access", Err: fmt.Errorf("panic: %v", r)}
			u.logger.Error("access task panicked",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
	return nil
}

// pushLocked pushes pending changes when push is due: after Push was
// called, or in automatic mode whenever the tree changed.
func (u *UI) pushLocked() {
	if !u.config.PushMode.Enabled() || u.closed.Load() {
		return
	}
	requested := u.pushRequested.Swap(false)
	if !requested && u.config.PushMode != push.ModeAutomatic {
		return
	}
	conn := u.connection()
	if conn == nil || !conn.IsConnected() {
		return
	}
	if !u.tree.HasChanges() {
		return
	}
	msg := u.buildLocked(false)
	msg.Meta = &protocol.Meta{Async: true}
	data, err := u.encodeLocked(msg)
	if err != nil {
		u.logger.Error("encode push message failed", "error", err)
		return
	}
	if err := conn.Push(msg.SyncID, data); err != nil {
		u.logger.Warn("push failed", "sync_id", msg.SyncID, "error", err)
	}
}

// buildLocked collects pending changes and JS into the next server
// message. With resync the message carries the full tree.
func (u *UI) buildLocked(resync bool) *protocol.ServerMessage {
	if resync {
		u.tree.MarkAllForResync()
	}
	changes := u.tree.CollectChanges()
	js := u.tree.DrainJS()
	u.syncID++
	return &protocol.ServerMessage{
		SyncID:        u.syncID,
		ClientID:      u.lastClientID + 1,
		Resynchronize: resync,
		Changes:       protocol.FromChanges(changes),
		Execute:       protocol.FromPendingJS(js),
	}
}

// encodeLocked encodes msg and records it in the message cache.
func (u *UI) encodeLocked(msg *protocol.ServerMessage) ([]byte, error) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		return nil, err
	}
	u.cache.Add(msg.SyncID, data)
	if msg.Resynchronize {
		u.observer.Resynchronized()
	}
	u.observer.MessageSent(len(msg.Changes), len(data), msg.Meta != nil && msg.Meta.Async)
	return data, nil
}

// initialMessage builds the first message of the UI, carrying the full
// tree.
func (u *UI) initialMessage() (*protocol.ServerMessage, error) {
	u.lock()
	defer u.unlock()
	msg := u.buildLocked(false)
	data, err := u.encodeLocked(msg)
	if err != nil {
		return nil, err
	}
	u.lastResponse = data
	return msg, nil
}

// connection returns the current push connection, or nil.
func (u *UI) connection() push.Connection {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	return u.conn
}

// setConnection replaces the push connection, disconnecting the previous
// one.
func (u *UI) setConnection(c push.Connection) {
	u.connMu.Lock()
	prev := u.conn
	u.conn = c
	u.connMu.Unlock()
	if prev != nil && prev != c {
		prev.Disconnect()
	}
}

// clearConnection removes c if it is still the current connection.
func (u *UI) clearConnection(c push.Connection) {
	u.connMu.Lock()
	if u.conn == c {
		u.conn = nil
	}
	u.connMu.Unlock()
}

// IsPushConnected reports whether a push connection is open.
func (u *UI) IsPushConnected() bool {
	c := u.connection()
	return c != nil && c.IsConnected()
}

// OnClose registers fn to run when the UI closes.
func (u *UI) OnClose(fn func(*UI)) {
	u.lock()
	defer u.unlock()
	u.onClose = append(u.onClose, fn)
}

// close detaches the tree, disconnects push and fails queued tasks. It is
// queued like an Access task, so a handler may close its own UI; the
// close then completes when the handler releases the lock.
func (u *UI) close(reason CloseReason) {
	u.closeOnce.Do(func() {
		u.queueMu.Lock()
		u.queue = append(u.queue, &task{
			fn:     func() { u.closeLocked(reason) },
			future: newFuture(),
		})
		u.queueMu.Unlock()
		u.drain()
	})
}

func (u *UI) closeLocked(reason CloseReason) {
	callbacks := u.onClose
	u.onClose = nil
	for _, fn := range callbacks {
		u.runTask(func() { fn(u) })
	}
	// Detaching stops the bindings of every node.
	u.runTask(func() { _ = u.tree.Root().RemoveAllChildren() })
	u.closed.Store(true)

	u.setConnection(nil)
	u.cache.Clear()
	u.logger.Info("UI closed", "reason", string(reason))
	u.observer.UIClosed(reason)
}
