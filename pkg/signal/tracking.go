package signal

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Listener is notified when a dependency changes.
type Listener interface {
	// MarkDirty tells the listener that one of its dependencies changed.
	MarkDirty()

	// ID returns a unique identifier used for deduplication.
	ID() uint64
}

// Cleanup is returned by effects and runs before a re-run and on disposal.
type Cleanup func()

// trackingContext holds the reactive state of one goroutine.
type trackingContext struct {
	owner          *Owner
	listener       Listener
	batchDepth     int
	pendingUpdates []Listener
}

func (c *trackingContext) idle() bool {
	return c.owner == nil && c.listener == nil && c.batchDepth == 0 && len(c.pendingUpdates) == 0
}

// trackingContexts maps goroutine ids to their tracking context. Entries are
// removed as soon as a goroutine returns to the idle state.
var trackingContexts sync.Map

var globalIDCounter uint64

// nextID returns a process-wide unique id for a reactive primitive.
func nextID() uint64 {
	return atomic.AddUint64(&globalIDCounter, 1)
}

// goroutineID parses the current goroutine id from the stack header
// "goroutine <id> [...]".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// current returns the context of the calling goroutine, or nil.
func current() *trackingContext {
	if ctx, ok := trackingContexts.Load(goroutineID()); ok {
		return ctx.(*trackingContext)
	}
	return nil
}

// update runs fn on the context of the calling goroutine, creating it if
// needed and dropping it again if fn leaves it idle.
func update(fn func(*trackingContext)) {
	gid := goroutineID()
	var ctx *trackingContext
	if v, ok := trackingContexts.Load(gid); ok {
		ctx = v.(*trackingContext)
	} else {
		ctx = &trackingContext{}
	}
	fn(ctx)
	if ctx.idle() {
		trackingContexts.Delete(gid)
	} else {
		trackingContexts.Store(gid, ctx)
	}
}

func currentListener() Listener {
	if ctx := current(); ctx != nil {
		return ctx.listener
	}
	return nil
}

// setListener installs l and returns the previous listener.
func setListener(l Listener) (old Listener) {
	update(func(ctx *trackingContext) {
		old = ctx.listener
		ctx.listener = l
	})
	return old
}

func currentOwner() *Owner {
	if ctx := current(); ctx != nil {
		return ctx.owner
	}
	return nil
}

func setOwner(o *Owner) (old *Owner) {
	update(func(ctx *trackingContext) {
		old = ctx.owner
		ctx.owner = o
	})
	return old
}

func inBatch() bool {
	ctx := current()
	return ctx != nil && ctx.batchDepth > 0
}

// WithOwner runs fn with owner as the owner of effects created inside it.
func WithOwner(owner *Owner, fn func()) {
	old := setOwner(owner)
	defer setOwner(old)
	fn()
}

// WithListener runs fn with l collecting the dependencies read inside it.
func WithListener(l Listener, fn func()) {
	old := setListener(l)
	defer setListener(old)
	fn()
}

// Untracked runs fn without recording dependencies.
func Untracked(fn func()) {
	old := setListener(nil)
	defer setListener(old)
	fn()
}

// track subscribes the current listener to s.
func track(s *source) {
	l := currentListener()
	if l == nil {
		return
	}
	s.subscribe(l)
	if src, ok := l.(sourceTracker); ok {
		src.addSource(s)
	}
}

// sourceTracker is implemented by listeners that unsubscribe from their
// sources before re-running.
type sourceTracker interface {
	addSource(*source)
}
