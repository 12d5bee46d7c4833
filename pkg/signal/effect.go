package signal

import (
	"sync"
	"sync/atomic"
)

// Scheduler runs an effect re-run. It may run it immediately or later on
// another goroutine.
type Scheduler func(run func())

// Effect is a side effect that re-runs when the values it read change.
type Effect struct {
	id uint64

	fn      func() Cleanup
	cleanup Cleanup

	running atomic.Bool
	rerun   atomic.Bool

	sources   []*source
	sourcesMu sync.Mutex

	owner     *Owner
	scheduler Scheduler

	pending  atomic.Bool
	disposed atomic.Bool
}

// EffectOption configures an Effect.
type EffectOption func(*Effect)

// WithScheduler routes re-runs through s. The first run is always
// synchronous.
func WithScheduler(s Scheduler) EffectOption {
	return func(e *Effect) {
		e.scheduler = s
	}
}

// NewEffect creates an effect owned by the current owner and runs it once.
func NewEffect(fn func() Cleanup, opts ...EffectOption) *Effect {
	e := &Effect{
		id:    nextID(),
		fn:    fn,
		owner: currentOwner(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.owner != nil {
		if !e.owner.registerEffect(e) {
			e.disposed.Store(true)
			return e
		}
	}
	e.run()
	return e
}

// MarkDirty schedules a re-run. Repeated calls before the re-run starts
// collapse into one.
func (e *Effect) MarkDirty() {
	if e.disposed.Load() {
		return
	}
	if !e.pending.CompareAndSwap(false, true) {
		return
	}
	if e.scheduler != nil {
		e.scheduler(e.run)
		return
	}
	e.run()
}

// ID returns the unique identifier of the effect.
func (e *Effect) ID() uint64 {
	return e.id
}

// IsDisposed reports whether the effect was disposed.
func (e *Effect) IsDisposed() bool {
	return e.disposed.Load()
}

func (e *Effect) addSource(s *source) {
	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()
	for _, existing := range e.sources {
		if existing == s {
			return
		}
	}
	e.sources = append(e.sources, s)
}

func (e *Effect) unsubscribeAll() {
	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()
	for _, s := range e.sources {
		s.unsubscribe(e)
	}
	e.sources = nil
}

// maxReruns bounds how often an effect that keeps invalidating itself is
// re-run within one call of run.
const maxReruns = 100

// run executes the effect. A re-run requested while the effect is running,
// including by its own body, is performed after the current run returns.
func (e *Effect) run() {
	if !e.running.CompareAndSwap(false, true) {
		e.rerun.Store(true)
		return
	}
	defer e.running.Store(false)

	for i := 0; i < maxReruns; i++ {
		if e.disposed.Load() {
			return
		}
		e.pending.Store(false)
		e.runOnce()
		if e.disposed.Load() {
			// Disposed by the body itself or concurrently.
			e.unsubscribeAll()
			if e.cleanup != nil {
				e.cleanup()
				e.cleanup = nil
			}
			return
		}
		if !e.rerun.Swap(false) {
			return
		}
	}
}

func (e *Effect) runOnce() {
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
	e.unsubscribeAll()

	old := setListener(e)
	defer setListener(old)
	e.cleanup = e.fn()
}

// Dispose stops the effect and runs its cleanup. The effect never runs
// again, even if a re-run was already scheduled.
func (e *Effect) Dispose() {
	if e.disposed.Swap(true) {
		return
	}
	e.unsubscribeAll()
	if e.cleanup != nil && !e.running.Load() {
		e.cleanup()
		e.cleanup = nil
	}
	if e.owner != nil {
		e.owner.removeEffect(e)
	}
}
