package signal

import (
	"sync"
	"sync/atomic"
)

// Computed is a cached derived value. It recomputes lazily on the first
// read after a dependency changed.
type Computed[T any] struct {
	base source

	compute func() T

	value   T
	valueMu sync.RWMutex
	valid   atomic.Bool

	sources   []*source
	sourcesMu sync.Mutex

	computing atomic.Bool
}

// NewComputed creates a computed value. compute does not run until the
// first read.
func NewComputed[T any](compute func() T) *Computed[T] {
	return &Computed[T]{
		base:    source{id: nextID()},
		compute: compute,
	}
}

// Get returns the value, recomputing if needed, and subscribes the current
// listener.
func (c *Computed[T]) Get() T {
	track(&c.base)
	return c.Peek()
}

// Peek returns the value without subscribing. It still recomputes an
// invalid value.
func (c *Computed[T]) Peek() T {
	if !c.valid.Load() {
		c.recompute()
	}
	c.valueMu.RLock()
	defer c.valueMu.RUnlock()
	return c.value
}

// MarkDirty invalidates the cached value and propagates to subscribers.
func (c *Computed[T]) MarkDirty() {
	if c.valid.CompareAndSwap(true, false) {
		c.base.notifySubscribers()
	}
}

// ID returns the unique identifier of the computed value.
func (c *Computed[T]) ID() uint64 {
	return c.base.id
}

func (c *Computed[T]) addSource(s *source) {
	c.sourcesMu.Lock()
	defer c.sourcesMu.Unlock()
	for _, existing := range c.sources {
		if existing == s {
			return
		}
	}
	c.sources = append(c.sources, s)
}

func (c *Computed[T]) recompute() {
	// A cycle reads the stale value instead of recursing.
	if c.computing.Swap(true) {
		return
	}
	defer c.computing.Store(false)

	c.sourcesMu.Lock()
	for _, s := range c.sources {
		s.unsubscribe(c)
	}
	c.sources = c.sources[:0]
	c.sourcesMu.Unlock()

	old := setListener(c)
	value := c.compute()
	setListener(old)

	c.valueMu.Lock()
	c.value = value
	c.valueMu.Unlock()
	c.valid.Store(true)
}
