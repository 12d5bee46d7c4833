package signal

import (
	"reflect"
	"slices"
	"sync"
)

// Readable is a reactive value that can be read with or without tracking.
type Readable[T any] interface {
	// Get returns the value and subscribes the current listener.
	Get() T

	// Peek returns the value without subscribing.
	Peek() T
}

// source is the subscriber set shared by Signal, Computed and ListSignal.
// Listeners are kept in subscription order and at most once per id.
type source struct {
	id uint64

	mu        sync.Mutex
	listeners []Listener
}

func (s *source) indexOf(id uint64) int {
	return slices.IndexFunc(s.listeners, func(l Listener) bool { return l.ID() == id })
}

func (s *source) subscribe(l Listener) {
	s.mu.Lock()
	if s.indexOf(l.ID()) < 0 {
		s.listeners = append(s.listeners, l)
	}
	s.mu.Unlock()
}

func (s *source) unsubscribe(l Listener) {
	s.mu.Lock()
	if i := s.indexOf(l.ID()); i >= 0 {
		s.listeners = slices.Delete(s.listeners, i, i+1)
	}
	s.mu.Unlock()
}

// notifySubscribers marks a snapshot of the listeners dirty. Inside a batch
// they are queued on the goroutine's tracking context instead.
func (s *source) notifySubscribers() {
	s.mu.Lock()
	snapshot := slices.Clone(s.listeners)
	s.mu.Unlock()

	if inBatch() {
		update(func(ctx *trackingContext) {
			ctx.pendingUpdates = append(ctx.pendingUpdates, snapshot...)
		})
		return
	}
	for _, l := range snapshot {
		l.MarkDirty()
	}
}

// Signal holds a value of type T. Reads through Get inside an effect or
// computed value subscribe it to later changes.
type Signal[T any] struct {
	base source

	mu    sync.RWMutex
	v     T
	equal func(T, T) bool
}

// New creates a signal holding initial.
func New[T any](initial T) *Signal[T] {
	return &Signal[T]{base: source{id: nextID()}, v: initial}
}

func (s *Signal[T]) Get() T {
	v := s.Peek()
	track(&s.base)
	return v
}

func (s *Signal[T]) Peek() T {
	s.mu.RLock()
	v := s.v
	s.mu.RUnlock()
	return v
}

// Set stores v. Subscribers are notified only when v differs from the
// current value.
func (s *Signal[T]) Set(v T) {
	s.Update(func(T) T { return v })
}

// Update replaces the value with fn(current) under the signal's lock.
func (s *Signal[T]) Update(fn func(T) T) {
	s.mu.Lock()
	next := fn(s.v)
	same := s.same(s.v, next)
	if !same {
		s.v = next
	}
	s.mu.Unlock()
	if !same {
		s.base.notifySubscribers()
	}
}

// WithEquals replaces the equality used to suppress notifications.
func (s *Signal[T]) WithEquals(fn func(T, T) bool) *Signal[T] {
	s.equal = fn
	return s
}

func (s *Signal[T]) ID() uint64 { return s.base.id }

func (s *Signal[T]) same(a, b T) bool {
	if s.equal != nil {
		return s.equal(a, b)
	}
	return defaultEquals(a, b)
}

// defaultEquals compares comparable dynamic values with == and falls back
// to reflect.DeepEqual for slices, maps and funcs.
func defaultEquals[T any](a, b T) bool {
	av, bv := any(a), any(b)
	if av == nil || bv == nil {
		return av == bv
	}
	if reflect.ValueOf(av).Comparable() {
		return av == bv
	}
	return reflect.DeepEqual(a, b)
}
