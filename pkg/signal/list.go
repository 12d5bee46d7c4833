package signal

import "sync"

// ListSignal is an ordered list of entry signals. The list itself tracks
// structure (insertions, removals, moves); each entry tracks its value.
// Entries keep their identity while they stay in the list, so views can
// cache per-entry state.
type ListSignal[T any] struct {
	base source

	mu      sync.RWMutex
	entries []*Signal[T]
}

// NewList creates a list with one entry per initial value.
func NewList[T any](values ...T) *ListSignal[T] {
	l := &ListSignal[T]{base: source{id: nextID()}}
	for _, v := range values {
		l.entries = append(l.entries, New(v))
	}
	return l
}

// ID returns the unique identifier of the list.
func (l *ListSignal[T]) ID() uint64 {
	return l.base.id
}

// Entries returns the entries in order and subscribes to structural
// changes.
func (l *ListSignal[T]) Entries() []*Signal[T] {
	track(&l.base)
	return l.PeekEntries()
}

// PeekEntries returns the entries without subscribing.
func (l *ListSignal[T]) PeekEntries() []*Signal[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Signal[T], len(l.entries))
	copy(out, l.entries)
	return out
}

// Values returns the current values and subscribes to the list and to
// every entry.
func (l *ListSignal[T]) Values() []T {
	entries := l.Entries()
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.Get()
	}
	return out
}

// Len returns the number of entries and subscribes to structural changes.
func (l *ListSignal[T]) Len() int {
	track(&l.base)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Append adds a value at the end and returns its entry.
func (l *ListSignal[T]) Append(value T) *Signal[T] {
	e := New(value)
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	l.base.notifySubscribers()
	return e
}

// Insert adds a value at index, clamped to the list bounds, and returns its
// entry.
func (l *ListSignal[T]) Insert(index int, value T) *Signal[T] {
	e := New(value)
	l.mu.Lock()
	index = clamp(index, len(l.entries))
	l.entries = append(l.entries, nil)
	copy(l.entries[index+1:], l.entries[index:])
	l.entries[index] = e
	l.mu.Unlock()
	l.base.notifySubscribers()
	return e
}

// Remove removes an entry and reports whether it was in the list.
func (l *ListSignal[T]) Remove(entry *Signal[T]) bool {
	l.mu.Lock()
	i := l.indexLocked(entry)
	if i < 0 {
		l.mu.Unlock()
		return false
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	l.mu.Unlock()
	l.base.notifySubscribers()
	return true
}

// Move places an entry at index, counted in the list without the entry.
// It reports whether the entry was in the list.
func (l *ListSignal[T]) Move(entry *Signal[T], index int) bool {
	l.mu.Lock()
	i := l.indexLocked(entry)
	if i < 0 {
		l.mu.Unlock()
		return false
	}
	rest := append(l.entries[:i:i], l.entries[i+1:]...)
	index = clamp(index, len(rest))
	if index == i {
		l.mu.Unlock()
		return true
	}
	rest = append(rest, nil)
	copy(rest[index+1:], rest[index:])
	rest[index] = entry
	l.entries = rest
	l.mu.Unlock()
	l.base.notifySubscribers()
	return true
}

// Clear removes all entries.
func (l *ListSignal[T]) Clear() {
	l.mu.Lock()
	if len(l.entries) == 0 {
		l.mu.Unlock()
		return
	}
	l.entries = nil
	l.mu.Unlock()
	l.base.notifySubscribers()
}

// IndexOf returns the position of entry, or -1. It does not subscribe.
func (l *ListSignal[T]) IndexOf(entry *Signal[T]) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.indexLocked(entry)
}

func (l *ListSignal[T]) indexLocked(entry *Signal[T]) int {
	for i, e := range l.entries {
		if e == entry {
			return i
		}
	}
	return -1
}

func clamp(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}
