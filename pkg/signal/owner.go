package signal

import (
	"sync"
	"sync/atomic"
)

// Owner is a disposal scope. Disposing an owner disposes its child owners,
// its effects and runs its cleanups.
type Owner struct {
	id     uint64
	parent *Owner

	mu       sync.Mutex
	children []*Owner
	effects  []*Effect
	cleanups []func()

	disposed atomic.Bool
}

// NewOwner creates an owner. A non-nil parent disposes it along with
// itself.
func NewOwner(parent *Owner) *Owner {
	o := &Owner{id: nextID(), parent: parent}
	if parent != nil {
		parent.mu.Lock()
		if parent.disposed.Load() {
			parent.mu.Unlock()
			o.disposed.Store(true)
			return o
		}
		parent.children = append(parent.children, o)
		parent.mu.Unlock()
	}
	return o
}

// ID returns the unique identifier of the owner.
func (o *Owner) ID() uint64 {
	return o.id
}

// Parent returns the parent owner, or nil.
func (o *Owner) Parent() *Owner {
	return o.parent
}

// IsDisposed reports whether the owner was disposed.
func (o *Owner) IsDisposed() bool {
	return o.disposed.Load()
}

// Run runs fn with o as the current owner.
func (o *Owner) Run(fn func()) {
	WithOwner(o, fn)
}

// OnCleanup registers fn to run when the owner is disposed. On a disposed
// owner fn runs immediately.
func (o *Owner) OnCleanup(fn func()) {
	o.mu.Lock()
	if o.disposed.Load() {
		o.mu.Unlock()
		fn()
		return
	}
	o.cleanups = append(o.cleanups, fn)
	o.mu.Unlock()
}

func (o *Owner) registerEffect(e *Effect) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed.Load() {
		return false
	}
	o.effects = append(o.effects, e)
	return true
}

func (o *Owner) removeEffect(e *Effect) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.effects {
		if existing == e {
			o.effects = append(o.effects[:i:i], o.effects[i+1:]...)
			return
		}
	}
}

func (o *Owner) removeChild(child *Owner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i:i], o.children[i+1:]...)
			return
		}
	}
}

// Dispose disposes children in reverse creation order, then effects, then
// runs cleanups in reverse registration order. It is idempotent.
func (o *Owner) Dispose() {
	o.mu.Lock()
	if o.disposed.Swap(true) {
		o.mu.Unlock()
		return
	}
	children := o.children
	effects := o.effects
	cleanups := o.cleanups
	o.children, o.effects, o.cleanups = nil, nil, nil
	o.mu.Unlock()

	if o.parent != nil {
		o.parent.removeChild(o)
	}
	for i := len(children) - 1; i >= 0; i-- {
		children[i].Dispose()
	}
	for _, e := range effects {
		e.owner = nil
		e.Dispose()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
