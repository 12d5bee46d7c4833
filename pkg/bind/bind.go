// Package bind connects signals to elements.
//
// Every binding is tied to the attachment of its node: the underlying
// effect exists only while the node is attached to a tree, is disposed when
// the node is detached and is created again when the node comes back.
// Re-runs go through the tree scheduler, which a UI maps to its access
// queue, so bindings always write to the tree under the session lock.
//
// One-way bindings reserve the state they write. While the binding is
// active, writing that state through the dom API fails with
// dom.ErrBindingActive.
package bind

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/signal"
)

// ErrNotEmpty is returned by Children when the parent already has children.
var ErrNotEmpty = errors.New("bind: parent element must not have children")

// Registration removes a binding.
type Registration interface {
	Remove()
}

// RegistrationFunc adapts a function to Registration.
type RegistrationFunc func()

// Remove calls f.
func (f RegistrationFunc) Remove() { f() }

// nodeEffect is an effect that follows the attach state of a node.
type nodeEffect struct {
	node         *dom.Node
	fn           func()
	effect       *signal.Effect
	removeAttach func()
	removeDetach func()
	onRemove     []func()
	removed      bool
}

// Effect runs fn while node is attached and re-runs it when signals read by
// fn change.
func Effect(node *dom.Node, fn func()) Registration {
	e := &nodeEffect{node: node, fn: fn}
	e.removeAttach = node.AddAttachListener(func(*dom.Node) { e.start() })
	e.removeDetach = node.AddDetachListener(func(*dom.Node) { e.stop() })
	if node.IsAttached() {
		e.start()
	}
	return e
}

func (e *nodeEffect) start() {
	if e.effect != nil || e.removed {
		return
	}
	node := e.node
	signal.WithOwner(nil, func() {
		e.effect = signal.NewEffect(func() signal.Cleanup {
			e.fn()
			return nil
		}, signal.WithScheduler(func(run func()) {
			if t := node.Tree(); t != nil {
				t.Schedule(run)
			}
		}))
	})
}

func (e *nodeEffect) stop() {
	if e.effect == nil {
		return
	}
	e.effect.Dispose()
	e.effect = nil
}

// Remove disposes the effect and detaches it from the node lifecycle.
func (e *nodeEffect) Remove() {
	if e.removed {
		return
	}
	e.removed = true
	e.removeAttach()
	e.removeDetach()
	e.stop()
	for _, fn := range e.onRemove {
		fn()
	}
}

// reserved creates a node effect that writes through a reserved slot.
func reserved(node *dom.Node, feature dom.Feature, key string, write func(*dom.Slot) error) (Registration, error) {
	slot, err := node.Reserve(feature, key)
	if err != nil {
		return nil, err
	}
	e := Effect(node, func() {
		if err := write(slot); err != nil {
			logFailure(node, feature, key, err)
		}
	}).(*nodeEffect)
	e.onRemove = append(e.onRemove, slot.Release)
	return e, nil
}

// logFailure reports a write that failed in an effect re-run. The node
// keeps its previous state.
func logFailure(node *dom.Node, feature dom.Feature, key string, err error) {
	logger := slog.Default()
	if t := node.Tree(); t != nil {
		logger = t.Logger()
	}
	logger.Error("binding update failed",
		"node", node.ID(), "feature", feature, "key", key, "error", err)
}

// Text binds the text content of node. For an element the children are
// replaced by a single text node.
func Text(node *dom.Node, value signal.Readable[string]) (Registration, error) {
	feature, key := dom.FeatureChildren, ""
	if node.IsText() {
		feature, key = dom.FeatureText, "text"
	}
	return reserved(node, feature, key, func(s *dom.Slot) error {
		v := value.Get()
		return s.Do(func() error { return node.SetText(v) })
	})
}

// Attribute binds an attribute value.
func Attribute(node *dom.Node, name string, value signal.Readable[string]) (Registration, error) {
	return reserved(node, dom.FeatureAttributes, name, func(s *dom.Slot) error {
		v := value.Get()
		return s.Do(func() error { return node.SetAttribute(name, v) })
	})
}

// BoolAttribute binds the presence of an attribute.
func BoolAttribute(node *dom.Node, name string, value signal.Readable[bool]) (Registration, error) {
	return reserved(node, dom.FeatureAttributes, name, func(s *dom.Slot) error {
		v := value.Get()
		return s.Do(func() error { return node.SetBoolAttribute(name, v) })
	})
}

// Property binds a property to any JSON compatible value.
func Property[T any](node *dom.Node, name string, value signal.Readable[T]) (Registration, error) {
	return reserved(node, dom.FeatureProperties, name, func(s *dom.Slot) error {
		v := value.Get()
		return s.Do(func() error { return node.SetProperty(name, v) })
	})
}

// Visible binds the visibility of node.
func Visible(node *dom.Node, value signal.Readable[bool]) (Registration, error) {
	return reserved(node, dom.FeatureData, "visible", func(s *dom.Slot) error {
		v := value.Get()
		return s.Do(func() error { return node.SetVisible(v) })
	})
}

// Enabled binds the enabled state of node.
func Enabled(node *dom.Node, value signal.Readable[bool]) (Registration, error) {
	return reserved(node, dom.FeatureData, "enabled", func(s *dom.Slot) error {
		v := value.Get()
		return s.Do(func() error { return node.SetEnabled(v) })
	})
}

// ClassName binds the presence of one class name. Other class names stay
// writable.
func ClassName(node *dom.Node, className string, value signal.Readable[bool]) (Registration, error) {
	return reserved(node, dom.FeatureClassName, className, func(s *dom.Slot) error {
		v := value.Get()
		return s.Do(func() error { return node.ClassList().Set(className, v) })
	})
}

// Value binds a string property in both directions. The property is
// synchronized from the client whenever event fires; client values are
// written to value, and changes of value are written to the property.
func Value(node *dom.Node, property, event string, value *signal.Signal[string]) (Registration, error) {
	slot, err := node.Reserve(dom.FeatureProperties, property)
	if err != nil {
		return nil, err
	}
	slot.AcceptClient(func(v any) error {
		s, ok := v.(string)
		if !ok {
			if v != nil {
				s = fmt.Sprint(v)
			}
		}
		if err := slot.Do(func() error { return node.SetProperty(property, s) }); err != nil {
			return err
		}
		value.Set(s)
		return nil
	})
	reg := node.AddEventListener(event, func(*dom.DomEvent) {}).SynchronizeProperty(property)

	e := Effect(node, func() {
		v := value.Get()
		if err := slot.Do(func() error { return node.SetProperty(property, v) }); err != nil {
			logFailure(node, dom.FeatureProperties, property, err)
		}
	}).(*nodeEffect)
	e.onRemove = append(e.onRemove, reg.Remove, slot.Release)
	return e, nil
}

// Children keeps the children of parent in the order of list, with one
// child per entry created by factory. Children are cached per entry, so an
// entry keeps its element while it stays in the list. parent must start
// empty.
func Children[T any](parent *dom.Node, list *signal.ListSignal[T], factory func(*signal.Signal[T]) *dom.Node) (Registration, error) {
	if parent.ChildCount() > 0 {
		return nil, ErrNotEmpty
	}
	cache := make(map[*signal.Signal[T]]*dom.Node)
	return reserved(parent, dom.FeatureChildren, "", func(s *dom.Slot) error {
		entries := list.Entries()

		target := make([]*dom.Node, 0, len(entries))
		keep := make(map[*signal.Signal[T]]bool, len(entries))
		for _, entry := range entries {
			child, ok := cache[entry]
			if !ok {
				// The factory must not subscribe the list effect to what it reads.
				signal.Untracked(func() { child = factory(entry) })
				if child == nil {
					return fmt.Errorf("bind: child factory returned nil")
				}
				cache[entry] = child
			}
			keep[entry] = true
			target = append(target, child)
		}
		for entry := range cache {
			if !keep[entry] {
				delete(cache, entry)
			}
		}

		return s.Do(func() error {
			wanted := make(map[*dom.Node]bool, len(target))
			for _, c := range target {
				wanted[c] = true
			}
			for _, c := range parent.Children() {
				if !wanted[c] {
					if err := parent.RemoveChild(c); err != nil {
						return err
					}
				}
			}
			for i, c := range target {
				if parent.Child(i) == c {
					continue
				}
				if err := parent.InsertChild(i, c); err != nil {
					return err
				}
			}
			return nil
		})
	})
}
