package dom

import (
	"reflect"
	"sort"
	"time"
)

// DebouncePhase selects when a debounced event is delivered.
type DebouncePhase string

const (
	// PhaseLeading delivers the first event of a burst immediately.
	PhaseLeading DebouncePhase = "leading"

	// PhaseIntermediate delivers at most one event per timeout while the
	// burst continues.
	PhaseIntermediate DebouncePhase = "intermediate"

	// PhaseTrailing delivers one event after the burst has been quiet for
	// the timeout.
	PhaseTrailing DebouncePhase = "trailing"
)

// Valid reports whether p is a known phase.
func (p DebouncePhase) Valid() bool {
	switch p {
	case PhaseLeading, PhaseIntermediate, PhaseTrailing:
		return true
	}
	return false
}

// DisabledUpdateMode controls whether client input is accepted for a
// disabled node.
type DisabledUpdateMode uint8

const (
	// DisabledUpdateOnlyWhenEnabled drops input while the node is disabled.
	DisabledUpdateOnlyWhenEnabled DisabledUpdateMode = iota

	// DisabledUpdateAlways accepts input regardless of the enabled state.
	DisabledUpdateAlways
)

// String returns the string representation of the mode.
func (m DisabledUpdateMode) String() string {
	switch m {
	case DisabledUpdateOnlyWhenEnabled:
		return "onlyWhenEnabled"
	case DisabledUpdateAlways:
		return "always"
	default:
		return "unknown"
	}
}

// mostPermissive returns the mode that accepts more input.
func mostPermissive(a, b DisabledUpdateMode) DisabledUpdateMode {
	if a == DisabledUpdateAlways || b == DisabledUpdateAlways {
		return DisabledUpdateAlways
	}
	return DisabledUpdateOnlyWhenEnabled
}

// DomEvent is a client event delivered to a listener.
type DomEvent struct {
	Source *Node
	Type   string

	// Data holds the values of the requested event data expressions and
	// filter results, as decoded from JSON.
	Data map[string]any

	// Phase is the debounce phase the client fired for, or "".
	Phase DebouncePhase
}

// DataString returns a data value as a string.
func (e *DomEvent) DataString(key string) string {
	v, ok := e.Data[key]
	if !ok || v == nil {
		return ""
	}
	return valueString(v)
}

// DataFloat returns a numeric data value, or 0.
func (e *DomEvent) DataFloat(key string) float64 {
	f, _ := e.Data[key].(float64)
	return f
}

// DataBool returns a boolean data value, or false.
func (e *DomEvent) DataBool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// EventListener handles DOM events sent by the client.
type EventListener func(*DomEvent)

// ClientEvent is an event as reported by the client.
type ClientEvent struct {
	Type    string
	Data    map[string]any
	Phase   DebouncePhase
	Timeout time.Duration
}

// ListenerSettings is the client-side description of one registration.
// The client uses it to decide which events to forward and how.
type ListenerSettings struct {
	Filter  string          `json:"filter,omitempty"`
	Data    []string        `json:"data,omitempty"`
	Sync    []string        `json:"sync,omitempty"`
	Timeout int64           `json:"timeout,omitempty"` // milliseconds
	Phases  []DebouncePhase `json:"phases,omitempty"`
}

// ListenerRegistration is a DOM event listener registered on a node.
// Its configuration methods return the registration for chaining.
type ListenerRegistration struct {
	node      *Node
	eventType string
	listener  EventListener

	filter     string
	data       []string
	sync       []string
	timeout    time.Duration
	phases     []DebouncePhase
	mode       DisabledUpdateMode
	allowInert bool

	removed      bool
	onUnregister []func()
}

// AddEventListener registers a listener for a DOM event type.
func (n *Node) AddEventListener(eventType string, listener EventListener) *ListenerRegistration {
	if n.listeners == nil {
		n.listeners = make(map[string][]*ListenerRegistration)
	}
	r := &ListenerRegistration{
		node:      n,
		eventType: eventType,
		listener:  listener,
	}
	n.listeners[eventType] = append(n.listeners[eventType], r)
	n.markDirty()
	return r
}

// EventType returns the DOM event type.
func (r *ListenerRegistration) EventType() string {
	return r.eventType
}

// AddEventData asks the client to evaluate expr when the event fires and
// send the result in DomEvent.Data under the same key.
func (r *ListenerRegistration) AddEventData(expr string) *ListenerRegistration {
	for _, existing := range r.data {
		if existing == expr {
			return r
		}
	}
	r.data = append(r.data, expr)
	r.changed()
	return r
}

// SetFilter sets a client-side filter expression. The event is only sent
// when the expression is truthy.
func (r *ListenerRegistration) SetFilter(expr string) *ListenerRegistration {
	r.filter = expr
	r.changed()
	return r
}

// Filter returns the filter expression.
func (r *ListenerRegistration) Filter() string {
	return r.filter
}

// Debounce delays delivery on the client. With no phases, PhaseTrailing is
// used. A zero timeout disables debouncing.
func (r *ListenerRegistration) Debounce(timeout time.Duration, phases ...DebouncePhase) *ListenerRegistration {
	if timeout <= 0 {
		r.timeout = 0
		r.phases = nil
		r.changed()
		return r
	}
	if len(phases) == 0 {
		phases = []DebouncePhase{PhaseTrailing}
	}
	r.timeout = timeout
	r.phases = normalizePhases(phases)
	r.changed()
	return r
}

// Throttle delivers the first event immediately and then at most one event
// per period while events keep coming.
func (r *ListenerRegistration) Throttle(period time.Duration) *ListenerRegistration {
	return r.Debounce(period, PhaseLeading, PhaseIntermediate)
}

// SetDisabledUpdateMode controls delivery while the node is disabled.
func (r *ListenerRegistration) SetDisabledUpdateMode(mode DisabledUpdateMode) *ListenerRegistration {
	r.mode = mode
	return r
}

// DisabledUpdateMode returns the configured mode.
func (r *ListenerRegistration) DisabledUpdateMode() DisabledUpdateMode {
	return r.mode
}

// AllowInert delivers events even when the node is inert.
func (r *ListenerRegistration) AllowInert() *ListenerRegistration {
	r.allowInert = true
	return r
}

// SynchronizeProperty asks the client to send the property value together
// with every delivered event.
func (r *ListenerRegistration) SynchronizeProperty(name string) *ListenerRegistration {
	for _, existing := range r.sync {
		if existing == name {
			return r
		}
	}
	r.sync = append(r.sync, name)
	r.changed()
	return r
}

// OnUnregister registers fn to run when the registration is removed.
func (r *ListenerRegistration) OnUnregister(fn func()) *ListenerRegistration {
	if r.removed {
		fn()
		return r
	}
	r.onUnregister = append(r.onUnregister, fn)
	return r
}

// Remove unregisters the listener. It is safe to call more than once.
func (r *ListenerRegistration) Remove() {
	if r.removed {
		return
	}
	r.removed = true
	list := r.node.listeners[r.eventType]
	for i, existing := range list {
		if existing == r {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.node.listeners, r.eventType)
	} else {
		r.node.listeners[r.eventType] = list
	}
	r.node.markDirty()
	for _, fn := range r.onUnregister {
		fn()
	}
	r.onUnregister = nil
}

func (r *ListenerRegistration) changed() {
	if !r.removed {
		r.node.markDirty()
	}
}

// settings returns the client-side description of r.
func (r *ListenerRegistration) settings() ListenerSettings {
	s := ListenerSettings{
		Filter: r.filter,
		Data:   append([]string(nil), r.data...),
		Sync:   append([]string(nil), r.sync...),
	}
	if r.timeout > 0 {
		s.Timeout = r.timeout.Milliseconds()
		s.Phases = append([]DebouncePhase(nil), r.phases...)
	}
	return s
}

// matches reports whether a client event addresses this registration.
func (r *ListenerRegistration) matches(ev ClientEvent) bool {
	if r.removed {
		return false
	}
	if r.timeout > 0 {
		if ev.Timeout != r.timeout || !containsPhase(r.phases, ev.Phase) {
			return false
		}
	} else if ev.Phase != "" {
		return false
	}
	if r.filter != "" {
		ok, _ := ev.Data[r.filter].(bool)
		if !ok {
			return false
		}
	}
	return true
}

// accepts reports why the node state blocks delivery, or nil.
func (r *ListenerRegistration) accepts(n *Node) error {
	if r.mode == DisabledUpdateOnlyWhenEnabled && !n.IsEnabled() {
		return ErrNodeDisabled
	}
	if !r.allowInert && n.IsInert() {
		return ErrNodeInert
	}
	return nil
}

// listenerSnapshot returns the listener feature as sent to the client:
// event type to de-duplicated settings, in registration order.
func (n *Node) listenerSnapshot() map[string]any {
	if len(n.listeners) == 0 {
		return nil
	}
	out := make(map[string]any, len(n.listeners))
	for eventType, regs := range n.listeners {
		var settings []ListenerSettings
		for _, r := range regs {
			s := r.settings()
			dup := false
			for _, existing := range settings {
				if reflect.DeepEqual(existing, s) {
					dup = true
					break
				}
			}
			if !dup {
				settings = append(settings, s)
			}
		}
		out[eventType] = settings
	}
	return out
}

// EventTypes returns the event types with active registrations, sorted.
func (n *Node) EventTypes() []string {
	types := make([]string, 0, len(n.listeners))
	for t := range n.listeners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func normalizePhases(phases []DebouncePhase) []DebouncePhase {
	var out []DebouncePhase
	for _, want := range []DebouncePhase{PhaseLeading, PhaseIntermediate, PhaseTrailing} {
		if containsPhase(phases, want) {
			out = append(out, want)
		}
	}
	return out
}

func containsPhase(phases []DebouncePhase, p DebouncePhase) bool {
	for _, existing := range phases {
		if existing == p {
			return true
		}
	}
	return false
}
