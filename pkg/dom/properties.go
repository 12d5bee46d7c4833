package dom

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// PropertyChangeEvent describes a property value change.
type PropertyChangeEvent struct {
	Node     *Node
	Name     string
	OldValue any
	Value    any

	// UserOriginated is true when the value was reported by the client.
	UserOriginated bool
}

// PropertyChangeListener receives property change events.
type PropertyChangeListener func(PropertyChangeEvent)

type propertyListener struct {
	fn PropertyChangeListener
}

type syncAllowance struct {
	mode DisabledUpdateMode
}

// normalizeValue converts v to the representation used for diffing and
// encoding. Numbers become float64 so that values reported by the client
// (decoded JSON) compare equal to values set on the server.
func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, float64:
		return val, nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return decoded, nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, ErrInvalidValue
	}
	// Round-trip composite values so that the stored form matches what the
	// client will send back.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return decoded, nil
}

// SetProperty sets a DOM property. Setting nil keeps the property with a
// null value; use RemoveProperty to delete it.
func (n *Node) SetProperty(name string, value any) error {
	if n.kind == KindText {
		return ErrTextNode
	}
	if !validName(name) {
		return ErrInvalidName
	}
	if err := n.checkSlot(FeatureProperties, name); err != nil {
		return err
	}
	v, err := normalizeValue(value)
	if err != nil {
		return err
	}
	n.setProp(name, v, false)
	return nil
}

// setProp stores an already normalized value and notifies listeners.
func (n *Node) setProp(name string, value any, fromClient bool) {
	old, existed := n.props[name]
	if existed && valuesEqual(old, value) {
		return
	}
	n.props[name] = value
	if fromClient {
		n.markSent(FeatureProperties, name, value)
	}
	n.markDirty()
	n.firePropertyChange(name, old, value, fromClient)
}

// Property returns the property value and whether it is set.
func (n *Node) Property(name string) (any, bool) {
	if n.kind == KindText {
		return nil, false
	}
	v, ok := n.props[name]
	return v, ok
}

// PropertyString returns the property as a string, converting scalars.
func (n *Node) PropertyString(name, def string) string {
	v, ok := n.Property(name)
	if !ok || v == nil {
		return def
	}
	return valueString(v)
}

// PropertyFloat returns a numeric property or def.
func (n *Node) PropertyFloat(name string, def float64) float64 {
	v, ok := n.Property(name)
	if !ok {
		return def
	}
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return def
		}
		return f
	case bool:
		if val {
			return 1
		}
		return 0
	}
	return def
}

// PropertyBool returns a boolean property or def. Strings follow
// JavaScript truthiness.
func (n *Node) PropertyBool(name string, def bool) bool {
	v, ok := n.Property(name)
	if !ok {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case nil:
		return false
	}
	return true
}

// HasProperty reports whether the property is set.
func (n *Node) HasProperty(name string) bool {
	_, ok := n.Property(name)
	return ok
}

// RemoveProperty deletes a property.
func (n *Node) RemoveProperty(name string) error {
	if n.kind == KindText {
		return ErrTextNode
	}
	if err := n.checkSlot(FeatureProperties, name); err != nil {
		return err
	}
	old, ok := n.props[name]
	if !ok {
		return nil
	}
	delete(n.props, name)
	n.markDirty()
	n.firePropertyChange(name, old, nil, false)
	return nil
}

// PropertyNames returns property names in sorted order.
func (n *Node) PropertyNames() []string {
	names := make([]string, 0, len(n.props))
	for k := range n.props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// AddPropertyChangeListener registers a listener for changes of one
// property, from either side. The returned function removes it.
func (n *Node) AddPropertyChangeListener(name string, fn PropertyChangeListener) func() {
	if n.propListeners == nil {
		n.propListeners = make(map[string][]*propertyListener)
	}
	l := &propertyListener{fn: fn}
	n.propListeners[name] = append(n.propListeners[name], l)
	return func() {
		list := n.propListeners[name]
		for i, existing := range list {
			if existing == l {
				n.propListeners[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// AddSynchronizedPropertyListener synchronizes the property whenever the
// given DOM event fires on the client and registers fn for its changes.
// The returned function undoes both.
func (n *Node) AddSynchronizedPropertyListener(name, domEvent string, fn PropertyChangeListener) func() {
	reg := n.AddEventListener(domEvent, func(*DomEvent) {})
	reg.SynchronizeProperty(name)
	removeListener := n.AddPropertyChangeListener(name, fn)
	return func() {
		reg.Remove()
		removeListener()
	}
}

// AllowPropertySync accepts client updates of the property without tying
// them to an event. The returned function revokes the allowance.
func (n *Node) AllowPropertySync(name string, mode DisabledUpdateMode) func() {
	if n.syncAllowed == nil {
		n.syncAllowed = make(map[string][]*syncAllowance)
	}
	a := &syncAllowance{mode: mode}
	n.syncAllowed[name] = append(n.syncAllowed[name], a)
	return func() {
		list := n.syncAllowed[name]
		for i, existing := range list {
			if existing == a {
				n.syncAllowed[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (n *Node) firePropertyChange(name string, old, value any, fromClient bool) {
	listeners := n.propListeners[name]
	if len(listeners) == 0 {
		return
	}
	ev := PropertyChangeEvent{
		Node:           n,
		Name:           name,
		OldValue:       old,
		Value:          value,
		UserOriginated: fromClient,
	}
	for _, l := range append([]*propertyListener(nil), listeners...) {
		l.fn(ev)
	}
}

// valuesEqual compares two normalized values.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return reflect.DeepEqual(a, b)
}

// valueString converts a normalized scalar to its string form.
func valueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
