package dom

import (
	"strings"
)

// Kind is the node type discriminator.
type Kind uint8

const (
	KindElement Kind = iota // <div>, <button>, etc.
	KindText                // Plain text node
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	default:
		return "Unknown"
	}
}

// NodeID identifies an attached node within its Tree.
// Zero means the node is not attached.
type NodeID int

// Feature names a group of node state that is synchronized separately.
type Feature string

const (
	FeatureAttributes Feature = "attr"
	FeatureProperties Feature = "prop"
	FeatureText       Feature = "text"
	FeatureListeners  Feature = "evt"
	FeatureData       Feature = "data"
	FeatureChildren   Feature = "children"

	// FeatureClassName reserves a single class name. It is never sent; the
	// class attribute carries the result.
	FeatureClassName Feature = "class"
)

// reportedFeatures are the map-like features diffed by CollectChanges, in
// emission order. Children are diffed separately as splices.
var reportedFeatures = []Feature{
	FeatureAttributes,
	FeatureProperties,
	FeatureText,
	FeatureData,
	FeatureListeners,
}

// textKey is the single key of FeatureText.
const textKey = "text"

// Node is an element or text node in the server-side tree.
type Node struct {
	kind Kind
	tag  string
	text string

	id     NodeID
	tree   *Tree
	parent *Node

	children []*Node

	attrs map[string]string
	props map[string]any

	hidden   bool
	disabled bool
	inert    bool

	published map[string]bool

	listeners     map[string][]*ListenerRegistration
	propListeners map[string][]*propertyListener
	syncAllowed   map[string][]*syncAllowance

	attachListeners []*lifecycleListener
	detachListeners []*lifecycleListener

	slots map[slotKey]*Slot

	// JS queued while the node was detached.
	js []*PendingJS

	// Client-side state as of the last collected change set.
	sent         map[Feature]map[string]any
	sentChildren []NodeID
	announced    bool
	dirty        bool

	data map[any]any
}

// NewElement creates a detached element with the given tag name.
// The tag is lower-cased. It panics on an invalid tag, which is always a
// programming error.
func NewElement(tag string) *Node {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if !validName(tag) {
		panic("dom: invalid tag name " + `"` + tag + `"`)
	}
	return &Node{
		kind:  KindElement,
		tag:   tag,
		attrs: make(map[string]string),
		props: make(map[string]any),
	}
}

// NewText creates a detached text node.
func NewText(text string) *Node {
	return &Node{
		kind: KindText,
		text: text,
	}
}

// Kind returns the node kind.
func (n *Node) Kind() Kind {
	return n.kind
}

// IsText reports whether n is a text node.
func (n *Node) IsText() bool {
	return n.kind == KindText
}

// Tag returns the element tag, or "" for text nodes.
func (n *Node) Tag() string {
	return n.tag
}

// ID returns the node's id in its tree, or 0 when detached.
func (n *Node) ID() NodeID {
	return n.id
}

// Tree returns the tree the node is attached to, or nil.
func (n *Node) Tree() *Tree {
	return n.tree
}

// Parent returns the parent node, or nil.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsAttached reports whether the node is part of a tree.
func (n *Node) IsAttached() bool {
	return n.tree != nil
}

// SetData stores an arbitrary server-only value on the node.
// Data is never sent to the client.
func (n *Node) SetData(key, value any) {
	if n.data == nil {
		n.data = make(map[any]any)
	}
	if value == nil {
		delete(n.data, key)
		return
	}
	n.data[key] = value
}

// Data returns a value stored with SetData.
func (n *Node) Data(key any) any {
	return n.data[key]
}

// SetText sets the text content. For a text node it replaces the text; for
// an element it replaces all children with a single text node.
func (n *Node) SetText(text string) error {
	if n.kind == KindText {
		if n.text == text {
			return nil
		}
		if err := n.checkSlot(FeatureText, textKey); err != nil {
			return err
		}
		n.text = text
		n.markDirty()
		return nil
	}

	if text != "" && len(n.children) == 1 && n.children[0].kind == KindText {
		return n.children[0].SetText(text)
	}
	if err := n.RemoveAllChildren(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return n.AppendChild(NewText(text))
}

// Text returns the text of a text node, or the concatenated text of the
// direct text children of an element.
func (n *Node) Text() string {
	if n.kind == KindText {
		return n.text
	}
	var b strings.Builder
	for _, c := range n.children {
		if c.kind == KindText {
			b.WriteString(c.text)
		}
	}
	return b.String()
}

// TextRecursively returns the text of the whole subtree in document order.
func (n *Node) TextRecursively() string {
	if n.kind == KindText {
		return n.text
	}
	var b strings.Builder
	n.walk(func(c *Node) bool {
		if c.kind == KindText {
			b.WriteString(c.text)
		}
		return true
	})
	return b.String()
}

// SetVisible toggles client-side visibility. Hidden nodes stay in the tree.
func (n *Node) SetVisible(visible bool) error {
	if n.hidden == !visible {
		return nil
	}
	if err := n.checkSlot(FeatureData, "visible"); err != nil {
		return err
	}
	n.hidden = !visible
	n.markDirty()
	return nil
}

// IsVisible reports whether the node itself is visible.
func (n *Node) IsVisible() bool {
	return !n.hidden
}

// SetEnabled enables or disables an element. A disabled element carries the
// "disabled" attribute and ignores client input unless a registration opts
// in with DisabledUpdateAlways.
func (n *Node) SetEnabled(enabled bool) error {
	if n.kind == KindText {
		return ErrTextNode
	}
	if n.disabled == !enabled {
		return nil
	}
	if err := n.checkSlot(FeatureData, "enabled"); err != nil {
		return err
	}
	n.disabled = !enabled
	if enabled {
		delete(n.attrs, "disabled")
	} else {
		n.attrs["disabled"] = ""
	}
	n.markDirty()
	return nil
}

// IsEnabled reports whether the node and all of its ancestors are enabled.
func (n *Node) IsEnabled() bool {
	for c := n; c != nil; c = c.parent {
		if c.disabled {
			return false
		}
	}
	return true
}

// SetInert marks the node and its subtree as inert. Inert nodes ignore
// client input unless a registration allows it.
func (n *Node) SetInert(inert bool) {
	if n.inert == inert {
		return
	}
	n.inert = inert
	n.markDirty()
}

// IsInert reports whether the node or any ancestor is inert.
func (n *Node) IsInert() bool {
	for c := n; c != nil; c = c.parent {
		if c.inert {
			return true
		}
	}
	return false
}

// lifecycleListener wraps an attach or detach callback so that it can be
// removed by identity.
type lifecycleListener struct {
	fn func(*Node)
}

// AddAttachListener registers fn to run whenever the node becomes attached.
// The returned function removes the listener.
func (n *Node) AddAttachListener(fn func(*Node)) func() {
	l := &lifecycleListener{fn: fn}
	n.attachListeners = append(n.attachListeners, l)
	return func() {
		n.attachListeners = removeLifecycle(n.attachListeners, l)
	}
}

// AddDetachListener registers fn to run whenever the node becomes detached.
// The returned function removes the listener.
func (n *Node) AddDetachListener(fn func(*Node)) func() {
	l := &lifecycleListener{fn: fn}
	n.detachListeners = append(n.detachListeners, l)
	return func() {
		n.detachListeners = removeLifecycle(n.detachListeners, l)
	}
}

func removeLifecycle(list []*lifecycleListener, l *lifecycleListener) []*lifecycleListener {
	for i, existing := range list {
		if existing == l {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// walk visits n and its descendants in document order. Returning false from
// visit skips the node's children.
func (n *Node) walk(visit func(*Node) bool) {
	if !visit(n) {
		return
	}
	for _, c := range n.children {
		c.walk(visit)
	}
}

// walkBottomUp visits descendants before their parents.
func (n *Node) walkBottomUp(visit func(*Node)) {
	for _, c := range n.children {
		c.walkBottomUp(visit)
	}
	visit(n)
}

// markDirty flags the node for the next change collection.
func (n *Node) markDirty() {
	if n.tree == nil || n.dirty {
		return
	}
	n.dirty = true
	n.tree.dirty = append(n.tree.dirty, n)
}

// resetSent forgets everything the client knows about n.
func (n *Node) resetSent() {
	n.sent = nil
	n.sentChildren = nil
	n.announced = false
}
