package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/render"
)

// ErrUnknownNode is returned when a change references a node id the
// mirror does not have.
var ErrUnknownNode = errors.New("client: unknown node")

// Node is one node of the client mirror.
type Node struct {
	id        dom.NodeID
	tag       string
	text      string
	attrs     map[string]string
	props     map[string]any
	data      map[string]any
	listeners map[string][]dom.ListenerSettings
	children  []*Node
	parent    *Node
}

// ID returns the node id assigned by the server.
func (n *Node) ID() dom.NodeID { return n.id }

// IsText reports whether the node is a text node.
func (n *Node) IsText() bool { return n.tag == dom.TextTag }

// Tag returns the element tag, or "#text".
func (n *Node) Tag() string { return n.tag }

// Text returns the content of a text node.
func (n *Node) Text() string { return n.text }

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child nodes in order.
func (n *Node) Children() []*Node { return append([]*Node(nil), n.children...) }

// Attribute returns an attribute value.
func (n *Node) Attribute(name string) (string, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

// Property returns a property value as decoded from JSON.
func (n *Node) Property(name string) (any, bool) {
	v, ok := n.props[name]
	return v, ok
}

// Listeners returns the listener settings for an event type.
func (n *Node) Listeners(eventType string) []dom.ListenerSettings {
	return n.listeners[eventType]
}

// IsVisible reports whether the server marked the node visible.
func (n *Node) IsVisible() bool { return n.data["visible"] != false }

// IsEnabled reports whether the server marked the node enabled.
func (n *Node) IsEnabled() bool { return n.data["enabled"] != false }

// Published returns the names of the server methods callable on the node.
func (n *Node) Published() []string {
	list, _ := n.data["published"].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// TextContent returns the concatenated text of the subtree.
func (n *Node) TextContent() string {
	if n.IsText() {
		return n.text
	}
	var s string
	for _, c := range n.children {
		s += c.TextContent()
	}
	return s
}

// RenderAttrs implements render.Node. Attributes are sorted by name.
func (n *Node) RenderAttrs() []render.Attr {
	names := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]render.Attr, len(names))
	for i, k := range names {
		out[i] = render.Attr{Name: k, Value: n.attrs[k]}
	}
	return out
}

// RenderChildren implements render.Node.
func (n *Node) RenderChildren() []render.Node {
	out := make([]render.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Hidden implements render.Node.
func (n *Node) Hidden() bool { return !n.IsVisible() }

// Tree is the client side mirror of a server tree, built only from the
// changes the server sends.
type Tree struct {
	nodes map[dom.NodeID]*Node
}

// NewTree returns an empty mirror.
func NewTree() *Tree {
	return &Tree{nodes: make(map[dom.NodeID]*Node)}
}

// Root returns the body node, or nil before the first message.
func (t *Tree) Root() *Node { return t.nodes[dom.RootID] }

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id dom.NodeID) *Node { return t.nodes[id] }

// Len returns the number of known nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Reset forgets every node. A resynchronizing message starts from here.
func (t *Tree) Reset() {
	t.nodes = make(map[dom.NodeID]*Node)
}

// Find returns the attached nodes for which match returns true, in
// document order.
func (t *Tree) Find(match func(*Node) bool) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if match(n) {
			out = append(out, n)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	if root := t.Root(); root != nil {
		walk(root)
	}
	return out
}

// HTML renders the mirror from the root.
func (t *Tree) HTML() string {
	root := t.Root()
	if root == nil {
		return ""
	}
	return render.HTML(root)
}

// Apply applies changes in order. It stops at the first change that
// cannot be applied.
func (t *Tree) Apply(changes []protocol.Change) error {
	for i, c := range changes {
		if err := t.apply(c); err != nil {
			return fmt.Errorf("client: change %d (%s on node %d): %w", i, c.Type, c.Node, err)
		}
	}
	return nil
}

func (t *Tree) apply(c protocol.Change) error {
	if c.Type == dom.ChangeAttach {
		if c.Tag == "" {
			return errors.New("attach without tag")
		}
		t.nodes[c.Node] = &Node{id: c.Node, tag: c.Tag}
		return nil
	}

	n := t.nodes[c.Node]
	if n == nil {
		return ErrUnknownNode
	}
	switch c.Type {
	case dom.ChangeDetach:
		if n.parent != nil {
			n.parent.removeChild(n)
		}
		delete(t.nodes, c.Node)
	case dom.ChangePut:
		return n.put(c.Feature, c.Key, c.Value)
	case dom.ChangeRemove:
		n.remove(c.Feature, c.Key)
	case dom.ChangeSplice:
		return t.splice(n, c)
	default:
		return fmt.Errorf("unknown change type %q", c.Type)
	}
	return nil
}

func (n *Node) put(f dom.Feature, key string, value any) error {
	switch f {
	case dom.FeatureAttributes:
		if n.attrs == nil {
			n.attrs = make(map[string]string)
		}
		if s, ok := value.(string); ok {
			n.attrs[key] = s
		} else {
			n.attrs[key] = fmt.Sprint(value)
		}
	case dom.FeatureProperties:
		if n.props == nil {
			n.props = make(map[string]any)
		}
		n.props[key] = value
	case dom.FeatureText:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("text value %T", value)
		}
		n.text = s
	case dom.FeatureData:
		if n.data == nil {
			n.data = make(map[string]any)
		}
		n.data[key] = value
	case dom.FeatureListeners:
		// Values arrive as generic JSON; round trip them into settings.
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		var settings []dom.ListenerSettings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return fmt.Errorf("listener settings: %w", err)
		}
		if n.listeners == nil {
			n.listeners = make(map[string][]dom.ListenerSettings)
		}
		n.listeners[key] = settings
	default:
		return fmt.Errorf("unknown feature %q", f)
	}
	return nil
}

func (n *Node) remove(f dom.Feature, key string) {
	switch f {
	case dom.FeatureAttributes:
		delete(n.attrs, key)
	case dom.FeatureProperties:
		delete(n.props, key)
	case dom.FeatureText:
		n.text = ""
	case dom.FeatureData:
		delete(n.data, key)
	case dom.FeatureListeners:
		delete(n.listeners, key)
	}
}

func (t *Tree) splice(n *Node, c protocol.Change) error {
	if c.Index < 0 || c.Index+c.Remove > len(n.children) {
		return fmt.Errorf("splice [%d:+%d] out of range (%d children)", c.Index, c.Remove, len(n.children))
	}
	for _, child := range n.children[c.Index : c.Index+c.Remove] {
		child.parent = nil
	}
	n.children = append(n.children[:c.Index], n.children[c.Index+c.Remove:]...)

	if len(c.Add) == 0 {
		return nil
	}
	add := make([]*Node, len(c.Add))
	for i, id := range c.Add {
		child := t.nodes[id]
		if child == nil {
			return fmt.Errorf("%w: child %d", ErrUnknownNode, id)
		}
		if child.parent != nil {
			child.parent.removeChild(child)
		}
		child.parent = n
		add[i] = child
	}
	rest := append(add, n.children[c.Index:]...)
	n.children = append(n.children[:c.Index:c.Index], rest...)
	return nil
}

func (n *Node) removeChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// setProperty records a client side property value.
func (n *Node) setProperty(name string, value any) {
	if n.props == nil {
		n.props = make(map[string]any)
	}
	n.props[name] = value
}
