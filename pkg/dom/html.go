package dom

import "github.com/vango-dev/mirror/pkg/render"

// htmlNode adapts a Node to render.Node.
type htmlNode struct {
	n *Node
}

func (h htmlNode) IsText() bool { return h.n.kind == KindText }
func (h htmlNode) Tag() string  { return h.n.tag }
func (h htmlNode) Text() string { return h.n.text }
func (h htmlNode) Hidden() bool { return h.n.hidden }

func (h htmlNode) RenderAttrs() []render.Attr {
	names := h.n.AttributeNames()
	out := make([]render.Attr, len(names))
	for i, name := range names {
		out[i] = render.Attr{Name: name, Value: h.n.attrs[name]}
	}
	return out
}

func (h htmlNode) RenderChildren() []render.Node {
	out := make([]render.Node, len(h.n.children))
	for i, c := range h.n.children {
		out[i] = htmlNode{n: c}
	}
	return out
}

// OuterHTML renders the node and its subtree. Properties and listeners are
// not part of the markup.
func (n *Node) OuterHTML() string {
	return render.HTML(htmlNode{n: n})
}
