package render

import (
	"errors"
	"strings"
	"testing"
)

type testNode struct {
	tag      string
	text     string
	isText   bool
	hidden   bool
	attrs    []Attr
	children []*testNode
}

func (n *testNode) IsText() bool        { return n.isText }
func (n *testNode) Tag() string         { return n.tag }
func (n *testNode) Text() string        { return n.text }
func (n *testNode) RenderAttrs() []Attr { return n.attrs }
func (n *testNode) Hidden() bool        { return n.hidden }

func (n *testNode) RenderChildren() []Node {
	out := make([]Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func el(tag string, attrs []Attr, children ...*testNode) *testNode {
	return &testNode{tag: tag, attrs: attrs, children: children}
}

func text(s string) *testNode {
	return &testNode{isText: true, text: s}
}

func TestRenderElement(t *testing.T) {
	tests := []struct {
		name     string
		node     *testNode
		expected string
	}{
		{
			name:     "empty div",
			node:     el("div", nil),
			expected: "<div></div>",
		},
		{
			name:     "text child",
			node:     el("p", nil, text("Hello")),
			expected: "<p>Hello</p>",
		},
		{
			name:     "attributes in order",
			node:     el("a", []Attr{{Name: "class", Value: "x"}, {Name: "href", Value: "/y"}}),
			expected: `<a class="x" href="/y"></a>`,
		},
		{
			name:     "nested",
			node:     el("ul", nil, el("li", nil, text("a")), el("li", nil, text("b"))),
			expected: "<ul><li>a</li><li>b</li></ul>",
		},
		{
			name:     "escaped text",
			node:     el("span", nil, text("<b>&</b>")),
			expected: "<span>&lt;b&gt;&amp;&lt;/b&gt;</span>",
		},
		{
			name:     "escaped attribute",
			node:     el("div", []Attr{{Name: "title", Value: `say "hi"`}}),
			expected: `<div title="say &quot;hi&quot;"></div>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTML(tt.node); got != tt.expected {
				t.Errorf("HTML() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRenderVoidElements(t *testing.T) {
	for _, tag := range []string{"br", "hr", "img", "input", "meta", "wbr"} {
		t.Run(tag, func(t *testing.T) {
			html := HTML(el(tag, nil))
			if html != "<"+tag+">" {
				t.Errorf("void element should not have closing tag, got %q", html)
			}
		})
	}
}

func TestRenderBooleanAttributes(t *testing.T) {
	node := el("input", []Attr{{Name: "disabled", Value: ""}, {Name: "value", Value: ""}})
	html := HTML(node)
	if !strings.Contains(html, " disabled") || strings.Contains(html, `disabled=""`) {
		t.Errorf("boolean attribute should render bare, got %q", html)
	}
	if !strings.Contains(html, ` value=""`) {
		t.Errorf("non-boolean attribute should keep its empty value, got %q", html)
	}
}

func TestRenderHidden(t *testing.T) {
	node := el("div", nil)
	node.hidden = true
	if got := HTML(node); got != "<div hidden></div>" {
		t.Errorf("HTML() = %q", got)
	}

	node.attrs = []Attr{{Name: "hidden", Value: ""}}
	if got := HTML(node); got != "<div hidden></div>" {
		t.Errorf("hidden should not be written twice, got %q", got)
	}
}

func TestRenderPretty(t *testing.T) {
	r := NewRenderer(RendererConfig{Pretty: true})
	html, err := r.RenderToString(el("div", nil, el("span", nil, text("x"))))
	if err != nil {
		t.Fatal(err)
	}
	want := "<div>\n  <span>x</span>\n</div>\n"
	if html != want {
		t.Errorf("pretty output = %q, want %q", html, want)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRenderWriterError(t *testing.T) {
	r := NewRenderer(RendererConfig{})
	if err := r.RenderToWriter(failWriter{}, el("div", nil)); err == nil {
		t.Fatal("expected write error")
	}
}
