package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Attr is one rendered attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is a renderable element or text node.
type Node interface {
	// IsText reports whether the node is a text node.
	IsText() bool

	// Tag returns the element tag name.
	Tag() string

	// Text returns the content of a text node.
	Text() string

	// RenderAttrs returns the attributes in output order.
	RenderAttrs() []Attr

	// RenderChildren returns the child nodes in order.
	RenderChildren() []Node

	// Hidden reports whether the element is hidden on the client.
	Hidden() bool
}

// RendererConfig configures the HTML renderer.
type RendererConfig struct {
	// Pretty enables indented output, one element per line.
	Pretty bool

	// Indent is the string used for each indentation level in pretty mode.
	// Defaults to two spaces if not specified.
	Indent string
}

// Renderer writes Node trees as HTML.
type Renderer struct {
	config RendererConfig
}

// NewRenderer creates a new Renderer with the given configuration.
func NewRenderer(config RendererConfig) *Renderer {
	if config.Indent == "" {
		config.Indent = "  "
	}
	return &Renderer{config: config}
}

// RenderToString renders a tree to an HTML string.
func (r *Renderer) RenderToString(node Node) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToWriter(&buf, node); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToWriter streams a tree to the given writer.
func (r *Renderer) RenderToWriter(w io.Writer, node Node) error {
	return r.renderNode(w, node, 0)
}

// HTML renders node compactly. Write errors cannot happen with an in-memory
// buffer, so none is returned.
func HTML(node Node) string {
	s, _ := NewRenderer(RendererConfig{}).RenderToString(node)
	return s
}

func (r *Renderer) renderNode(w io.Writer, node Node, depth int) error {
	if node == nil {
		return nil
	}
	if node.IsText() {
		return r.renderText(w, node)
	}
	return r.renderElement(w, node, depth)
}

// renderElement renders an HTML element with its attributes and children.
func (r *Renderer) renderElement(w io.Writer, node Node, depth int) error {
	tag := node.Tag()

	if r.config.Pretty && depth > 0 {
		r.writeIndent(w, depth)
	}

	if _, err := fmt.Fprintf(w, "<%s", tag); err != nil {
		return err
	}
	if err := r.renderAttributes(w, node); err != nil {
		return err
	}

	if isVoidElement(tag) {
		if _, err := w.Write([]byte{'>'}); err != nil {
			return err
		}
		if r.config.Pretty {
			w.Write([]byte{'\n'})
		}
		return nil
	}

	if _, err := w.Write([]byte{'>'}); err != nil {
		return err
	}

	children := node.RenderChildren()
	hasBlockChildren := len(children) > 0 && !isInlineElement(tag)
	if r.config.Pretty && hasBlockChildren {
		w.Write([]byte{'\n'})
	}
	for _, child := range children {
		if err := r.renderNode(w, child, depth+1); err != nil {
			return err
		}
	}
	if r.config.Pretty && hasBlockChildren {
		r.writeIndent(w, depth)
	}

	if _, err := fmt.Fprintf(w, "</%s>", tag); err != nil {
		return err
	}
	if r.config.Pretty {
		w.Write([]byte{'\n'})
	}
	return nil
}

// renderText renders a text node with HTML escaping.
func (r *Renderer) renderText(w io.Writer, node Node) error {
	_, err := io.WriteString(w, escapeText(node.Text()))
	return err
}

// renderAttributes renders all attributes for an element. A hidden element
// gets the hidden attribute.
func (r *Renderer) renderAttributes(w io.Writer, node Node) error {
	attrs := node.RenderAttrs()
	hiddenWritten := false
	for _, a := range attrs {
		if a.Name == "hidden" {
			hiddenWritten = true
		}
		if isBooleanAttr(a.Name) && a.Value == "" {
			if _, err := fmt.Fprintf(w, " %s", a.Name); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, ` %s="%s"`, a.Name, escapeAttr(a.Value)); err != nil {
			return err
		}
	}
	if node.Hidden() && !hiddenWritten {
		if _, err := io.WriteString(w, " hidden"); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) writeIndent(w io.Writer, depth int) {
	io.WriteString(w, strings.Repeat(r.config.Indent, depth))
}
