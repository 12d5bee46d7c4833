package dom

import (
	"sort"
	"strings"
)

// validName reports whether s can be used as a tag, attribute or property
// name. It rejects empty names and characters that would break HTML
// serialization.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r <= ' ', r == 0x7f:
			return false
		case r == '<', r == '>', r == '"', r == '\'', r == '/', r == '=':
			return false
		}
	}
	return true
}

// normalizeAttr validates and lower-cases an attribute name.
func normalizeAttr(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !validName(name) {
		return "", ErrInvalidName
	}
	return name, nil
}

// SetAttribute sets an attribute value. Attribute names are case-insensitive
// and stored lower-cased.
func (n *Node) SetAttribute(name, value string) error {
	if n.kind == KindText {
		return ErrTextNode
	}
	name, err := normalizeAttr(name)
	if err != nil {
		return err
	}
	if err := n.checkSlot(FeatureAttributes, name); err != nil {
		return err
	}
	if err := n.checkLinkedAttr(name, value, true); err != nil {
		return err
	}
	n.setAttr(name, value)
	if name == "disabled" {
		n.disabled = true
	}
	return nil
}

// SetBoolAttribute adds the attribute with an empty value when value is
// true and removes it otherwise.
func (n *Node) SetBoolAttribute(name string, value bool) error {
	if value {
		return n.SetAttribute(name, "")
	}
	return n.RemoveAttribute(name)
}

// setAttr writes without validation or slot checks.
func (n *Node) setAttr(name, value string) {
	if old, ok := n.attrs[name]; ok && old == value {
		return
	}
	n.attrs[name] = value
	n.markDirty()
}

// Attribute returns the attribute value and whether it is present.
func (n *Node) Attribute(name string) (string, bool) {
	if n.kind == KindText {
		return "", false
	}
	v, ok := n.attrs[strings.ToLower(name)]
	return v, ok
}

// HasAttribute reports whether the attribute is present.
func (n *Node) HasAttribute(name string) bool {
	_, ok := n.Attribute(name)
	return ok
}

// RemoveAttribute removes an attribute. Removing a missing attribute is not
// an error.
func (n *Node) RemoveAttribute(name string) error {
	if n.kind == KindText {
		return ErrTextNode
	}
	name, err := normalizeAttr(name)
	if err != nil {
		return err
	}
	if err := n.checkSlot(FeatureAttributes, name); err != nil {
		return err
	}
	if err := n.checkLinkedAttr(name, "", false); err != nil {
		return err
	}
	n.removeAttr(name)
	if name == "disabled" {
		n.disabled = false
	}
	return nil
}

// checkLinkedAttr guards attributes that mirror other node state. The
// "class" attribute must not add or drop a class name held by a binding,
// and "disabled" belongs to the enabled state.
func (n *Node) checkLinkedAttr(name, value string, present bool) error {
	switch name {
	case "class":
		before := classSet(n.attrs["class"])
		after := map[string]bool{}
		if present {
			after = classSet(value)
		}
		for k := range n.slots {
			if k.feature != FeatureClassName || before[k.key] == after[k.key] {
				continue
			}
			if err := n.checkSlot(FeatureClassName, k.key); err != nil {
				return err
			}
		}
	case "disabled":
		if present != n.disabled {
			return n.checkSlot(FeatureData, "enabled")
		}
	}
	return nil
}

func classSet(v string) map[string]bool {
	set := map[string]bool{}
	for _, name := range strings.Fields(v) {
		set[name] = true
	}
	return set
}

func (n *Node) removeAttr(name string) {
	if _, ok := n.attrs[name]; !ok {
		return
	}
	delete(n.attrs, name)
	n.markDirty()
}

// AttributeNames returns the attribute names in sorted order.
func (n *Node) AttributeNames() []string {
	names := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ClassList is a view of the "class" attribute as a set of class names.
type ClassList struct {
	node *Node
}

// ClassList returns the class list of an element.
func (n *Node) ClassList() *ClassList {
	return &ClassList{node: n}
}

func (c *ClassList) names() []string {
	v, _ := c.node.Attribute("class")
	return strings.Fields(v)
}

func (c *ClassList) write(names []string) error {
	if len(names) == 0 {
		return c.node.RemoveAttribute("class")
	}
	return c.node.SetAttribute("class", strings.Join(names, " "))
}

// Contains reports whether the class is present.
func (c *ClassList) Contains(name string) bool {
	for _, existing := range c.names() {
		if existing == name {
			return true
		}
	}
	return false
}

// Add adds classes that are not yet present, keeping existing order.
func (c *ClassList) Add(names ...string) error {
	current := c.names()
	changed := false
	for _, name := range names {
		if name == "" || strings.ContainsAny(name, " \t\n") {
			return ErrInvalidName
		}
		if err := c.node.checkSlot(FeatureClassName, name); err != nil {
			return err
		}
		found := false
		for _, existing := range current {
			if existing == name {
				found = true
				break
			}
		}
		if !found {
			current = append(current, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.write(current)
}

// Remove removes the given classes.
func (c *ClassList) Remove(names ...string) error {
	for _, name := range names {
		if err := c.node.checkSlot(FeatureClassName, name); err != nil {
			return err
		}
	}
	current := c.names()
	kept := current[:0]
	for _, existing := range current {
		drop := false
		for _, name := range names {
			if existing == name {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(c.names()) {
		return nil
	}
	return c.write(kept)
}

// Set adds the class when on is true and removes it otherwise.
func (c *ClassList) Set(name string, on bool) error {
	if on {
		return c.Add(name)
	}
	return c.Remove(name)
}

// Toggle flips the presence of a class and reports the new state.
func (c *ClassList) Toggle(name string) (bool, error) {
	on := !c.Contains(name)
	return on, c.Set(name, on)
}

// Names returns the class names in attribute order.
func (c *ClassList) Names() []string {
	return c.names()
}

// Style is a view of the "style" attribute as ordered property/value pairs.
type Style struct {
	node *Node
}

// Style returns the inline style of an element.
func (n *Node) Style() *Style {
	return &Style{node: n}
}

type styleEntry struct {
	name  string
	value string
}

func (s *Style) entries() []styleEntry {
	raw, _ := s.node.Attribute("style")
	var out []styleEntry
	for _, decl := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		out = append(out, styleEntry{name: name, value: value})
	}
	return out
}

func (s *Style) write(entries []styleEntry) error {
	if len(entries) == 0 {
		return s.node.RemoveAttribute("style")
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.name + ":" + e.value
	}
	return s.node.SetAttribute("style", strings.Join(parts, ";"))
}

// Get returns the value of a style property.
func (s *Style) Get(name string) string {
	name = styleName(name)
	for _, e := range s.entries() {
		if e.name == name {
			return e.value
		}
	}
	return ""
}

// Set sets a style property. An empty value removes it. Camel-case names
// are converted to their dashed form.
func (s *Style) Set(name, value string) error {
	name = styleName(name)
	if !validName(name) {
		return ErrInvalidName
	}
	value = strings.TrimSuffix(strings.TrimSpace(value), ";")
	if value == "" {
		return s.Remove(name)
	}
	entries := s.entries()
	for i := range entries {
		if entries[i].name == name {
			entries[i].value = value
			return s.write(entries)
		}
	}
	return s.write(append(entries, styleEntry{name: name, value: value}))
}

// Remove removes a style property.
func (s *Style) Remove(name string) error {
	name = styleName(name)
	entries := s.entries()
	for i := range entries {
		if entries[i].name == name {
			return s.write(append(entries[:i], entries[i+1:]...))
		}
	}
	return nil
}

// Names returns the style property names in declaration order.
func (s *Style) Names() []string {
	entries := s.entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// styleName converts "backgroundColor" to "background-color". Custom
// properties ("--x") are kept as is.
func styleName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "--") {
		return name
	}
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
