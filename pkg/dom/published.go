package dom

import "sort"

// Publish announces a server method callable from the client as
// $server.<name> on the element.
func (n *Node) Publish(name string) error {
	if n.kind == KindText {
		return ErrTextNode
	}
	if !validName(name) {
		return ErrInvalidName
	}
	if n.published[name] {
		return nil
	}
	if n.published == nil {
		n.published = make(map[string]bool)
	}
	n.published[name] = true
	n.markDirty()
	return nil
}

// Unpublish withdraws a method announced with Publish.
func (n *Node) Unpublish(name string) {
	if !n.published[name] {
		return
	}
	delete(n.published, name)
	n.markDirty()
}

// PublishedMethods returns the announced method names, sorted.
func (n *Node) PublishedMethods() []string {
	if len(n.published) == 0 {
		return nil
	}
	names := make([]string, 0, len(n.published))
	for name := range n.published {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
