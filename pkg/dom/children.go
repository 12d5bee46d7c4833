package dom

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildCount returns the number of children.
func (n *Node) ChildCount() int {
	return len(n.children)
}

// Child returns the child at index, or nil when out of range.
func (n *Node) Child(index int) *Node {
	if index < 0 || index >= len(n.children) {
		return nil
	}
	return n.children[index]
}

// IndexOf returns the position of child, or -1.
func (n *Node) IndexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// AppendChild appends children in order. A child that already has a parent
// is moved.
func (n *Node) AppendChild(children ...*Node) error {
	for _, c := range children {
		if err := n.insert(len(n.children), c); err != nil {
			return err
		}
	}
	return nil
}

// InsertChild inserts children starting at index. The index refers to the
// list as it is before the call; moving an existing child to a later
// position accounts for its own removal.
func (n *Node) InsertChild(index int, children ...*Node) error {
	if index < 0 || index > len(n.children) {
		return ErrIndexOutOfRange
	}
	for _, c := range children {
		if err := n.insert(index, c); err != nil {
			return err
		}
		index = n.IndexOf(c) + 1
	}
	return nil
}

// SetChild replaces the child at index. Setting index == ChildCount appends.
func (n *Node) SetChild(index int, child *Node) error {
	if index < 0 || index > len(n.children) {
		return ErrIndexOutOfRange
	}
	if index == len(n.children) {
		return n.AppendChild(child)
	}
	if n.children[index] == child {
		return nil
	}
	old := n.children[index]
	if err := n.RemoveChild(old); err != nil {
		return err
	}
	return n.InsertChild(index, child)
}

// RemoveChild removes the given children. It fails on the first node that
// is not a child.
func (n *Node) RemoveChild(children ...*Node) error {
	if err := n.checkSlot(FeatureChildren, ""); err != nil {
		return err
	}
	for _, c := range children {
		if c == nil || c.parent != n {
			return ErrNotChild
		}
		n.detachChild(c)
	}
	return nil
}

// RemoveAllChildren removes every child.
func (n *Node) RemoveAllChildren() error {
	if err := n.checkSlot(FeatureChildren, ""); err != nil {
		return err
	}
	for len(n.children) > 0 {
		n.detachChild(n.children[len(n.children)-1])
	}
	return nil
}

// RemoveFromParent removes the node from its parent, if any.
func (n *Node) RemoveFromParent() error {
	if n.parent == nil {
		return nil
	}
	return n.parent.RemoveChild(n)
}

// insert places child at index, moving it from its current parent if needed.
func (n *Node) insert(index int, child *Node) error {
	if child == nil {
		return ErrNotChild
	}
	if n.kind == KindText {
		return ErrTextNode
	}
	if err := n.checkSlot(FeatureChildren, ""); err != nil {
		return err
	}
	for a := n; a != nil; a = a.parent {
		if a == child {
			return ErrCycle
		}
	}
	if child.tree != nil && child.tree.root == child {
		return ErrCycle
	}

	oldParent := child.parent
	oldTree := child.tree
	if oldParent != nil && oldParent != n {
		if err := oldParent.checkSlot(FeatureChildren, ""); err != nil {
			return err
		}
	}
	if oldParent != nil {
		i := oldParent.IndexOf(child)
		oldParent.children = append(oldParent.children[:i], oldParent.children[i+1:]...)
		oldParent.markDirty()
		if oldParent == n && i < index {
			index--
		}
	}
	if index > len(n.children) {
		index = len(n.children)
	}

	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
	child.parent = n
	n.markDirty()

	newTree := n.tree
	switch {
	case oldTree == newTree:
		// Moved within the same tree (or between detached subtrees).
	case oldTree == nil:
		newTree.attachSubtree(child)
	case newTree == nil:
		oldTree.detachSubtree(child)
	default:
		oldTree.detachSubtree(child)
		newTree.attachSubtree(child)
	}
	return nil
}

// detachChild unlinks child from n and detaches it from the tree.
func (n *Node) detachChild(child *Node) {
	i := n.IndexOf(child)
	if i < 0 {
		return
	}
	n.children = append(n.children[:i], n.children[i+1:]...)
	child.parent = nil
	n.markDirty()
	if child.tree != nil {
		child.tree.detachSubtree(child)
	}
}
