package dom

// DispatchEvent delivers a client event to the matching registrations of
// node and returns how many listeners ran. When registrations matched but
// all of them were blocked by the node state, the error says why.
func (t *Tree) DispatchEvent(node *Node, ev ClientEvent) (int, error) {
	if node == nil || node.tree != t {
		return 0, ErrNodeNotAttached
	}
	regs := append([]*ListenerRegistration(nil), node.listeners[ev.Type]...)
	delivered := 0
	var blocked error
	for _, r := range regs {
		if !r.matches(ev) {
			continue
		}
		if err := r.accepts(node); err != nil {
			if blocked == nil {
				blocked = err
			}
			continue
		}
		r.listener(&DomEvent{
			Source: node,
			Type:   ev.Type,
			Data:   ev.Data,
			Phase:  ev.Phase,
		})
		delivered++
	}
	if delivered == 0 && blocked != nil {
		return 0, blocked
	}
	return delivered, nil
}

// ApplyPropertySync applies a property value reported by the client. The
// value is recorded as already sent, so it is not echoed back.
func (t *Tree) ApplyPropertySync(node *Node, name string, value any) error {
	if node == nil || node.tree != t {
		return ErrNodeNotAttached
	}
	if node.kind == KindText {
		return ErrTextNode
	}
	mode, inertOK, ok := node.syncPermission(name)
	if !ok {
		return ErrPropertyNotSynced
	}
	if mode == DisabledUpdateOnlyWhenEnabled && !node.IsEnabled() {
		return ErrNodeDisabled
	}
	if !inertOK && node.IsInert() {
		return ErrNodeInert
	}
	v, err := normalizeValue(value)
	if err != nil {
		return err
	}
	if slot := node.slotFor(FeatureProperties, name); slot != nil {
		if slot.onClient == nil {
			return ErrBindingActive
		}
		node.markSent(FeatureProperties, name, v)
		node.markDirty()
		return slot.onClient(v)
	}
	node.setProp(name, v, true)
	return nil
}

// syncPermission combines every registration and allowance that lets the
// client update the property.
func (n *Node) syncPermission(name string) (mode DisabledUpdateMode, inertOK, ok bool) {
	for _, regs := range n.listeners {
		for _, r := range regs {
			for _, p := range r.sync {
				if p != name {
					continue
				}
				if !ok {
					mode = r.mode
				} else {
					mode = mostPermissive(mode, r.mode)
				}
				inertOK = inertOK || r.allowInert
				ok = true
			}
		}
	}
	for _, a := range n.syncAllowed[name] {
		if !ok {
			mode = a.mode
		} else {
			mode = mostPermissive(mode, a.mode)
		}
		ok = true
	}
	return mode, inertOK, ok
}
