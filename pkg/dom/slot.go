package dom

// slotKey identifies one piece of node state that a binding can own.
type slotKey struct {
	feature Feature
	key     string
}

// Slot is an exclusive claim on one piece of node state, held by a binding.
// While a slot is held, direct writes to that state fail with
// ErrBindingActive; the holder writes through Do.
type Slot struct {
	node     *Node
	key      slotKey
	writing  bool
	released bool

	// onClient receives client-reported values for two-way slots.
	onClient func(any) error
}

// Reserve claims the state identified by feature and key. For
// FeatureChildren the key is "". It fails with ErrBindingActive if another
// slot holds the same state.
func (n *Node) Reserve(feature Feature, key string) (*Slot, error) {
	if feature == FeatureAttributes {
		name, err := normalizeAttr(key)
		if err != nil {
			return nil, err
		}
		key = name
	}
	k := slotKey{feature: feature, key: key}
	if _, ok := n.slots[k]; ok {
		return nil, ErrBindingActive
	}
	if n.slots == nil {
		n.slots = make(map[slotKey]*Slot)
	}
	s := &Slot{node: n, key: k}
	n.slots[k] = s
	return s, nil
}

// IsReserved reports whether a binding holds the given state.
func (n *Node) IsReserved(feature Feature, key string) bool {
	if feature == FeatureAttributes {
		key, _ = normalizeAttr(key)
	}
	_, ok := n.slots[slotKey{feature: feature, key: key}]
	return ok
}

// Node returns the node that owns the slot.
func (s *Slot) Node() *Node {
	return s.node
}

// Do runs fn with write access to the reserved state.
func (s *Slot) Do(fn func() error) error {
	if s.released {
		return ErrBindingActive
	}
	prev := s.writing
	s.writing = true
	defer func() { s.writing = prev }()
	return fn()
}

// AcceptClient makes the slot two-way: client values for the reserved
// property are passed to fn instead of being rejected. fn decides whether
// and how the node is updated.
func (s *Slot) AcceptClient(fn func(value any) error) {
	s.onClient = fn
}

// Release gives up the claim. It is safe to call more than once.
func (s *Slot) Release() {
	if s.released {
		return
	}
	s.released = true
	if s.node.slots[s.key] == s {
		delete(s.node.slots, s.key)
	}
}

// checkSlot returns ErrBindingActive when a binding holds the state and is
// not currently writing it.
func (n *Node) checkSlot(feature Feature, key string) error {
	s, ok := n.slots[slotKey{feature: feature, key: key}]
	if !ok || s.writing {
		return nil
	}
	return ErrBindingActive
}

// slotFor returns the slot holding the state, or nil.
func (n *Node) slotFor(feature Feature, key string) *Slot {
	return n.slots[slotKey{feature: feature, key: key}]
}

// markSent records that the client already has value, so the next change
// collection does not echo it back.
func (n *Node) markSent(feature Feature, key string, value any) {
	if n.sent == nil {
		n.sent = make(map[Feature]map[string]any)
	}
	m := n.sent[feature]
	if m == nil {
		m = make(map[string]any)
		n.sent[feature] = m
	}
	m[key] = value
}
