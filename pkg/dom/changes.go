package dom

import (
	"reflect"
	"sort"
)

// ChangeType is the kind of a collected change.
type ChangeType string

const (
	ChangeAttach ChangeType = "attach"
	ChangeDetach ChangeType = "detach"
	ChangePut    ChangeType = "put"
	ChangeRemove ChangeType = "remove"
	ChangeSplice ChangeType = "splice"
)

// TextTag is the Tag of attach changes for text nodes.
const TextTag = "#text"

// Change is one modification of the client-side tree.
type Change struct {
	Node NodeID
	Type ChangeType

	// Put and remove.
	Feature Feature
	Key     string
	Value   any

	// Attach.
	Tag string

	// Splice of the children list: remove Remove ids at Index, then insert
	// Add at Index.
	Index  int
	Remove int
	Add    []NodeID
}

// HasChanges reports whether CollectChanges may return anything or there
// is JS to run.
func (t *Tree) HasChanges() bool {
	return len(t.dirty) > 0 || len(t.attached) > 0 || len(t.detached) > 0 ||
		len(t.js) > 0 || len(t.hooks) > 0
}

// CollectChanges runs before-response hooks and returns every change since
// the previous collection: attaches, then feature changes, then detaches.
func (t *Tree) CollectChanges() []Change {
	t.runHooks()

	var changes []Change
	for _, n := range t.attached {
		if n.tree != t || n.announced {
			continue
		}
		n.announced = true
		tag := n.tag
		if n.kind == KindText {
			tag = TextTag
		}
		changes = append(changes, Change{Node: n.id, Type: ChangeAttach, Tag: tag})
	}
	t.attached = nil

	// Every removal splice precedes every add splice, so a node moved
	// between parents has left its old parent on the client before it is
	// inserted into the new one.
	dirty := t.dirty
	t.dirty = nil
	type pending struct {
		n    *Node
		work []NodeID
	}
	var inserts []pending
	for _, n := range dirty {
		if n.tree != t || !n.dirty {
			continue
		}
		n.dirty = false
		changes = n.diffFeatures(changes)
		if n.kind == KindText {
			continue
		}
		var work []NodeID
		changes, work = n.removeGoneChildren(changes)
		inserts = append(inserts, pending{n: n, work: work})
	}
	for _, p := range inserts {
		changes = p.n.insertChildren(changes, p.work)
	}

	for _, id := range t.detached {
		changes = append(changes, Change{Node: id, Type: ChangeDetach})
	}
	t.detached = nil
	return changes
}

// MarkAllForResync forgets what the client knows, so the next collection
// describes the whole tree from scratch.
func (t *Tree) MarkAllForResync() {
	t.attached = nil
	t.detached = nil
	t.dirty = nil
	t.root.walk(func(n *Node) bool {
		n.resetSent()
		n.dirty = false
		n.markDirty()
		t.attached = append(t.attached, n)
		return true
	})
}

// snapshot returns the current client-visible state of one feature.
func (n *Node) snapshot(f Feature) map[string]any {
	switch f {
	case FeatureAttributes:
		if len(n.attrs) == 0 {
			return nil
		}
		out := make(map[string]any, len(n.attrs))
		for k, v := range n.attrs {
			out[k] = v
		}
		return out
	case FeatureProperties:
		if len(n.props) == 0 {
			return nil
		}
		out := make(map[string]any, len(n.props))
		for k, v := range n.props {
			out[k] = v
		}
		return out
	case FeatureText:
		if n.kind != KindText {
			return nil
		}
		return map[string]any{textKey: n.text}
	case FeatureData:
		out := map[string]any{}
		if n.hidden {
			out["visible"] = false
		}
		if n.disabled {
			out["enabled"] = false
		}
		if n.inert {
			out["inert"] = true
		}
		if names := n.PublishedMethods(); len(names) > 0 {
			list := make([]any, len(names))
			for i, name := range names {
				list[i] = name
			}
			out["published"] = list
		}
		return out
	case FeatureListeners:
		return n.listenerSnapshot()
	}
	return nil
}

func (n *Node) diffFeatures(changes []Change) []Change {
	for _, f := range reportedFeatures {
		cur := n.snapshot(f)
		prev := n.sent[f]
		keys := make([]string, 0, len(cur)+len(prev))
		for k := range cur {
			keys = append(keys, k)
		}
		for k := range prev {
			if _, ok := cur[k]; !ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, inCur := cur[k]
			old, inPrev := prev[k]
			switch {
			case inCur && (!inPrev || !sameValue(old, v)):
				changes = append(changes, Change{Node: n.id, Type: ChangePut, Feature: f, Key: k, Value: v})
			case !inCur && inPrev:
				changes = append(changes, Change{Node: n.id, Type: ChangeRemove, Feature: f, Key: k})
			}
		}
		if n.sent == nil {
			n.sent = make(map[Feature]map[string]any)
		}
		if len(cur) == 0 {
			delete(n.sent, f)
		} else {
			n.sent[f] = cur
		}
	}
	return changes
}

func sameValue(a, b any) bool {
	if valuesEqual(a, b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// removeGoneChildren emits the splices dropping children the client has
// that are no longer children here, highest index first so that indexes
// of pending removals stay valid. It returns the client list afterwards.
func (n *Node) removeGoneChildren(changes []Change) ([]Change, []NodeID) {
	inTarget := make(map[NodeID]bool, len(n.children))
	for _, c := range n.children {
		inTarget[c.id] = true
	}
	work := append([]NodeID(nil), n.sentChildren...)

	// Drop ids that are gone, coalescing adjacent runs.
	for i := len(work) - 1; i >= 0; {
		if inTarget[work[i]] {
			i--
			continue
		}
		end := i
		for i >= 0 && !inTarget[work[i]] {
			i--
		}
		start := i + 1
		count := end - start + 1
		changes = append(changes, Change{Node: n.id, Type: ChangeSplice, Index: start, Remove: count})
		work = append(work[:start], work[end+1:]...)
	}
	return changes, work
}

// insertChildren emits the moves and inserts that turn work, the client
// list after removals, into the current children. Consecutive inserts are
// merged into one splice.
func (n *Node) insertChildren(changes []Change, work []NodeID) []Change {
	target := make([]NodeID, len(n.children))
	for i, c := range n.children {
		target[i] = c.id
	}
	last := -1
	for i, id := range target {
		if i < len(work) && work[i] == id {
			continue
		}
		if j := indexOfID(work, id); j >= 0 {
			changes = append(changes, Change{Node: n.id, Type: ChangeSplice, Index: j, Remove: 1})
			work = append(work[:j], work[j+1:]...)
			last = -1
		}
		work = append(work, 0)
		copy(work[i+1:], work[i:])
		work[i] = id
		if last >= 0 && changes[last].Index+len(changes[last].Add) == i {
			changes[last].Add = append(changes[last].Add, id)
			continue
		}
		changes = append(changes, Change{Node: n.id, Type: ChangeSplice, Index: i, Add: []NodeID{id}})
		last = len(changes) - 1
	}

	n.sentChildren = target
	return changes
}

func indexOfID(ids []NodeID, id NodeID) int {
	for i, existing := range ids {
		if existing == id {
			return i
		}
	}
	return -1
}
