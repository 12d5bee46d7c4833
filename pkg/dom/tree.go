package dom

import "log/slog"

// RootID is the id of the body element of every tree.
const RootID NodeID = 1

// Tree owns a root body element and every node attached below it.
type Tree struct {
	root   *Node
	nodes  map[NodeID]*Node
	nextID NodeID

	// Nodes changed since the last collection, in first-change order.
	dirty []*Node

	// Nodes attached since the last collection, parents first.
	attached []*Node

	// Ids of announced nodes detached since the last collection.
	detached []NodeID

	js       []*PendingJS
	awaiting map[int]*PendingJS
	nextJSID int

	hooks []*beforeResponseHook

	scheduler func(func())
	logger    *slog.Logger
}

type beforeResponseHook struct {
	node *Node
	fn   func()
}

// NewTree creates a tree with an attached body element.
func NewTree() *Tree {
	t := &Tree{
		nodes:    make(map[NodeID]*Node),
		nextID:   RootID,
		awaiting: make(map[int]*PendingJS),
	}
	root := NewElement("body")
	t.root = root
	t.attachSubtree(root)
	return t
}

// Root returns the body element.
func (t *Tree) Root() *Node {
	return t.root
}

// Node returns the attached node with the given id, or nil.
func (t *Tree) Node(id NodeID) *Node {
	return t.nodes[id]
}

// Len returns the number of attached nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// SetScheduler installs the function that runs deferred work, such as
// effect re-runs triggered from other goroutines. The UI passes its access
// queue here.
func (t *Tree) SetScheduler(fn func(func())) {
	t.scheduler = fn
}

// SetLogger sets the logger for failures that have no caller to return an
// error to, such as binding updates run by the scheduler.
func (t *Tree) SetLogger(l *slog.Logger) {
	t.logger = l
}

// Logger returns the tree logger, or slog.Default() when none is set.
func (t *Tree) Logger() *slog.Logger {
	if t.logger == nil {
		return slog.Default()
	}
	return t.logger
}

// Schedule runs fn through the scheduler, or directly if none is set.
func (t *Tree) Schedule(fn func()) {
	if t.scheduler == nil {
		fn()
		return
	}
	t.scheduler(fn)
}

// BeforeClientResponse runs fn once before the next change collection, as
// long as node is attached to t at that time. The returned function cancels
// it.
func (t *Tree) BeforeClientResponse(node *Node, fn func()) func() {
	h := &beforeResponseHook{node: node, fn: fn}
	t.hooks = append(t.hooks, h)
	return func() {
		for i, existing := range t.hooks {
			if existing == h {
				t.hooks = append(t.hooks[:i:i], t.hooks[i+1:]...)
				return
			}
		}
	}
}

// runHooks runs pending hooks. Hooks added while running are run too.
func (t *Tree) runHooks() {
	for len(t.hooks) > 0 {
		hooks := t.hooks
		t.hooks = nil
		for _, h := range hooks {
			if h.node == nil || h.node.tree == t {
				h.fn()
			}
		}
	}
}

// attachSubtree assigns ids to n and its descendants, then fires attach
// listeners parent first.
func (t *Tree) attachSubtree(n *Node) {
	var added []*Node
	n.walk(func(c *Node) bool {
		c.tree = t
		c.id = t.nextID
		t.nextID++
		t.nodes[c.id] = c
		c.resetSent()
		c.dirty = false
		c.markDirty()
		t.attached = append(t.attached, c)
		if len(c.js) > 0 {
			t.js = append(t.js, c.js...)
			c.js = nil
		}
		added = append(added, c)
		return true
	})
	for _, c := range added {
		if c.tree != t {
			continue
		}
		for _, l := range append([]*lifecycleListener(nil), c.attachListeners...) {
			l.fn(c)
		}
	}
}

// detachSubtree releases the ids of n and its descendants, then fires detach
// listeners children first.
func (t *Tree) detachSubtree(n *Node) {
	var removed []*Node
	n.walkBottomUp(func(c *Node) {
		if c.tree != t {
			return
		}
		if c.announced {
			t.detached = append(t.detached, c.id)
		}
		delete(t.nodes, c.id)
		c.id = 0
		c.tree = nil
		c.dirty = false
		c.resetSent()
		removed = append(removed, c)
	})
	for _, c := range removed {
		if c.tree != nil {
			continue
		}
		for _, l := range append([]*lifecycleListener(nil), c.detachListeners...) {
			l.fn(c)
		}
	}
}
