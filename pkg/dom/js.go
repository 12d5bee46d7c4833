package dom

import (
	"encoding/json"
	"fmt"
)

// NodeRef is a node argument of a JS invocation. It encodes as
// {"@v-node": id} and the client resolves it to the DOM element.
type NodeRef struct {
	ID NodeID
}

// MarshalJSON implements json.Marshaler.
func (r NodeRef) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"@v-node":%d}`, r.ID)), nil
}

// PendingJS is a JavaScript expression queued for execution on the client.
// Inside the expression $0 is the node and $1..$n are the arguments.
type PendingJS struct {
	id   int
	node *Node
	expr string
	args []any

	onResult func(any)
	onError  func(string)
}

// ExecuteJS queues expr for execution with $0 bound to n. A node that is not
// attached runs the expression once it is attached.
func (n *Node) ExecuteJS(expr string, args ...any) *PendingJS {
	p := &PendingJS{node: n, expr: expr, args: args}
	if n.tree == nil {
		n.js = append(n.js, p)
		return p
	}
	n.tree.js = append(n.tree.js, p)
	return p
}

// ExecuteJS queues expr with $0 bound to the body element.
func (t *Tree) ExecuteJS(expr string, args ...any) *PendingJS {
	return t.root.ExecuteJS(expr, args...)
}

// Then registers result callbacks. The client reports the value of the
// expression, or the error message if it threw.
func (p *PendingJS) Then(onResult func(any), onError func(string)) *PendingJS {
	p.onResult = onResult
	p.onError = onError
	return p
}

// ID returns the result id sent to the client, or 0 when no result is
// expected. It is assigned when the invocation is drained.
func (p *PendingJS) ID() int {
	return p.id
}

// Expr returns the expression.
func (p *PendingJS) Expr() string {
	return p.expr
}

// Args returns the encoded arguments, starting with the node reference.
// Node arguments become NodeRef; detached node arguments become null.
func (p *PendingJS) Args() []any {
	out := make([]any, 0, len(p.args)+1)
	out = append(out, NodeRef{ID: p.node.id})
	for _, a := range p.args {
		switch v := a.(type) {
		case *Node:
			if v == nil || v.tree == nil {
				out = append(out, nil)
			} else {
				out = append(out, NodeRef{ID: v.id})
			}
		case json.Marshaler:
			out = append(out, v)
		default:
			out = append(out, a)
		}
	}
	return out
}

// DrainJS returns the queued invocations whose node is attached and assigns
// result ids to those that expect a result. Invocations for nodes detached
// in the meantime wait on the node until it is attached again.
func (t *Tree) DrainJS() []*PendingJS {
	if len(t.js) == 0 {
		return nil
	}
	queued := t.js
	t.js = nil
	var out []*PendingJS
	for _, p := range queued {
		if p.node.tree != t {
			p.node.js = append(p.node.js, p)
			continue
		}
		if p.onResult != nil || p.onError != nil {
			t.nextJSID++
			p.id = t.nextJSID
			t.awaiting[p.id] = p
		}
		out = append(out, p)
	}
	return out
}

// ResolveJS delivers the client result of a drained invocation.
func (t *Tree) ResolveJS(id int, ok bool, value any) error {
	p, found := t.awaiting[id]
	if !found {
		return ErrUnknownInvocation
	}
	delete(t.awaiting, id)
	if ok {
		if p.onResult != nil {
			p.onResult(value)
		}
		return nil
	}
	if p.onError != nil {
		msg, isString := value.(string)
		if !isString {
			msg = valueString(value)
		}
		p.onError(msg)
	}
	return nil
}

// PendingResults returns how many drained invocations still await a result.
func (t *Tree) PendingResults() int {
	return len(t.awaiting)
}
