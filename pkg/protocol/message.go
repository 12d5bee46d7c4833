package protocol

import (
	"encoding/json"

	"github.com/vango-dev/mirror/pkg/dom"
)

// InvocationType identifies a client invocation.
type InvocationType string

const (
	// InvocationEvent delivers a DOM event to a node.
	InvocationEvent InvocationType = "event"

	// InvocationPropertySync reports a property value changed on the client.
	InvocationPropertySync InvocationType = "mSync"

	// InvocationPublished calls a server method exposed on a node.
	InvocationPublished InvocationType = "publishedEventHandler"

	// InvocationNavigation reports client-side navigation.
	InvocationNavigation InvocationType = "navigation"

	// InvocationReturn returns the result of a JS execution.
	InvocationReturn InvocationType = "return"
)

// Valid reports whether t is a known invocation type.
func (t InvocationType) Valid() bool {
	switch t {
	case InvocationEvent, InvocationPropertySync, InvocationPublished,
		InvocationNavigation, InvocationReturn:
		return true
	}
	return false
}

// ClientMessage is the body of every client request.
type ClientMessage struct {
	CSRFToken     string       `json:"csrfToken,omitempty"`
	SyncID        int          `json:"syncId"`
	ClientID      int          `json:"clientId"`
	Resynchronize bool         `json:"resynchronize,omitempty"`
	RPC           []Invocation `json:"rpc,omitempty"`
}

// Invocation is one entry of ClientMessage.RPC. Which fields are used
// depends on Type.
type Invocation struct {
	Type InvocationType `json:"type"`
	Node dom.NodeID     `json:"node,omitempty"`

	// event
	Event   string            `json:"event,omitempty"`
	Data    map[string]any    `json:"data,omitempty"`
	Phase   dom.DebouncePhase `json:"phase,omitempty"`
	Timeout int64             `json:"timeout,omitempty"` // milliseconds

	// mSync and return
	Property string `json:"property,omitempty"`
	Value    any    `json:"value,omitempty"`

	// publishedEventHandler
	Method  string            `json:"method,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Promise int               `json:"promise,omitempty"`

	// navigation
	Location string `json:"location,omitempty"`

	// return
	ID      int  `json:"id,omitempty"`
	Success bool `json:"success,omitempty"`
}

// ServerMessage is a response or a pushed message.
type ServerMessage struct {
	SyncID        int       `json:"syncId"`
	ClientID      int       `json:"clientId"`
	Resynchronize bool      `json:"resynchronize,omitempty"`
	Changes       []Change  `json:"changes,omitempty"`
	Execute       []Execute `json:"execute,omitempty"`
	Meta          *Meta     `json:"meta,omitempty"`
}

// Empty reports whether the message carries nothing to apply.
func (m *ServerMessage) Empty() bool {
	return !m.Resynchronize && len(m.Changes) == 0 && len(m.Execute) == 0 && m.Meta == nil
}

// Meta carries message level flags.
type Meta struct {
	// Async marks a pushed message that is not a response to a request.
	Async bool `json:"async,omitempty"`

	SessionExpired bool          `json:"sessionExpired,omitempty"`
	AppError       *ErrorMessage `json:"appError,omitempty"`
}

// Change is the wire form of dom.Change.
type Change struct {
	Node    dom.NodeID     `json:"node"`
	Type    dom.ChangeType `json:"type"`
	Feature dom.Feature    `json:"feat,omitempty"`
	Key     string         `json:"key,omitempty"`
	Value   any            `json:"value,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Index   int            `json:"index,omitempty"`
	Remove  int            `json:"remove,omitempty"`
	Add     []dom.NodeID   `json:"add,omitempty"`
}

// MarshalJSON keeps an explicit null value on put changes, which the
// omitempty tag would otherwise drop.
func (c Change) MarshalJSON() ([]byte, error) {
	type plain Change
	if c.Type != dom.ChangePut || c.Value != nil {
		return json.Marshal(plain(c))
	}
	return json.Marshal(struct {
		plain
		Value any `json:"value"`
	}{plain: plain(c)})
}

// ResolvePromiseExpr settles the client promise of a published method call.
// Its arguments are the promise id, whether the call succeeded, and the
// result or error message.
const ResolvePromiseExpr = "$0.$server.$resolve($1, $2, $3)"

// Execute is one JS expression to run on the client. $0..$n in Expr refer
// to Args. ID is non-zero when the server expects a return invocation.
type Execute struct {
	Args []any  `json:"args"`
	Expr string `json:"expr"`
	ID   int    `json:"id,omitempty"`
}

// FromChanges converts collected tree changes to their wire form.
func FromChanges(changes []dom.Change) []Change {
	if len(changes) == 0 {
		return nil
	}
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{
			Node:    c.Node,
			Type:    c.Type,
			Feature: c.Feature,
			Key:     c.Key,
			Value:   c.Value,
			Tag:     c.Tag,
			Index:   c.Index,
			Remove:  c.Remove,
			Add:     c.Add,
		}
	}
	return out
}

// FromPendingJS converts drained JS invocations to their wire form. The
// node the expression runs on becomes $0.
func FromPendingJS(pending []*dom.PendingJS) []Execute {
	if len(pending) == 0 {
		return nil
	}
	out := make([]Execute, len(pending))
	for i, p := range pending {
		out[i] = Execute{Args: p.Args(), Expr: p.Expr(), ID: p.ID()}
	}
	return out
}
