package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/protocol"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

type exposedMethod struct {
	name   string
	fn     reflect.Value
	params []reflect.Type // excluding a leading context
	hasCtx bool
	result bool // returns a value besides an error
	errOut bool // last result is an error
}

// Expose publishes fn as $server.<name> on node, callable from the client.
// Call it while holding the UI lock.
//
// fn may take a context.Context first; its other parameters are decoded
// from the JSON call arguments, with a variadic last parameter taking the
// extra arguments. It may return nothing, a value, an error, or a value and
// an error. When the client asked for a promise, it is resolved with the
// value or rejected with the error.
//
// Calls are rejected while node is disabled or inert. The returned
// function withdraws the method.
func (u *UI) Expose(node *dom.Node, name string, fn any) (func(), error) {
	m, err := newExposedMethod(name, fn)
	if err != nil {
		return nil, err
	}
	if err := node.Publish(name); err != nil {
		return nil, err
	}
	methods, _ := node.Data(exposedKey{}).(map[string]*exposedMethod)
	if methods == nil {
		methods = make(map[string]*exposedMethod)
		node.SetData(exposedKey{}, methods)
	}
	methods[name] = m

	return func() {
		if methods[name] != m {
			return
		}
		delete(methods, name)
		if len(methods) == 0 {
			node.SetData(exposedKey{}, nil)
		}
		node.Unpublish(name)
	}, nil
}

// exposedKey is the node data key of the methods exposed on a node. Keeping
// them on the node lets a detached node take its methods with it.
type exposedKey struct{}

func exposedOn(node *dom.Node, name string) *exposedMethod {
	methods, _ := node.Data(exposedKey{}).(map[string]*exposedMethod)
	return methods[name]
}

func newExposedMethod(name string, fn any) (*exposedMethod, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("server: expose %q: not a function", name)
	}
	t := v.Type()
	m := &exposedMethod{name: name, fn: v}
	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		if i == 0 && in == contextType {
			m.hasCtx = true
			continue
		}
		m.params = append(m.params, in)
	}
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			m.errOut = true
		} else {
			m.result = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("server: expose %q: second result must be an error", name)
		}
		m.result, m.errOut = true, true
	default:
		return nil, fmt.Errorf("server: expose %q: too many results", name)
	}
	return m, nil
}

// args decodes the JSON call arguments.
func (m *exposedMethod) args(ctx context.Context, raw []json.RawMessage) ([]reflect.Value, error) {
	variadic := m.fn.Type().IsVariadic()
	fixed := len(m.params)
	if variadic {
		fixed--
	}
	if len(raw) < fixed || (!variadic && len(raw) > fixed) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArguments, m.name, fixed, len(raw))
	}

	in := make([]reflect.Value, 0, len(raw)+1)
	if m.hasCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, r := range raw {
		var t reflect.Type
		if i < fixed {
			t = m.params[i]
		} else {
			t = m.params[fixed].Elem()
		}
		v, err := decodeArg(t, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d: %v", ErrBadArguments, m.name, i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

func decodeArg(t reflect.Type, raw json.RawMessage) (reflect.Value, error) {
	if string(raw) == "null" {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("null for %s", t)
	}
	v := reflect.New(t)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return v.Elem(), nil
}

// call runs the method and splits its results.
func (m *exposedMethod) call(in []reflect.Value) (any, error) {
	out := m.fn.Call(in)
	var result any
	var err error
	if m.result {
		result = out[0].Interface()
	}
	if m.errOut {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	return result, err
}

// callExposed runs a publishedEventHandler invocation.
func (u *UI) callExposed(ctx context.Context, inv *protocol.Invocation) error {
	node, err := u.node(inv.Node)
	if err != nil {
		return err
	}
	m := exposedOn(node, inv.Method)
	if m == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, inv.Method)
	}
	switch {
	case !node.IsEnabled():
		err = dom.ErrNodeDisabled
	case node.IsInert():
		err = dom.ErrNodeInert
	}
	if err != nil {
		u.settlePromise(node, inv.Promise, nil, err)
		return err
	}

	in, err := m.args(ctx, inv.Args)
	if err != nil {
		u.settlePromise(node, inv.Promise, nil, err)
		return err
	}

	// A panic skips settlePromise; the client rejects pending promises
	// when it sees the handler-panic error.
	result, callErr := m.call(in)
	u.settlePromise(node, inv.Promise, result, callErr)
	return callErr
}

// settlePromise resolves or rejects a client promise. Promise id 0 means
// the client did not ask for a result.
func (u *UI) settlePromise(node *dom.Node, promise int, result any, err error) {
	if promise == 0 {
		return
	}
	if err == nil {
		encoded, mErr := json.Marshal(result)
		if mErr == nil {
			node.ExecuteJS(protocol.ResolvePromiseExpr, promise, true, json.RawMessage(encoded))
			return
		}
		err = fmt.Errorf("encode result: %w", mErr)
	}
	msg := err.Error()
	if u.config.ProductionMode && !errors.Is(err, ErrBadArguments) {
		msg = "method call failed"
	}
	node.ExecuteJS(protocol.ResolvePromiseExpr, promise, false, msg)
}
