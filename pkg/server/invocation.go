package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/location"
	"github.com/vango-dev/mirror/pkg/protocol"
)

// InvocationHandler handles one client invocation. It runs with the UI
// lock held.
type InvocationHandler func(ctx context.Context, ui *UI, inv *protocol.Invocation) error

// InvocationMiddleware wraps an InvocationHandler, for tracing, metrics or
// access control. Returning an error without calling next drops the
// invocation.
type InvocationMiddleware func(next InvocationHandler) InvocationHandler

// chain composes middleware around h. The first middleware is outermost.
func chain(h InvocationHandler, mw []InvocationMiddleware) InvocationHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// NavigationHandler handles client-side navigation to location, such as
// history back and forward. It runs with the UI lock held.
type NavigationHandler func(ctx context.Context, ui *UI, location string) error

// SetNavigationHandler installs the handler for navigation invocations.
// Call it while holding the UI lock, typically from the UI initializer.
func (u *UI) SetNavigationHandler(h NavigationHandler) {
	u.navigation = h
}

// Location returns the last location reported by the client or set with
// Navigate.
func (u *UI) Location() string {
	return u.location
}

// Navigate changes the client location without a page load and runs the
// navigation handler for it.
func (u *UI) Navigate(ctx context.Context, loc string) error {
	canonical, err := location.Canonicalize(loc)
	if err != nil {
		return err
	}
	u.tree.ExecuteJS("window.history.pushState(null, '', $1)", canonical)
	return u.navigate(ctx, canonical)
}

// navigate records loc and runs the navigation handler. Locations that
// cannot be canonicalized are rejected without reaching the handler.
func (u *UI) navigate(ctx context.Context, loc string) error {
	canonical, err := location.Canonicalize(loc)
	if err != nil {
		return err
	}
	u.location = canonical
	if u.navigation == nil {
		return nil
	}
	return u.navigation(ctx, u, canonical)
}

// invokeLocked runs inv through the middleware chain, converting panics
// into InvocationError.
func (u *UI) invokeLocked(ctx context.Context, inv *protocol.Invocation) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &InvocationError{
				UIID:  u.id,
				Node:  int(inv.Node),
				Type:  inv.Type,
				Err:   fmt.Errorf("panic: %v", r),
				Panic: r,
				Stack: debug.Stack(),
			}
		}
		u.observer.InvocationHandled(inv.Type, time.Since(start), err)
	}()
	return u.invoke(ctx, u, inv)
}

// dispatch is the innermost InvocationHandler. It routes the invocation
// to the tree.
func dispatch(ctx context.Context, u *UI, inv *protocol.Invocation) error {
	var err error
	switch inv.Type {
	case protocol.InvocationEvent:
		var node *dom.Node
		if node, err = u.node(inv.Node); err == nil {
			_, err = u.tree.DispatchEvent(node, dom.ClientEvent{
				Type:    inv.Event,
				Data:    inv.Data,
				Phase:   inv.Phase,
				Timeout: time.Duration(inv.Timeout) * time.Millisecond,
			})
		}
	case protocol.InvocationPropertySync:
		var node *dom.Node
		if node, err = u.node(inv.Node); err == nil {
			err = u.tree.ApplyPropertySync(node, inv.Property, inv.Value)
		}
	case protocol.InvocationPublished:
		err = u.callExposed(ctx, inv)
	case protocol.InvocationNavigation:
		err = u.navigate(ctx, inv.Location)
	case protocol.InvocationReturn:
		err = u.tree.ResolveJS(inv.ID, inv.Success, inv.Value)
	default:
		err = protocol.ErrUnknownInvocation
	}
	if err == nil {
		return nil
	}
	if _, ok := err.(*InvocationError); ok {
		return err
	}
	return &InvocationError{UIID: u.id, Node: int(inv.Node), Type: inv.Type, Err: err}
}

// node returns the attached node with the given id.
func (u *UI) node(id dom.NodeID) (*dom.Node, error) {
	n := u.tree.Node(id)
	if n == nil {
		return nil, ErrNodeNotFound
	}
	return n, nil
}
