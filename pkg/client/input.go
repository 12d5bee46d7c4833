package client

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/protocol"
)

// Fire dispatches a DOM event on a node and sends what the listeners of
// the node ask for.
//
// Each listener setting is handled like the browser would: a filter key
// must be true in data, synchronized properties are sent before the event,
// and debounced settings go through their phase state machine. Phases that
// fire later are sent by Run.
func (c *Client) Fire(ctx context.Context, node dom.NodeID, event string, data map[string]any) error {
	c.mu.Lock()
	n := c.tree.Node(node)
	if n == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownNode, node)
	}
	settings := n.Listeners(event)
	if len(settings) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s on node %d", ErrNoListener, event, node)
	}

	var immediate []dom.ListenerSettings
	for _, s := range settings {
		if s.Filter != "" && data[s.Filter] != true {
			continue
		}
		if s.Timeout == 0 {
			immediate = append(immediate, s)
			continue
		}
		d := c.debouncerLocked(node, event, s)
		for _, phase := range d.trigger(data) {
			c.queueEventLocked(n, event, s, phase, data)
		}
	}
	if len(immediate) > 0 {
		var sync []string
		for _, s := range immediate {
			sync = append(sync, s.Sync...)
		}
		c.queueEventLocked(n, event, dom.ListenerSettings{Sync: sync}, "", data)
	}
	c.mu.Unlock()
	return c.send(ctx, false)
}

func (c *Client) debouncerLocked(node dom.NodeID, event string, s dom.ListenerSettings) *timedDebouncer {
	key := debounceKey{node: node, event: event, filter: s.Filter, timeout: s.Timeout}
	if d := c.debouncers[key]; d != nil {
		return d
	}
	d := newTimedDebouncer(s, func(phase dom.DebouncePhase, data map[string]any) {
		c.mu.Lock()
		n := c.tree.Node(node)
		if n != nil {
			c.queueEventLocked(n, event, s, phase, data)
		}
		c.mu.Unlock()
		if n != nil {
			signal(c.flushCh)
		}
	})
	c.debouncers[key] = d
	return d
}

// queueEventLocked queues the synchronized properties of s followed by the
// event itself.
func (c *Client) queueEventLocked(n *Node, event string, s dom.ListenerSettings, phase dom.DebouncePhase, data map[string]any) {
	seen := make(map[string]bool, len(s.Sync))
	for _, name := range s.Sync {
		if seen[name] {
			continue
		}
		seen[name] = true
		value, _ := n.Property(name)
		c.queue = append(c.queue, protocol.Invocation{
			Type:     protocol.InvocationPropertySync,
			Node:     n.id,
			Property: name,
			Value:    value,
		})
	}
	inv := protocol.Invocation{
		Type:  protocol.InvocationEvent,
		Node:  n.id,
		Event: event,
		Data:  data,
	}
	if phase != "" {
		inv.Phase = phase
		inv.Timeout = s.Timeout
	}
	c.queue = append(c.queue, inv)
}

// SetProperty changes a property on the client only, like typing into an
// input. The value reaches the server with the next event whose listener
// synchronizes it.
func (c *Client) SetProperty(node dom.NodeID, name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.tree.Node(node)
	if n == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, node)
	}
	n.setProperty(name, value)
	return nil
}

// SyncProperty changes a property and sends it right away. The server
// accepts it only for properties the node allows to be synchronized.
func (c *Client) SyncProperty(ctx context.Context, node dom.NodeID, name string, value any) error {
	c.mu.Lock()
	n := c.tree.Node(node)
	if n == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownNode, node)
	}
	n.setProperty(name, value)
	c.queue = append(c.queue, protocol.Invocation{
		Type:     protocol.InvocationPropertySync,
		Node:     node,
		Property: name,
		Value:    value,
	})
	c.mu.Unlock()
	return c.send(ctx, false)
}

// Call invokes a method the server published on a node and returns its
// JSON result.
func (c *Client) Call(ctx context.Context, node dom.NodeID, method string, args ...any) (json.RawMessage, error) {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("client: call %s argument %d: %w", method, i, err)
		}
		raw[i] = data
	}

	c.mu.Lock()
	n := c.tree.Node(node)
	if n == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, node)
	}
	if !slices.Contains(n.Published(), method) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s on node %d", ErrNotPublished, method, node)
	}
	c.nextCall++
	id := c.nextCall
	ch := make(chan promiseResult, 1)
	c.promises[id] = ch
	c.calls[id] = method
	c.queue = append(c.queue, protocol.Invocation{
		Type:    protocol.InvocationPublished,
		Node:    node,
		Method:  method,
		Args:    raw,
		Promise: id,
	})
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.promises, id)
		delete(c.calls, id)
		c.mu.Unlock()
	}
	if err := c.send(ctx, false); err != nil {
		forget()
		return nil, err
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Navigate reports a client side location change, such as history back.
func (c *Client) Navigate(ctx context.Context, location string) error {
	c.mu.Lock()
	c.queue = append(c.queue, protocol.Invocation{Type: protocol.InvocationNavigation, Location: location})
	c.mu.Unlock()
	return c.send(ctx, false)
}
