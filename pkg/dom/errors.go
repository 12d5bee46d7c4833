package dom

import "errors"

var (
	// ErrInvalidName is returned for empty or malformed attribute, property
	// or tag names.
	ErrInvalidName = errors.New("dom: invalid name")

	// ErrTextNode is returned when an element-only operation is used on a
	// text node.
	ErrTextNode = errors.New("dom: operation not supported on text node")

	// ErrCycle is returned when a node would become its own ancestor.
	ErrCycle = errors.New("dom: node cannot be a descendant of itself")

	// ErrNotChild is returned when removing a node that is not a child.
	ErrNotChild = errors.New("dom: node is not a child of this element")

	// ErrIndexOutOfRange is returned for child indexes outside the list.
	ErrIndexOutOfRange = errors.New("dom: child index out of range")

	// ErrInvalidValue is returned for property values that cannot be sent
	// to the client.
	ErrInvalidValue = errors.New("dom: value is not JSON compatible")

	// ErrBindingActive is returned when writing or reserving a key that is
	// owned by an active binding.
	ErrBindingActive = errors.New("dom: key is controlled by an active binding")

	// ErrPropertyNotSynced is returned when the client reports a property
	// that was never declared as synchronized.
	ErrPropertyNotSynced = errors.New("dom: property is not synchronized")

	// ErrNodeDisabled is returned when client input targets a disabled node.
	ErrNodeDisabled = errors.New("dom: node is disabled")

	// ErrNodeInert is returned when client input targets an inert node.
	ErrNodeInert = errors.New("dom: node is inert")

	// ErrNodeNotAttached is returned when client input targets a node that is
	// not attached to the tree.
	ErrNodeNotAttached = errors.New("dom: node is not attached")

	// ErrUnknownInvocation is returned when a JS result references an
	// invocation that is not pending.
	ErrUnknownInvocation = errors.New("dom: unknown JS invocation")
)
