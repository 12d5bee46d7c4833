package server

import (
	"errors"
	"fmt"

	"github.com/vango-dev/mirror/pkg/protocol"
)

// Sentinel errors for common UI and server error conditions.
var (
	// ErrUIClosed is returned when an operation is attempted on a closed UI.
	ErrUIClosed = errors.New("server: UI closed")

	// ErrUINotFound is returned when a UI id does not exist.
	ErrUINotFound = errors.New("server: UI not found")

	// ErrInvalidCSRF is returned when a client message carries a wrong
	// CSRF token.
	ErrInvalidCSRF = errors.New("server: invalid CSRF token")

	// ErrSessionExpired is returned when the HTTP session of a request has
	// expired.
	ErrSessionExpired = errors.New("server: session expired")

	// ErrMaxUIsReached is returned when a session already has the maximum
	// number of open UIs.
	ErrMaxUIsReached = errors.New("server: max UIs per session reached")

	// ErrPushDisabled is returned when a push connection is requested for a
	// UI whose push mode is disabled.
	ErrPushDisabled = errors.New("server: push is disabled")

	// ErrNodeNotFound is returned when an invocation targets a node id that
	// is not attached.
	ErrNodeNotFound = errors.New("server: node not found")

	// ErrUnknownMethod is returned when the client calls a method that is
	// not exposed on the node.
	ErrUnknownMethod = errors.New("server: unknown method")

	// ErrBadArguments is returned when the arguments of a method call do
	// not match the exposed function.
	ErrBadArguments = errors.New("server: bad method arguments")

	// ErrNoReceiver is returned when an upload targets a node without a
	// matching stream receiver.
	ErrNoReceiver = errors.New("server: no stream receiver")

	// ErrShutdown is returned when the manager has been shut down.
	ErrShutdown = errors.New("server: manager shut down")
)

// UIError wraps an error with UI context for debugging.
type UIError struct {
	UIID string
	Op   string // Operation that failed
	Err  error  // Underlying error
}

// Error returns the error message with UI context.
func (e *UIError) Error() string {
	if e.UIID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: UI %s: %s: %v", e.UIID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *UIError) Unwrap() error {
	return e.Err
}

// InvocationError reports a failed client invocation. Panic and Stack are
// set when the handler panicked.
type InvocationError struct {
	UIID  string
	Node  int
	Type  protocol.InvocationType
	Err   error
	Panic any
	Stack []byte
}

// Error returns the error message.
func (e *InvocationError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("server: handler panic in UI %s, node %d, %s: %v",
			e.UIID, e.Node, e.Type, e.Panic)
	}
	return fmt.Sprintf("server: UI %s, node %d, %s: %v", e.UIID, e.Node, e.Type, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// ProtocolError represents a malformed or rejected client request.
type ProtocolError struct {
	UIID    string
	Op      string
	Message string
	Err     error
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server: protocol error in UI %s: %s: %s",
		e.UIID, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// errorCode maps an error to the code reported to the client.
func errorCode(err error) protocol.ErrorCode {
	var ie *InvocationError
	switch {
	case errors.As(err, &ie) && ie.Panic != nil:
		return protocol.CodeHandlerPanic
	case errors.Is(err, ErrInvalidCSRF):
		return protocol.CodeInvalidCSRF
	case errors.Is(err, ErrSessionExpired):
		return protocol.CodeSessionExpired
	case errors.Is(err, ErrUINotFound), errors.Is(err, ErrUIClosed):
		return protocol.CodeUINotFound
	case errors.Is(err, protocol.ErrInvalidMessage),
		errors.Is(err, protocol.ErrMessageTooLarge),
		errors.Is(err, protocol.ErrTooManyInvocations),
		errors.Is(err, protocol.ErrMaxDepthExceeded),
		errors.Is(err, protocol.ErrUnknownInvocation),
		errors.Is(err, protocol.ErrMissingInvocationArg):
		return protocol.CodeInvalidMessage
	case errors.As(err, &ie):
		return protocol.CodeInvocationFailed
	}
	return protocol.CodeServerError
}

// ErrSecureCookiesRequired is returned when SecureCookies is set and a
// request arrived over plain HTTP from an untrusted peer.
var ErrSecureCookiesRequired = errors.New("server: secure cookies require HTTPS")
