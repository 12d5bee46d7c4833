package protocol

import "errors"

// Decoding errors.
var (
	ErrMessageTooLarge      = errors.New("protocol: message exceeds size limit")
	ErrTooManyInvocations   = errors.New("protocol: too many invocations")
	ErrMaxDepthExceeded     = errors.New("protocol: maximum nesting depth exceeded")
	ErrInvalidMessage       = errors.New("protocol: invalid message")
	ErrUnknownInvocation    = errors.New("protocol: unknown invocation type")
	ErrMissingInvocationArg = errors.New("protocol: invocation is missing a required field")
)

// ErrorCode identifies the kind of an application error reported in Meta.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "unknown"
	CodeInvalidMessage   ErrorCode = "invalid-message"
	CodeInvalidCSRF      ErrorCode = "invalid-csrf"
	CodeSessionExpired   ErrorCode = "session-expired"
	CodeUINotFound       ErrorCode = "ui-not-found"
	CodeInvocationFailed ErrorCode = "invocation-failed"
	CodeHandlerPanic     ErrorCode = "handler-panic"
	CodeRateLimited      ErrorCode = "rate-limited"
	CodeServerError      ErrorCode = "server-error"
)

// String returns the code.
func (c ErrorCode) String() string {
	if c == "" {
		return string(CodeUnknown)
	}
	return string(c)
}

// ErrorMessage is the application error carried in Meta.AppError.
type ErrorMessage struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Fatal tells the client to stop using the UI.
	Fatal bool `json:"fatal,omitempty"`

	// URL, when set, is where the client should navigate to recover.
	URL string `json:"url,omitempty"`
}

// NewError creates a non-fatal ErrorMessage.
func NewError(code ErrorCode, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Message: message}
}

// NewFatalError creates a fatal ErrorMessage.
func NewFatalError(code ErrorCode, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Message: message, Fatal: true}
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	if em.Fatal {
		return "fatal: " + em.Code.String() + ": " + em.Message
	}
	return em.Code.String() + ": " + em.Message
}

// IsFatal reports whether the client should stop using the UI.
func (em *ErrorMessage) IsFatal() bool {
	return em.Fatal
}
