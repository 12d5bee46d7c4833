package push

import (
	"errors"

	"github.com/google/uuid"
)

// Push errors.
var (
	// ErrClosed is returned when pushing to a disconnected connection.
	ErrClosed = errors.New("push: connection closed")

	// ErrResyncRequired means messages the client has not seen were
	// evicted; the client must request a full resynchronization.
	ErrResyncRequired = errors.New("push: messages evicted, resynchronization required")

	// ErrQueueFull is returned when a slow client cannot keep up.
	ErrQueueFull = errors.New("push: send queue full")
)

// Connection delivers encoded server messages to one client.
type Connection interface {
	// ID identifies the connection in logs.
	ID() string

	// Transport returns the transport the connection uses.
	Transport() Transport

	// Push sends msg, the encoded server message with the given sync id.
	Push(syncID int, msg []byte) error

	// IsConnected reports whether pushed messages can reach the client.
	IsConnected() bool

	// Disconnect closes the connection. It is safe to call more than once.
	Disconnect()
}

// Observer receives delivery events, typically for metrics.
type Observer interface {
	MessagePushed(t Transport, size int)
	Disconnected(t Transport)
}

// nopObserver is used when no observer is configured.
type nopObserver struct{}

func (nopObserver) MessagePushed(Transport, int) {}
func (nopObserver) Disconnected(Transport)       {}

func newConnectionID() string {
	return uuid.NewString()
}
