// Package push delivers server messages to the browser outside of
// request/response cycles.
//
// A UI has at most one Connection at a time. WebSocketConnection writes
// messages over a websocket; with the websocket transport it also reads
// client messages from it, with websocket-xhr the client keeps posting
// its messages over HTTP. LongPollConnection queues messages in a
// MessageCache that the client drains with repeated poll requests.
package push

import (
	"fmt"
	"strings"
)

// Mode selects when changes are pushed.
type Mode uint8

const (
	// ModeDisabled never pushes; changes reach the client only in
	// responses to its requests.
	ModeDisabled Mode = iota

	// ModeManual pushes when application code calls UI.Push.
	ModeManual

	// ModeAutomatic pushes after every UI.Access task that changed the tree.
	ModeAutomatic
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeManual:
		return "manual"
	case ModeAutomatic:
		return "automatic"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// Enabled reports whether push connections are accepted.
func (m Mode) Enabled() bool {
	return m == ModeManual || m == ModeAutomatic
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "":
		return ModeDisabled, nil
	case "manual":
		return ModeManual, nil
	case "automatic":
		return ModeAutomatic, nil
	}
	return ModeDisabled, fmt.Errorf("push: unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Transport is the channel used for pushed messages.
type Transport string

const (
	// TransportWebSocket carries both directions over one websocket.
	TransportWebSocket Transport = "websocket"

	// TransportLongPolling answers held poll requests.
	TransportLongPolling Transport = "long-polling"

	// TransportWebSocketXHR pushes over a websocket while the client keeps
	// sending its messages as HTTP requests.
	TransportWebSocketXHR Transport = "websocket-xhr"
)

// Valid reports whether t is a known transport.
func (t Transport) Valid() bool {
	switch t {
	case TransportWebSocket, TransportLongPolling, TransportWebSocketXHR:
		return true
	}
	return false
}

// UsesWebSocket reports whether pushed messages travel over a websocket.
func (t Transport) UsesWebSocket() bool {
	return t == TransportWebSocket || t == TransportWebSocketXHR
}

// ParseTransport parses a transport name.
func ParseTransport(s string) (Transport, error) {
	t := Transport(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("push: unknown transport %q", s)
	}
	return t, nil
}
