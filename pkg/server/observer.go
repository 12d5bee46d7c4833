package server

import (
	"time"

	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
)

// CloseReason says why a UI was closed.
type CloseReason string

const (
	CloseClient    CloseReason = "client"
	CloseHeartbeat CloseReason = "heartbeat"
	CloseIdle      CloseReason = "idle"
	CloseSession   CloseReason = "session"
	CloseShutdown  CloseReason = "shutdown"
)

// Observer receives UI lifecycle and traffic events, typically for
// metrics. Methods are called synchronously and must not block.
type Observer interface {
	push.Observer

	UIOpened()
	UIClosed(reason CloseReason)

	// InvocationHandled is called after every client invocation.
	InvocationHandled(t protocol.InvocationType, d time.Duration, err error)

	// MessageSent is called for every encoded server message, response or
	// push.
	MessageSent(changes, bytes int, async bool)

	// Resynchronized is called when a full resynchronization is sent.
	Resynchronized()

	// ResponseResent is called when a duplicate client message is answered
	// from the response cache.
	ResponseResent()
}

// NopObserver ignores every event. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) MessagePushed(push.Transport, int)                                {}
func (NopObserver) Disconnected(push.Transport)                                      {}
func (NopObserver) UIOpened()                                                        {}
func (NopObserver) UIClosed(CloseReason)                                             {}
func (NopObserver) InvocationHandled(protocol.InvocationType, time.Duration, error) {}
func (NopObserver) MessageSent(int, int, bool)                                       {}
func (NopObserver) Resynchronized()                                                  {}
func (NopObserver) ResponseResent()                                                  {}

// ManagerStats contains aggregated manager statistics.
type ManagerStats struct {
	ActiveUIs      int
	ActiveSessions int
	TotalCreated   uint64
	TotalClosed    uint64
	Peak           int
}
