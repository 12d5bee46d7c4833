package server

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/vango-dev/mirror/pkg/protocol"
)

// HandleMessage processes a client message and returns the encoded
// response.
//
// Messages are numbered by the client. The response to message n tells
// the client to send n+1 next. A repeated message n is answered with the
// cached response to n, since the first response may have been lost. Any
// other unexpected id means the two sides disagree about what has been
// applied: the invocations are skipped and the client gets the full tree.
func (u *UI) HandleMessage(ctx context.Context, msg *protocol.ClientMessage) ([]byte, error) {
	u.lock()
	defer u.unlock()

	if u.closed.Load() {
		return nil, &UIError{UIID: u.id, Op: "handle message", Err: ErrUIClosed}
	}
	if u.config.CSRFProtection &&
		subtle.ConstantTimeCompare([]byte(msg.CSRFToken), []byte(u.csrf)) != 1 {
		u.logger.Warn("rejected message with invalid CSRF token")
		return nil, &UIError{UIID: u.id, Op: "handle message", Err: ErrInvalidCSRF}
	}
	u.touch()

	expected := u.lastClientID + 1
	switch {
	case msg.ClientID == u.lastClientID && u.lastResponse != nil:
		u.logger.Debug("resending last response", "client_id", msg.ClientID)
		u.observer.ResponseResent()
		return u.lastResponse, nil
	case msg.ClientID != expected:
		u.logger.Warn("unexpected client message id, resynchronizing",
			"expected", expected,
			"got", msg.ClientID)
		return u.respondLocked(true, nil)
	}
	u.lastClientID = msg.ClientID

	appErr := u.runInvocationsLocked(ctx, msg)
	return u.respondLocked(msg.Resynchronize, appErr)
}

// runInvocationsLocked applies property synchronizations first, then the
// remaining invocations in order. Failures are logged and do not stop
// later invocations. The returned error message, if any, is reported to
// the client.
func (u *UI) runInvocationsLocked(ctx context.Context, msg *protocol.ClientMessage) *protocol.ErrorMessage {
	syncs := make([]*protocol.Invocation, 0, len(msg.RPC))
	others := make([]*protocol.Invocation, 0, len(msg.RPC))
	for i := range msg.RPC {
		inv := &msg.RPC[i]
		if inv.Type == protocol.InvocationPropertySync {
			syncs = append(syncs, inv)
		} else {
			others = append(others, inv)
		}
	}

	if u.config.SyncIDCheck && len(syncs) > 0 && msg.SyncID < u.syncID {
		// The client has not seen our latest changes; its values may
		// overwrite them.
		u.logger.Debug("ignoring property updates from stale client",
			"client_sync_id", msg.SyncID,
			"server_sync_id", u.syncID,
			"dropped", len(syncs))
		syncs = nil
	}

	var appErr *protocol.ErrorMessage
	for _, inv := range append(syncs, others...) {
		err := u.invokeLocked(ctx, inv)
		// Effects and Access calls made by the handler run before the next
		// invocation sees the tree.
		u.runQueueLocked()
		if err == nil {
			continue
		}
		u.logInvocationError(inv, err)
		if appErr == nil {
			appErr = u.clientError(err)
		}
	}
	return appErr
}

func (u *UI) logInvocationError(inv *protocol.Invocation, err error) {
	var ie *InvocationError
	if errors.As(err, &ie) && ie.Panic != nil {
		u.logger.Error("invocation handler panicked",
			"type", string(inv.Type),
			"node", int(inv.Node),
			"panic", ie.Panic,
			"stack", string(ie.Stack))
		return
	}
	u.logger.Warn("invocation failed",
		"type", string(inv.Type),
		"node", int(inv.Node),
		"error", err)
}

// clientError returns the error reported to the client. Only handler
// panics are reported; rejected input is normal when client and server
// race. Production mode hides the details.
func (u *UI) clientError(err error) *protocol.ErrorMessage {
	code := errorCode(err)
	if code != protocol.CodeHandlerPanic {
		return nil
	}
	if u.config.ProductionMode {
		return protocol.NewError(code, "internal error")
	}
	return protocol.NewError(code, err.Error())
}

// respondLocked builds, encodes and caches the response.
func (u *UI) respondLocked(resync bool, appErr *protocol.ErrorMessage) ([]byte, error) {
	u.runQueueLocked()
	msg := u.buildLocked(resync)
	if appErr != nil {
		msg.Meta = &protocol.Meta{AppError: appErr}
	}
	data, err := u.encodeLocked(msg)
	if err != nil {
		return nil, &UIError{UIID: u.id, Op: "encode response", Err: err}
	}
	u.lastResponse = data
	return data, nil
}

// Resynchronize returns an async message carrying the full tree, for push
// clients whose missed messages are no longer cached.
func (u *UI) Resynchronize() ([]byte, error) {
	u.lock()
	defer u.unlock()
	if u.closed.Load() {
		return nil, &UIError{UIID: u.id, Op: "resynchronize", Err: ErrUIClosed}
	}
	u.runQueueLocked()
	msg := u.buildLocked(true)
	msg.Meta = &protocol.Meta{Async: true}
	data, err := u.encodeLocked(msg)
	if err != nil {
		return nil, &UIError{UIID: u.id, Op: "encode resync", Err: err}
	}
	return data, nil
}
