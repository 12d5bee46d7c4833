package client

import (
	"log/slog"
	"sort"
	"time"

	"github.com/vango-dev/mirror/pkg/protocol"
)

// noSyncID is the last seen sync id before the first message.
const noSyncID = -1

// MessageHandler orders server messages by sync id.
//
// Messages are handed out in sync id order. A message that arrives early is
// held until the ones before it arrive; ids already handled are dropped,
// which is what makes long-poll replays and resent responses harmless. If
// a gap stays open longer than the suspend limit, Expired reports it and
// the caller asks for a resynchronization.
//
// MessageHandler is not safe for concurrent use.
type MessageHandler struct {
	maxSuspend time.Duration
	logger     *slog.Logger

	lastSeen     int
	pending      []*protocol.ServerMessage
	waitingSince time.Time
	resyncing    bool
}

// NewMessageHandler returns a handler that waits at most maxSuspend for a
// missing message.
func NewMessageHandler(maxSuspend time.Duration, logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{maxSuspend: maxSuspend, logger: logger, lastSeen: noSyncID}
}

// LastSeen returns the sync id of the last handled message, or -1.
func (h *MessageHandler) LastSeen() int { return h.lastSeen }

// Pending returns the number of held messages.
func (h *MessageHandler) Pending() int { return len(h.pending) }

// ResyncRequested drops ordinary messages until a resynchronizing one
// arrives. Responses to requests sent before the resync request describe a
// state the resync replaces.
func (h *MessageHandler) ResyncRequested() {
	h.resyncing = true
	h.pending = nil
	h.waitingSince = time.Time{}
}

// Handle accepts a message and returns the messages that are ready to be
// applied, in order.
func (h *MessageHandler) Handle(msg *protocol.ServerMessage, now time.Time) []*protocol.ServerMessage {
	if !msg.Resynchronize && h.resyncing {
		h.logger.Debug("dropping message received before resync", "sync_id", msg.SyncID)
		return nil
	}
	if msg.Resynchronize {
		h.resyncing = false
		if !h.isNext(msg.SyncID) {
			h.logger.Debug("resync message out of order",
				"sync_id", msg.SyncID,
				"expected", h.lastSeen+1)
			h.lastSeen = msg.SyncID - 1
			h.dropOld()
		}
	}

	if !h.isNext(msg.SyncID) {
		if msg.SyncID <= h.lastSeen {
			h.logger.Debug("dropping already seen message",
				"sync_id", msg.SyncID,
				"last_seen", h.lastSeen)
			return nil
		}
		h.hold(msg, now)
		return nil
	}

	out := []*protocol.ServerMessage{msg}
	h.lastSeen = msg.SyncID
	for {
		next := h.takeNext()
		if next == nil {
			break
		}
		out = append(out, next)
		h.lastSeen = next.SyncID
	}
	if len(h.pending) == 0 {
		h.waitingSince = time.Time{}
	} else {
		h.waitingSince = now
	}
	return out
}

// Expired reports whether a gap has stayed open longer than the suspend
// limit. It drops the held messages when it does.
func (h *MessageHandler) Expired(now time.Time) bool {
	if len(h.pending) == 0 || h.waitingSince.IsZero() {
		return false
	}
	if now.Sub(h.waitingSince) < h.maxSuspend {
		return false
	}
	h.logger.Warn("gave up waiting for message",
		"expected", h.lastSeen+1,
		"pending", len(h.pending))
	h.pending = nil
	h.waitingSince = time.Time{}
	return true
}

// Reset returns the handler to its initial state.
func (h *MessageHandler) Reset() {
	h.lastSeen = noSyncID
	h.pending = nil
	h.waitingSince = time.Time{}
	h.resyncing = false
}

func (h *MessageHandler) isNext(id int) bool {
	return h.lastSeen == noSyncID || id == h.lastSeen+1
}

func (h *MessageHandler) hold(msg *protocol.ServerMessage, now time.Time) {
	for _, p := range h.pending {
		if p.SyncID == msg.SyncID {
			return
		}
	}
	h.logger.Debug("holding early message",
		"sync_id", msg.SyncID,
		"expected", h.lastSeen+1)
	h.pending = append(h.pending, msg)
	sort.Slice(h.pending, func(i, j int) bool { return h.pending[i].SyncID < h.pending[j].SyncID })
	if h.waitingSince.IsZero() {
		h.waitingSince = now
	}
}

func (h *MessageHandler) takeNext() *protocol.ServerMessage {
	h.dropOld()
	if len(h.pending) == 0 || h.pending[0].SyncID != h.lastSeen+1 {
		return nil
	}
	next := h.pending[0]
	h.pending = h.pending[1:]
	return next
}

// dropOld removes held messages that are no longer ahead of lastSeen.
func (h *MessageHandler) dropOld() {
	i := 0
	for i < len(h.pending) && h.pending[i].SyncID <= h.lastSeen {
		i++
	}
	h.pending = h.pending[i:]
}
