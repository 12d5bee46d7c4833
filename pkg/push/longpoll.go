package push

import (
	"context"
	"sync"
	"time"
)

// DefaultPollTimeout is how long a poll request is held when nothing is
// pushed.
const DefaultPollTimeout = 30 * time.Second

// LongPollConnection queues pushed messages until the client polls for
// them. Messages stay in the cache after delivery, so a poll that was lost
// in transit can be repeated with the same lastSeen.
type LongPollConnection struct {
	id       string
	cache    *MessageCache
	timeout  time.Duration
	observer Observer

	mu     sync.Mutex
	wake   chan struct{} // closed and replaced on every push
	closed bool
	polls  int
}

// LongPollOptions configures a LongPollConnection.
type LongPollOptions struct {
	// Cache holds the pushed messages. A private cache is created when nil.
	Cache *MessageCache

	// Timeout bounds how long Poll waits. Defaults to DefaultPollTimeout.
	Timeout time.Duration

	Observer Observer
}

// NewLongPollConnection creates a long-polling connection.
func NewLongPollConnection(opts LongPollOptions) *LongPollConnection {
	if opts.Cache == nil {
		opts.Cache = NewMessageCache(DefaultCacheSize)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPollTimeout
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &LongPollConnection{
		id:       newConnectionID(),
		cache:    opts.Cache,
		timeout:  opts.Timeout,
		observer: opts.Observer,
		wake:     make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *LongPollConnection) ID() string { return c.id }

// Transport returns TransportLongPolling.
func (c *LongPollConnection) Transport() Transport { return TransportLongPolling }

// Push stores msg and wakes waiting polls. The cache may be shared with
// the UI, which records responses in it too; a message already cached is
// not added again.
func (c *LongPollConnection) Push(syncID int, msg []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cache.Len() == 0 || syncID > c.cache.MaxSyncID() {
		c.cache.Add(syncID, msg)
	}
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()

	c.observer.MessagePushed(TransportLongPolling, len(msg))
	return nil
}

// Poll returns the messages after lastSeen. When there are none it waits
// until the next push, the poll timeout or ctx is done, and then returns
// what arrived, possibly nothing. It returns ErrResyncRequired when
// messages after lastSeen are no longer cached and ErrClosed after
// Disconnect.
func (c *LongPollConnection) Poll(ctx context.Context, lastSeen int) ([][]byte, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	c.mu.Lock()
	c.polls++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.polls--
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		wake := c.wake
		c.mu.Unlock()
		latest := c.cache.MaxSyncID()

		if lastSeen < latest {
			msgs, err := c.cache.Since(lastSeen)
			if err != nil {
				return nil, err
			}
			if len(msgs) == 0 {
				return nil, ErrResyncRequired
			}
			return msgs, nil
		}

		select {
		case <-wake:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Waiting returns the number of polls currently held.
func (c *LongPollConnection) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// IsConnected reports whether the connection is open. Messages pushed
// between polls are kept until the next poll, so an open long-polling
// connection always accepts pushes.
func (c *LongPollConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Disconnect closes the connection and releases waiting polls.
func (c *LongPollConnection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.wake)
	c.mu.Unlock()
	c.observer.Disconnected(TransportLongPolling)
}
