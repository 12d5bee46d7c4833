package push

import (
	"sync"
	"time"
)

// DefaultCacheSize is the number of messages a MessageCache keeps when no
// size is given.
const DefaultCacheSize = 100

// cacheEntry stores one encoded message.
type cacheEntry struct {
	syncID int
	msg    []byte
	at     time.Time
}

// MessageCache is a thread-safe ring buffer of encoded server messages keyed
// by sync id. It keeps a sliding window of recent messages that a client
// can fetch again after it missed some.
type MessageCache struct {
	mu       sync.RWMutex
	entries  []*cacheEntry
	head     int // next write position
	count    int
	capacity int
	minID    int
	maxID    int
}

// NewMessageCache creates a cache holding up to capacity messages.
func NewMessageCache(capacity int) *MessageCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &MessageCache{
		entries:  make([]*cacheEntry, capacity),
		capacity: capacity,
	}
}

// Add stores msg under syncID. Sync ids must increase by one per message;
// a gap or a restart clears the cache first.
// The bytes are copied.
func (c *MessageCache) Add(syncID int, msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count > 0 && syncID != c.maxID+1 {
		c.clearLocked()
	}

	cp := make([]byte, len(msg))
	copy(cp, msg)
	c.entries[c.head] = &cacheEntry{syncID: syncID, msg: cp, at: time.Now()}
	c.head = (c.head + 1) % c.capacity
	if c.count < c.capacity {
		c.count++
	}

	c.maxID = syncID
	c.minID = c.maxID - c.count + 1
}

// Since returns the messages with sync ids after lastSeen, oldest first.
// It returns ErrResyncRequired when messages after lastSeen have already
// been evicted. An empty result means the client is up to date.
func (c *MessageCache) Since(lastSeen int) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.count == 0 || lastSeen >= c.maxID {
		return nil, nil
	}
	if lastSeen+1 < c.minID {
		return nil, ErrResyncRequired
	}

	out := make([][]byte, 0, c.maxID-lastSeen)
	for i := 0; i < c.count; i++ {
		idx := (c.head - c.count + i + c.capacity) % c.capacity
		e := c.entries[idx]
		if e.syncID > lastSeen {
			out = append(out, e.msg)
		}
	}
	return out, nil
}

// CanRecover reports whether every message after lastSeen is available.
func (c *MessageCache) CanRecover(lastSeen int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count > 0 && lastSeen+1 >= c.minID
}

// MinSyncID returns the oldest cached sync id.
func (c *MessageCache) MinSyncID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minID
}

// MaxSyncID returns the newest cached sync id.
func (c *MessageCache) MaxSyncID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxID
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Prune drops messages older than maxAge, keeping the newest one.
func (c *MessageCache) Prune(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for c.count > 1 {
		idx := (c.head - c.count + c.capacity) % c.capacity
		if !c.entries[idx].at.Before(cutoff) {
			break
		}
		c.entries[idx] = nil
		c.count--
		c.minID++
	}
}

// Clear removes all messages.
func (c *MessageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *MessageCache) clearLocked() {
	for i := range c.entries {
		c.entries[i] = nil
	}
	c.head = 0
	c.count = 0
	c.minID = 0
	c.maxID = 0
}
