package session

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// sweepEvery is the number of saves between sweeps of expired entries.
const sweepEvery = 256

// MemoryStore keeps sessions in process memory. It loses them on restart;
// use SQLStore to keep them. Expired entries are invisible to Load and are
// dropped by a sweep that runs every few hundred saves, so the store needs
// no background goroutine.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	saves   int
	closed  bool
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Save stores a copy of data.
func (m *MemoryStore) Save(_ context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.entries[sessionID] = memoryEntry{data: bytes.Clone(data), expiresAt: expiresAt}
	if m.saves++; m.saves%sweepEvery == 0 {
		m.sweepLocked()
	}
	return nil
}

// Load returns a copy of the stored data, or nil when the session is
// missing or expired.
func (m *MemoryStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	e, ok := m.entries[sessionID]
	if !ok || m.now().After(e.expiresAt) {
		return nil, nil
	}
	return bytes.Clone(e.data), nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.entries, sessionID)
	return nil
}

// Touch moves the expiry of a stored session. Expired sessions that were
// not swept yet come back to life.
func (m *MemoryStore) Touch(_ context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if e, ok := m.entries[sessionID]; ok {
		e.expiresAt = expiresAt
		m.entries[sessionID] = e
	}
	return nil
}

// Close drops every session. Closing twice is a no-op.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}

func (m *MemoryStore) sweepLocked() {
	now := m.now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}
