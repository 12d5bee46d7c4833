package server

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/mirror/pkg/session"
)

// Session is an HTTP session: the UIs opened by one browser and the
// attributes shared between them. Attributes are stored as JSON and
// persisted through the manager's session.Store, so they survive a
// restart of the server. UIs do not.
type Session struct {
	id      string
	created time.Time

	mu     sync.Mutex
	record *session.Record
	dirty  bool
	uis    map[string]*UI

	lastAccess  atomic.Int64 // unix nanoseconds
	persistedAt atomic.Int64 // unix nanoseconds
	invalidated atomic.Bool
	manager     *Manager
}

func newSession(m *Manager, rec *session.Record) *Session {
	s := &Session{
		id:      rec.ID,
		created: rec.CreatedAt,
		record:  rec,
		uis:     make(map[string]*UI),
		manager: m,
	}
	s.lastAccess.Store(time.Now().UnixNano())
	return s
}

// ID returns the session id, the value of the session cookie.
func (s *Session) ID() string { return s.id }

// Created returns when the session was first created.
func (s *Session) Created() time.Time { return s.created }

// LastAccess returns the time of the last request in the session.
func (s *Session) LastAccess() time.Time { return time.Unix(0, s.lastAccess.Load()) }

func (s *Session) touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

// SetAttribute stores value under name. The value must be JSON encodable;
// nil removes the attribute.
func (s *Session) SetAttribute(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record.SetAttribute(name, value); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// Attribute decodes the named attribute into out and reports whether it
// exists.
func (s *Session) Attribute(name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Attribute(name, out)
}

// AttributeNames returns the attribute names in sorted order.
func (s *Session) AttributeNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.record.Attributes))
	for name := range s.record.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UIs returns the open UIs of the session.
func (s *Session) UIs() []*UI {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*UI, 0, len(s.uis))
	for _, u := range s.uis {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].created.Before(out[j].created) })
	return out
}

// Invalidate closes every UI of the session and deletes its attributes.
// The next request from the browser starts a new session.
func (s *Session) Invalidate(ctx context.Context) error {
	if s.invalidated.Swap(true) {
		return nil
	}
	return s.manager.dropSession(ctx, s, CloseSession, true)
}

// IsValid reports whether the session has not been invalidated or expired.
func (s *Session) IsValid() bool { return !s.invalidated.Load() }

func (s *Session) addUI(u *UI, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 && len(s.uis) >= max {
		return ErrMaxUIsReached
	}
	s.uis[u.id] = u
	return nil
}

func (s *Session) removeUI(id string) {
	s.mu.Lock()
	delete(s.uis, id)
	s.mu.Unlock()
}

func (s *Session) hasUI(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uis[id]
	return ok
}

// persist writes changed attributes to store, or extends the expiry of an
// unchanged session that was accessed since the last write.
func (s *Session) persist(ctx context.Context, store session.Store, timeout time.Duration) error {
	last := s.lastAccess.Load()
	expires := time.Unix(0, last).Add(timeout)

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		if s.persistedAt.Load() >= last {
			return nil
		}
		if err := store.Touch(ctx, s.id, expires); err != nil {
			return err
		}
		s.persistedAt.Store(last)
		return nil
	}
	s.record.LastAccess = time.Unix(0, last)
	data, err := session.Serialize(s.record)
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := store.Save(ctx, s.id, data, expires); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	s.persistedAt.Store(last)
	return nil
}
