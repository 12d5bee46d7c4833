package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/session"
	"github.com/vango-dev/mirror/pkg/upload"
)

// UIInitializer builds the content of a new UI. It runs with the UI lock
// held, before the initial message is sent.
type UIInitializer func(ctx context.Context, ui *UI) error

// Manager owns the HTTP sessions and the UIs opened in them. It closes
// UIs whose client stopped sending heartbeats, idle UIs when configured,
// and sessions that timed out.
type Manager struct {
	config   *Config
	logger   *slog.Logger
	observer Observer
	invoke   InvocationHandler
	init     UIInitializer
	proxies  *trustedProxies

	middleware []InvocationMiddleware
	store      session.Store
	ownsStore  bool
	uploads    upload.Store
	uploadCfg  *upload.Config

	mu       sync.RWMutex
	uis      map[string]*UI
	sessions map[string]*Session
	peak     int

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64

	shutdown    atomic.Bool
	done        chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver sets the observer receiving lifecycle and traffic events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithMiddleware adds invocation middleware. The first one added is the
// outermost.
func WithMiddleware(mw ...InvocationMiddleware) Option {
	return func(m *Manager) {
		m.middleware = append(m.middleware, mw...)
	}
}

// WithSessionStore persists session attributes in store. Default: an
// in-memory store.
func WithSessionStore(store session.Store) Option {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithUploadStore enables uploads to stream receivers. cfg may be nil for
// upload.DefaultConfig with Config.MaxUploadSize.
func WithUploadStore(store upload.Store, cfg *upload.Config) Option {
	return func(m *Manager) {
		m.uploads = store
		m.uploadCfg = cfg
	}
}

// WithUIInit sets the function that builds every new UI.
func WithUIInit(fn UIInitializer) Option {
	return func(m *Manager) {
		m.init = fn
	}
}

// NewManager creates a Manager and starts its cleanup loop. Stop it with
// Shutdown.
func NewManager(cfg *Config, opts ...Option) *Manager {
	m := &Manager{
		config:      cfg.withDefaults(),
		logger:      slog.Default(),
		observer:    NopObserver{},
		uis:         make(map[string]*UI),
		sessions:    make(map[string]*Session),
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = session.NewMemoryStore()
		m.ownsStore = true
	}
	if m.uploads != nil && m.uploadCfg == nil {
		m.uploadCfg = upload.DefaultConfig()
		m.uploadCfg.MaxFileSize = m.config.MaxUploadSize
	}
	m.logger = m.logger.With("component", "ui_manager")
	m.proxies = newTrustedProxies(m.config.TrustedProxies, m.logger)
	m.invoke = chain(dispatch, m.middleware)

	go m.cleanupLoop()
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() *Config { return m.config }

// Session returns the session with the given id, restoring it from the
// session store when it is not in memory. An empty, unknown or expired id
// starts a new session; check ID of the result.
func (m *Manager) Session(ctx context.Context, id string) (*Session, error) {
	if m.shutdown.Load() {
		return nil, ErrShutdown
	}
	if id != "" {
		m.mu.RLock()
		s := m.sessions[id]
		m.mu.RUnlock()
		if s != nil && s.IsValid() {
			s.touch()
			return s, nil
		}

		data, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if data != nil {
			rec, err := session.Deserialize(data)
			if err != nil {
				m.logger.Warn("discarding unreadable session", "session_id", id, "error", err)
			} else {
				return m.registerSession(newSession(m, rec)), nil
			}
		}
	}

	now := time.Now()
	s := newSession(m, &session.Record{ID: uuid.NewString(), CreatedAt: now, LastAccess: now})
	s = m.registerSession(s)
	m.logger.Debug("session created", "session_id", s.id)
	return s, nil
}

// registerSession adds s unless a session with its id won a race, which
// is returned instead.
func (m *Manager) registerSession(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.sessions[s.id]; existing != nil && existing.IsValid() {
		return existing
	}
	m.sessions[s.id] = s
	return s
}

// CreateUI opens a UI in s and builds its content with the UI
// initializer. A location from the handshake is routed to the navigation
// handler the initializer installed.
func (m *Manager) CreateUI(ctx context.Context, s *Session, location string) (*UI, error) {
	if m.shutdown.Load() {
		return nil, ErrShutdown
	}
	if s == nil || !s.IsValid() {
		return nil, ErrSessionExpired
	}

	u := newUI(uiOptions{
		session:  s,
		config:   m.config,
		logger:   m.logger.With("session_id", s.id),
		observer: m.observer,
		invoke:   m.invoke,
	})
	if err := s.addUI(u, m.config.MaxUIsPerSession); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.uis[u.id] = u
	if len(m.uis) > m.peak {
		m.peak = len(m.uis)
	}
	active := len(m.uis)
	m.mu.Unlock()
	m.totalCreated.Add(1)
	m.observer.UIOpened()

	if err := m.initUI(ctx, u, location); err != nil {
		m.Close(u.id, CloseClient)
		return nil, &UIError{UIID: u.id, Op: "init", Err: err}
	}

	m.logger.Info("UI created",
		"ui_id", u.id,
		"session_id", s.id,
		"active_uis", active)
	return u, nil
}

func (m *Manager) initUI(ctx context.Context, u *UI, location string) (err error) {
	u.lock()
	defer u.unlock()
	defer func() {
		if r := recover(); r != nil {
			err = &InvocationError{UIID: u.id, Err: errors.New("UI initializer panicked"), Panic: r}
		}
	}()
	if m.init != nil {
		if err := m.init(ctx, u); err != nil {
			return err
		}
	}
	if location != "" {
		return u.navigate(ctx, location)
	}
	return nil
}

// Get returns the open UI with the given id.
func (m *Manager) Get(id string) (*UI, error) {
	m.mu.RLock()
	u := m.uis[id]
	m.mu.RUnlock()
	if u == nil || u.IsClosed() {
		return nil, ErrUINotFound
	}
	return u, nil
}

// Close closes the UI with the given id. Closing an unknown UI does
// nothing.
func (m *Manager) Close(id string, reason CloseReason) {
	m.mu.Lock()
	u := m.uis[id]
	delete(m.uis, id)
	m.mu.Unlock()
	if u == nil {
		return
	}
	u.session.removeUI(id)
	u.close(reason)
	m.totalClosed.Add(1)
}

// dropSession removes s from memory, closing its UIs. With deleteStored
// the persisted attributes are deleted too.
func (m *Manager) dropSession(ctx context.Context, s *Session, reason CloseReason, deleteStored bool) error {
	m.mu.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	s.invalidated.Store(true)

	for _, u := range s.UIs() {
		m.Close(u.id, reason)
	}
	m.logger.Info("session closed", "session_id", s.id, "reason", string(reason))
	if deleteStored {
		return m.store.Delete(ctx, s.id)
	}
	return nil
}

// UIs returns the open UIs.
func (m *Manager) UIs() []*UI {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*UI, 0, len(m.uis))
	for _, u := range m.uis {
		out = append(out, u)
	}
	return out
}

// Count returns the number of open UIs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uis)
}

// Stats returns aggregated statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManagerStats{
		ActiveUIs:      len(m.uis),
		ActiveSessions: len(m.sessions),
		TotalCreated:   m.totalCreated.Load(),
		TotalClosed:    m.totalClosed.Load(),
		Peak:           m.peak,
	}
}

// cleanupLoop periodically closes expired UIs and sessions.
func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.cleanup(now)
		case <-m.done:
			return
		}
	}
}

// cleanup runs one expiry pass. A UI expires after three missed
// heartbeats, or after SessionTimeout without activity when idle UIs are
// closed. A session expires after SessionTimeout without requests.
func (m *Manager) cleanup(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.CleanupInterval)
	defer cancel()

	var heartbeat, idle []string
	for _, u := range m.UIs() {
		switch {
		case m.config.HeartbeatInterval > 0 &&
			now.Sub(u.LastHeartbeat()) > 3*m.config.HeartbeatInterval:
			heartbeat = append(heartbeat, u.id)
		case m.config.CloseIdleSessions &&
			now.Sub(u.LastActivity()) > m.config.SessionTimeout:
			idle = append(idle, u.id)
		}
	}
	for _, id := range heartbeat {
		m.Close(id, CloseHeartbeat)
	}
	for _, id := range idle {
		m.Close(id, CloseIdle)
	}

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	expired := 0
	for _, s := range sessions {
		if err := s.persist(ctx, m.store, m.config.SessionTimeout); err != nil {
			m.logger.Warn("session persist failed", "session_id", s.id, "error", err)
		}
		if now.Sub(s.LastAccess()) > m.config.SessionTimeout {
			expired++
			_ = m.dropSession(ctx, s, CloseSession, false)
		}
	}

	if n := len(heartbeat) + len(idle) + expired; n > 0 {
		m.logger.Info("cleaned up expired UIs",
			"missed_heartbeats", len(heartbeat),
			"idle", len(idle),
			"sessions", expired,
			"remaining", m.Count())
	}

	if m.uploads != nil {
		if err := m.uploads.Cleanup(ctx, m.uploadCfg.TempExpiry); err != nil {
			m.logger.Warn("upload cleanup failed", "error", err)
		}
	}
}

// Shutdown stops the cleanup loop, persists sessions and closes every UI.
// A store passed with WithSessionStore is left open.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdown.Store(true)
	m.stopOnce.Do(func() { close(m.done) })
	select {
	case <-m.cleanupDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	uis := m.UIs()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			return s.persist(gctx, m.store, m.config.SessionTimeout)
		})
	}
	for _, u := range uis {
		g.Go(func() error {
			m.Close(u.id, CloseShutdown)
			return nil
		})
	}
	err := g.Wait()

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	if m.ownsStore {
		err = errors.Join(err, m.store.Close())
	}

	m.logger.Info("UI manager shutdown",
		"closed_uis", len(uis),
		"sessions", len(sessions))
	return err
}

// handshake builds the UI creation response. base is the path prefix of
// the UI endpoints.
func (m *Manager) handshake(u *UI, base string) (*protocol.Handshake, error) {
	initial, err := u.initialMessage()
	if err != nil {
		return nil, &UIError{UIID: u.id, Op: "initial message", Err: err}
	}
	hs := &protocol.Handshake{
		Version:           protocol.Version,
		UIID:              u.id,
		UIDLURL:           base + "/ui/" + u.id + "/uidl",
		MaxMessageSuspend: int(m.config.MaxMessageSuspend / time.Millisecond),
		Push:              m.config.pushSettings(base, u.id),
		Initial:           initial,
	}
	if m.config.CSRFProtection {
		hs.CSRFToken = u.csrf
	}
	if m.config.HeartbeatInterval > 0 {
		hs.HeartbeatURL = base + "/ui/" + u.id + "/heartbeat"
		hs.HeartbeatInterval = heartbeatSeconds(m.config.HeartbeatInterval)
	} else {
		hs.HeartbeatInterval = -1
	}
	return hs, nil
}

// heartbeatSeconds rounds d up to whole seconds, never below one.
func heartbeatSeconds(d time.Duration) int {
	return max(1, int((d+time.Second-1)/time.Second))
}
