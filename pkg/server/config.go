package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
)

// DefaultSessionCookie is the name of the HTTP session cookie.
const DefaultSessionCookie = "MIRRORSESSION"

// Config holds configuration for UIs and the HTTP endpoints serving them.
type Config struct {
	// Heartbeats

	// HeartbeatInterval is how often the client sends a heartbeat. A UI
	// that misses three heartbeats in a row is closed. Zero or negative
	// disables heartbeats.
	// Default: 5 minutes.
	HeartbeatInterval time.Duration

	// CloseIdleSessions closes UIs that received no client message other
	// than heartbeats for SessionTimeout.
	// Default: false.
	CloseIdleSessions bool

	// SessionTimeout is how long an HTTP session survives without
	// requests, and the idle limit used by CloseIdleSessions.
	// Default: 30 minutes.
	SessionTimeout time.Duration

	// CleanupInterval is how often expired UIs and sessions are looked for.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// MaxUIsPerSession limits open UIs per HTTP session. 0 means no limit.
	MaxUIsPerSession int

	// Synchronization

	// SyncIDCheck drops property updates from clients that have not yet
	// applied the latest server message.
	// Default: true.
	SyncIDCheck bool

	// MaxMessageSuspend is how long the client waits for a missing server
	// message before asking for a resynchronization.
	// Default: 5 seconds.
	MaxMessageSuspend time.Duration

	// Limits bound decoding of client messages.
	Limits protocol.Limits

	// Push

	// PushMode selects when changes are pushed.
	// Default: push.ModeDisabled.
	PushMode push.Mode

	// PushTransport is the preferred push transport.
	// Default: push.TransportWebSocket.
	PushTransport push.Transport

	// PushFallback is used when PushTransport cannot be established.
	// Default: push.TransportLongPolling.
	PushFallback push.Transport

	// LongPollTimeout bounds how long a poll request is held open.
	// Default: 30 seconds.
	LongPollTimeout time.Duration

	// MessageCacheSize is how many recent server messages are kept per UI
	// for long polling.
	// Default: 100.
	MessageCacheSize int

	// WebSocket

	ReadBufferSize  int
	WriteBufferSize int

	// WriteTimeout bounds a single websocket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PongWait is how long a websocket may stay silent.
	// Default: 60 seconds.
	PongWait time.Duration

	// CheckOrigin validates the origin of websocket upgrades.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Security

	// CSRFProtection requires every client message to carry the UI's
	// CSRF token.
	// Default: true.
	CSRFProtection bool

	// SecureCookies marks the session cookie Secure. Requests that are
	// neither TLS nor forwarded as https by a trusted proxy are rejected.
	// Default: false.
	SecureCookies bool

	// SameSite is the SameSite mode of the session cookie.
	// Default: http.SameSiteLaxMode.
	SameSite http.SameSite

	// CookieDomain is the Domain attribute of the session cookie.
	CookieDomain string

	// SessionCookie is the name of the session cookie.
	// Default: DefaultSessionCookie.
	SessionCookie string

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-* and
	// Forwarded headers are honored.
	TrustedProxies []string

	// Uploads

	// MaxUploadSize limits the size of a single upload.
	// Default: 10MB.
	MaxUploadSize int64

	// ProductionMode hides internal error details from clients.
	// Default: false.
	ProductionMode bool
}

// DefaultConfig returns a Config with sensible defaults.
// CheckOrigin enforces same-origin by default.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 5 * time.Minute,
		SessionTimeout:    30 * time.Minute,
		CleanupInterval:   30 * time.Second,
		SyncIDCheck:       true,
		MaxMessageSuspend: 5 * time.Second,
		Limits:            protocol.DefaultLimits(),
		PushMode:          push.ModeDisabled,
		PushTransport:     push.TransportWebSocket,
		PushFallback:      push.TransportLongPolling,
		LongPollTimeout:   push.DefaultPollTimeout,
		MessageCacheSize:  push.DefaultCacheSize,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		WriteTimeout:      push.DefaultWriteTimeout,
		PongWait:          push.DefaultPongWait,
		CheckOrigin:       SameOriginCheck,
		CSRFProtection:    true,
		SameSite:          http.SameSiteLaxMode,
		SessionCookie:     DefaultSessionCookie,
		MaxUploadSize:     10 << 20,
	}
}

// withDefaults fills unset fields from DefaultConfig. Booleans are taken
// as given.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := c.Clone()
	if out.SessionTimeout <= 0 {
		out.SessionTimeout = d.SessionTimeout
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = d.CleanupInterval
	}
	if out.MaxMessageSuspend <= 0 {
		out.MaxMessageSuspend = d.MaxMessageSuspend
	}
	if out.PushTransport == "" {
		out.PushTransport = d.PushTransport
	}
	if out.LongPollTimeout <= 0 {
		out.LongPollTimeout = d.LongPollTimeout
	}
	if out.MessageCacheSize <= 0 {
		out.MessageCacheSize = d.MessageCacheSize
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.PongWait <= 0 {
		out.PongWait = d.PongWait
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.SameSite == 0 {
		out.SameSite = d.SameSite
	}
	if out.SessionCookie == "" {
		out.SessionCookie = d.SessionCookie
	}
	if out.MaxUploadSize <= 0 {
		out.MaxUploadSize = d.MaxUploadSize
	}
	return out
}

// SameOriginCheck validates that the request origin matches the host.
// Requests without an Origin header are accepted.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	// Compare the host portion (includes port if present)
	return originURL.Host == host
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.TrustedProxies != nil {
		clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	}
	return &clone
}

// WithPush sets the push mode and transport and returns the config for
// chaining.
func (c *Config) WithPush(mode push.Mode, transport push.Transport) *Config {
	c.PushMode = mode
	c.PushTransport = transport
	return c
}

// WithHeartbeatInterval sets the heartbeat interval and returns the config
// for chaining.
func (c *Config) WithHeartbeatInterval(d time.Duration) *Config {
	c.HeartbeatInterval = d
	return c
}

// WithCSRFProtection enables or disables CSRF checks and returns the config
// for chaining.
func (c *Config) WithCSRFProtection(on bool) *Config {
	c.CSRFProtection = on
	return c
}

// WithProductionMode sets production mode and returns the config for
// chaining.
func (c *Config) WithProductionMode(on bool) *Config {
	c.ProductionMode = on
	return c
}

// pushSettings returns the handshake description of the push setup. base
// is the path prefix of the UI endpoints.
func (c *Config) pushSettings(base, uiID string) protocol.PushSettings {
	if !c.PushMode.Enabled() {
		return protocol.PushSettings{Mode: c.PushMode.String()}
	}
	s := protocol.PushSettings{
		Mode:      c.PushMode.String(),
		Transport: string(c.PushTransport),
		Fallback:  string(c.PushFallback),
	}
	if c.PushTransport == push.TransportLongPolling {
		s.URL = base + "/ui/" + uiID + "/poll"
	} else {
		s.URL = base + "/ui/" + uiID + "/push"
	}
	return s
}
