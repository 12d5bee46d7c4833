package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
	"github.com/vango-dev/mirror/pkg/upload"
)

// maxHandshakeSize bounds the body of a UI creation request.
const maxHandshakeSize = 64 << 10

// Handler returns the HTTP endpoints of the UIs:
//
//	POST /ui                              create a UI, returns the handshake
//	POST /ui/{id}/uidl                    client message, returns the response
//	POST /ui/{id}/heartbeat               heartbeat
//	GET  /ui/{id}/push                    websocket push connection
//	GET  /ui/{id}/poll?lastSeen=n         long poll
//	POST /ui/{id}/upload/{node}/{name}    upload to a stream receiver
//
// prefix is the path the handler is mounted at, used in the URLs handed to
// the client. Mount it with chi's Mount or http.StripPrefix.
func (m *Manager) Handler(prefix string) http.Handler {
	h := &handler{
		m:      m,
		prefix: prefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  m.config.ReadBufferSize,
			WriteBufferSize: m.config.WriteBufferSize,
			CheckOrigin:     m.config.CheckOrigin,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Post("/ui", h.create)
	r.Route("/ui/{id}", func(r chi.Router) {
		r.Post("/uidl", h.uidl)
		r.Post("/heartbeat", h.heartbeat)
		r.Get("/push", h.push)
		r.Get("/poll", h.poll)
		r.Post("/upload/{node}/{name}", h.upload)
	})
	return r
}

type handler struct {
	m        *Manager
	prefix   string
	upgrader websocket.Upgrader
}

// logRequests logs every request at debug level with the client address.
func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.m.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"client_ip", clientIP(r, h.m.proxies))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError reports err as a protocol error message. Server errors keep
// their details in the log.
func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError && h.m.config.ProductionMode {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, protocol.NewError(errorCode(err), msg))
}

// sessionCookie returns the session cookie for id.
func (h *handler) sessionCookie(id string, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     h.m.config.SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: h.m.config.SameSite,
		Secure:   secure,
	}
	if h.m.config.CookieDomain != "" {
		c.Domain = h.m.config.CookieDomain
	}
	return c
}

func (h *handler) cookieSessionID(r *http.Request) string {
	c, err := r.Cookie(h.m.config.SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// lookup returns the UI named in the path if it belongs to the session of
// the request.
func (h *handler) lookup(r *http.Request) (*UI, error) {
	u, err := h.m.Get(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if u.session.id != h.cookieSessionID(r) || !u.session.IsValid() {
		return nil, ErrUINotFound
	}
	u.session.touch()
	return u, nil
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	secure := isSecureRequest(r, h.m.proxies)
	if h.m.config.SecureCookies && !secure {
		h.writeError(w, http.StatusForbidden, ErrSecureCookiesRequired)
		return
	}

	var req protocol.HandshakeRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHandshakeSize+1))
	if err != nil || len(body) > maxHandshakeSize {
		h.writeError(w, http.StatusBadRequest, &ProtocolError{Op: "handshake", Message: "unreadable request", Err: protocol.ErrInvalidMessage})
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, &ProtocolError{Op: "handshake", Message: err.Error(), Err: protocol.ErrInvalidMessage})
			return
		}
	}

	cookieID := h.cookieSessionID(r)
	s, err := h.m.Session(ctx, cookieID)
	if err != nil {
		h.createFailed(w, err)
		return
	}
	if s.id != cookieID {
		http.SetCookie(w, h.sessionCookie(s.id, h.m.config.SecureCookies && secure))
	}

	u, err := h.m.CreateUI(ctx, s, req.Location)
	if err != nil {
		h.createFailed(w, err)
		return
	}
	hs, err := h.m.handshake(u, h.prefix)
	if err != nil {
		h.m.Close(u.id, CloseClient)
		h.createFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hs)
}

func (h *handler) createFailed(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrShutdown):
		h.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, ErrMaxUIsReached):
		h.writeError(w, http.StatusTooManyRequests, err)
	default:
		h.m.logger.Error("UI creation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

// expired answers a request for a UI that is gone. The client shows its
// session expired notice.
func expired(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, &protocol.ServerMessage{
		Meta: &protocol.Meta{SessionExpired: true},
	})
}

func (h *handler) uidl(w http.ResponseWriter, r *http.Request) {
	u, err := h.lookup(r)
	if err != nil {
		expired(w)
		return
	}

	msg, err := protocol.ReadClientMessage(r.Body, h.m.config.Limits)
	if err != nil {
		perr := &ProtocolError{UIID: u.id, Op: "decode message", Message: err.Error(), Err: err}
		u.logger.Warn("rejected client message", "error", err)
		status := http.StatusBadRequest
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeError(w, status, perr)
		return
	}

	resp, err := u.HandleMessage(r.Context(), msg)
	switch {
	case err == nil:
		writeRaw(w, http.StatusOK, resp)
	case errors.Is(err, ErrUIClosed):
		expired(w)
	case errors.Is(err, ErrInvalidCSRF):
		h.writeError(w, http.StatusForbidden, err)
	default:
		u.logger.Error("message handling failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	u, err := h.lookup(r)
	if err != nil {
		w.WriteHeader(http.StatusGone)
		return
	}
	u.Heartbeat()
	w.WriteHeader(http.StatusOK)
}

func (h *handler) push(w http.ResponseWriter, r *http.Request) {
	u, err := h.lookup(r)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if !h.m.config.PushMode.Enabled() {
		h.writeError(w, http.StatusNotFound, ErrPushDisabled)
		return
	}

	transport := h.m.config.PushTransport
	if t, err := push.ParseTransport(r.URL.Query().Get("transport")); err == nil && t.UsesWebSocket() {
		transport = t
	}
	if !transport.UsesWebSocket() {
		transport = push.TransportWebSocket
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		u.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx := r.Context()
	var conn *push.WebSocketConnection
	conn = push.NewWebSocketConnection(ws, push.WebSocketOptions{
		Transport:      transport,
		WriteTimeout:   h.m.config.WriteTimeout,
		PongWait:       h.m.config.PongWait,
		MaxMessageSize: int64(h.m.config.Limits.MaxMessageSize),
		Observer:       h.m.observer,
		Logger:         u.logger,
		OnMessage: func(data []byte) {
			h.websocketMessage(r, u, conn, data)
		},
	})
	u.setConnection(conn)
	u.logger.Info("push connected", "transport", string(transport))

	// Changes made while the client was not connected go out now.
	u.Push()

	if err := conn.Run(ctx); err != nil {
		u.logger.Debug("push connection ended", "error", err)
	}
	u.clearConnection(conn)
}

// websocketMessage handles a client message sent over the websocket and
// writes the response back over it.
func (h *handler) websocketMessage(r *http.Request, u *UI, conn *push.WebSocketConnection, data []byte) {
	msg, err := protocol.DecodeClientMessage(data, h.m.config.Limits)
	if err != nil {
		u.logger.Warn("rejected client message", "error", err)
		return
	}
	resp, err := u.HandleMessage(r.Context(), msg)
	if err != nil {
		u.logger.Warn("websocket message failed", "error", err)
		if errors.Is(err, ErrUIClosed) {
			conn.Disconnect()
		}
		return
	}
	if err := conn.Push(u.cache.MaxSyncID(), resp); err != nil {
		u.logger.Debug("response not delivered", "error", err)
	}
}

// longPollConnection returns the UI's long-polling connection, replacing
// any other push connection.
func (u *UI) longPollConnection(timeout time.Duration, observer push.Observer) *push.LongPollConnection {
	u.connMu.Lock()
	if lp, ok := u.conn.(*push.LongPollConnection); ok && lp.IsConnected() {
		u.connMu.Unlock()
		return lp
	}
	u.connMu.Unlock()

	lp := push.NewLongPollConnection(push.LongPollOptions{
		Cache:    u.cache,
		Timeout:  timeout,
		Observer: observer,
	})
	u.setConnection(lp)
	return lp
}

func (h *handler) poll(w http.ResponseWriter, r *http.Request) {
	u, err := h.lookup(r)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if !h.m.config.PushMode.Enabled() {
		h.writeError(w, http.StatusNotFound, ErrPushDisabled)
		return
	}
	lastSeen, err := strconv.Atoi(r.URL.Query().Get("lastSeen"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, &ProtocolError{UIID: u.id, Op: "poll", Message: "lastSeen must be a number", Err: protocol.ErrInvalidMessage})
		return
	}

	lp := u.longPollConnection(h.m.config.LongPollTimeout, h.m.observer)
	msgs, err := lp.Poll(r.Context(), lastSeen)
	switch {
	case errors.Is(err, push.ErrResyncRequired):
		u.logger.Info("long poll client fell behind, resynchronizing", "last_seen", lastSeen)
		data, rerr := u.Resynchronize()
		if rerr != nil {
			expired(w)
			return
		}
		msgs = [][]byte{data}
	case errors.Is(err, push.ErrClosed):
		w.WriteHeader(http.StatusGone)
		return
	case err != nil:
		// The client went away.
		return
	}

	out := make([]json.RawMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	u, err := h.lookup(r)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	store := h.m.uploads
	if store == nil {
		h.writeError(w, http.StatusNotFound, ErrNoReceiver)
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "node"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, ErrNodeNotFound)
		return
	}
	nodeID, name := dom.NodeID(id), chi.URLParam(r, "name")

	// Reject before the body is stored.
	var checkErr error
	if err := u.Access(func() {
		_, _, checkErr = u.receiverLocked(nodeID, name)
	}).Wait(r.Context()); err != nil {
		checkErr = err
	}
	if checkErr != nil {
		h.writeError(w, uploadStatus(checkErr), checkErr)
		return
	}

	info, err := upload.Receive(w, r, store, h.m.uploadCfg)
	if err != nil {
		status := upload.StatusCode(err)
		if status == http.StatusInternalServerError {
			u.logger.Error("upload failed", "error", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	u.touch()

	if err := u.receive(r.Context(), store, nodeID, name, info.TempID); err != nil {
		u.logger.Warn("stream receiver failed",
			"node", id,
			"receiver", name,
			"error", err)
		h.writeError(w, uploadStatus(err), err)
		return
	}
	u.logger.Debug("upload received",
		"node", id,
		"receiver", name,
		"size", info.Size)
	writeJSON(w, http.StatusOK, info)
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, ErrNodeNotFound), errors.Is(err, ErrNoReceiver),
		errors.Is(err, ErrUIClosed), errors.Is(err, upload.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dom.ErrNodeDisabled), errors.Is(err, dom.ErrNodeInert):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
