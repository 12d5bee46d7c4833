package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
	"github.com/vango-dev/mirror/pkg/upload"
)

type httpFixture struct {
	m      *Manager
	srv    *httptest.Server
	client *http.Client
	page   *page
}

func newHTTPFixture(t *testing.T, cfg *Config, opts ...Option) *httpFixture {
	t.Helper()
	p := &page{}
	m := newTestManager(t, cfg, append(opts, WithUIInit(p.build))...)
	srv := httptest.NewServer(m.Handler(""))
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	// Sharing the server's transport lets srv.Close drop idle connections.
	client := &http.Client{Jar: jar, Transport: srv.Client().Transport}
	return &httpFixture{m: m, srv: srv, client: client, page: p}
}

func (f *httpFixture) post(t *testing.T, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := f.client.Post(f.srv.URL+path, contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *httpFixture) handshake(t *testing.T) *protocol.Handshake {
	t.Helper()
	resp := f.post(t, "/ui", "application/json", strings.NewReader(`{"location":"/"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	hs, err := protocol.DecodeHandshake(data)
	require.NoError(t, err)
	return hs
}

func (f *httpFixture) uidl(t *testing.T, hs *protocol.Handshake, msg *protocol.ClientMessage) (*http.Response, *protocol.ServerMessage) {
	t.Helper()
	if msg.CSRFToken == "" {
		msg.CSRFToken = hs.CSRFToken
	}
	body, err := protocol.EncodeClientMessage(msg)
	require.NoError(t, err)
	resp := f.post(t, hs.UIDLURL, "application/json", bytes.NewReader(body))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	out, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	return resp, out
}

func (f *httpFixture) ui(t *testing.T, hs *protocol.Handshake) *UI {
	t.Helper()
	u, err := f.m.Get(hs.UIID)
	require.NoError(t, err)
	return u
}

// buttonID and clicks read the page under the UI lock, since handlers run
// on server goroutines.
func (f *httpFixture) buttonID(t *testing.T, u *UI) dom.NodeID {
	var id dom.NodeID
	read(t, u, func() { id = f.page.button.ID() })
	return id
}

func (f *httpFixture) clicks(t *testing.T, u *UI) int {
	var n int
	read(t, u, func() { n = f.page.clicks })
	return n
}

func TestHTTPHandshakeAndMessages(t *testing.T) {
	f := newHTTPFixture(t, nil)
	hs := f.handshake(t)

	assert.Equal(t, protocol.Version, hs.Version)
	assert.Equal(t, "/ui/"+hs.UIID+"/uidl", hs.UIDLURL)
	assert.Equal(t, 1, hs.Initial.SyncID)
	assert.NotEmpty(t, hs.Initial.Changes)
	assert.Equal(t, "disabled", hs.Push.Mode)

	u := f.ui(t, hs)
	cookies := f.client.Jar.Cookies(mustURL(t, f.srv.URL))
	require.Len(t, cookies, 1)
	assert.Equal(t, u.Session().ID(), cookies[0].Value)

	resp, msg := f.uidl(t, hs, &protocol.ClientMessage{
		SyncID:   1,
		ClientID: 0,
		RPC:      []protocol.Invocation{{Type: protocol.InvocationEvent, Node: f.buttonID(t, u), Event: "click"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, msg.SyncID)
	assert.Equal(t, 1, msg.ClientID)
	assert.Equal(t, 1, f.clicks(t, u))

	// A second UI in the same browser shares the session.
	u2 := f.ui(t, f.handshake(t))
	assert.Same(t, u.Session(), u2.Session())
}

func TestHTTPExpiredUI(t *testing.T) {
	f := newHTTPFixture(t, nil)
	hs := f.handshake(t)

	// Unknown UI.
	gone := *hs
	gone.UIDLURL = "/ui/unknown/uidl"
	_, msg := f.uidl(t, &gone, &protocol.ClientMessage{})
	require.NotNil(t, msg.Meta)
	assert.True(t, msg.Meta.SessionExpired)

	// A request from another browser does not reach the UI.
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+hs.UIDLURL, strings.NewReader(`{"clientId":0}`))
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out protocol.ServerMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Meta.SessionExpired)

	f.m.Close(hs.UIID, CloseClient)
	_, msg = f.uidl(t, hs, &protocol.ClientMessage{})
	assert.True(t, msg.Meta.SessionExpired)
}

func TestHTTPBadRequests(t *testing.T) {
	f := newHTTPFixture(t, nil)
	hs := f.handshake(t)

	resp := f.post(t, hs.UIDLURL, "application/json", strings.NewReader(`{"rpc":[{"type":"bogus"}]}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var em protocol.ErrorMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&em))
	assert.Equal(t, protocol.CodeInvalidMessage, em.Code)

	resp, _ = f.uidl(t, hs, &protocol.ClientMessage{CSRFToken: "forged"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.post(t, "/ui", "application/json", strings.NewReader(`{not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPHeartbeat(t *testing.T) {
	f := newHTTPFixture(t, nil)
	hs := f.handshake(t)
	u := f.ui(t, hs)
	before := u.LastHeartbeat()

	time.Sleep(time.Millisecond)
	resp := f.post(t, hs.HeartbeatURL, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, u.LastHeartbeat().After(before))

	resp = f.post(t, "/ui/unknown/heartbeat", "", nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestHTTPLongPolling(t *testing.T) {
	cfg := DefaultConfig().WithPush(push.ModeAutomatic, push.TransportLongPolling)
	cfg.LongPollTimeout = 5 * time.Second
	f := newHTTPFixture(t, cfg)
	hs := f.handshake(t)
	require.Equal(t, "/ui/"+hs.UIID+"/poll", hs.Push.URL)

	type result struct {
		msgs []json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.client.Get(f.srv.URL + hs.Push.URL + "?lastSeen=1")
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var msgs []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&msgs)
		done <- result{msgs: msgs, err: err}
	}()

	u := f.ui(t, hs)
	require.Eventually(t, u.IsPushConnected, 2*time.Second, 5*time.Millisecond)
	u.Access(func() { _ = f.page.label.SetText("pushed") })

	r := <-done
	require.NoError(t, r.err)
	require.Len(t, r.msgs, 1)
	msg, err := protocol.DecodeServerMessage(r.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, msg.SyncID)
	assert.True(t, msg.Meta.Async)

	// A client that missed everything gets the cached messages again.
	resp, err := f.client.Get(f.srv.URL + hs.Push.URL + "?lastSeen=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	var msgs []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 2)
	first, err := protocol.DecodeServerMessage(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, first.SyncID)

	bad, err := f.client.Get(f.srv.URL + hs.Push.URL + "?lastSeen=x")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHTTPPushDisabled(t *testing.T) {
	f := newHTTPFixture(t, nil)
	hs := f.handshake(t)
	resp, err := f.client.Get(f.srv.URL + "/ui/" + hs.UIID + "/poll?lastSeen=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dialPush(t *testing.T, f *httpFixture, hs *protocol.Handshake, transport string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + hs.Push.URL
	if transport != "" {
		url += "?transport=" + transport
	}
	header := http.Header{}
	for _, c := range f.client.Jar.Cookies(mustURL(t, f.srv.URL)) {
		header.Add("Cookie", c.String())
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readServerMessage(t *testing.T, ws *websocket.Conn) *protocol.ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	return msg
}

func TestHTTPWebSocketPush(t *testing.T) {
	f := newHTTPFixture(t, DefaultConfig().WithPush(push.ModeAutomatic, push.TransportWebSocket))
	hs := f.handshake(t)
	ws := dialPush(t, f, hs, "")

	u := f.ui(t, hs)
	require.Eventually(t, u.IsPushConnected, 2*time.Second, 5*time.Millisecond)

	u.Access(func() { _ = f.page.label.SetText("pushed") })
	msg := readServerMessage(t, ws)
	assert.Equal(t, 2, msg.SyncID)
	assert.True(t, msg.Meta.Async)

	// Client messages may travel over the websocket too.
	body, err := protocol.EncodeClientMessage(&protocol.ClientMessage{
		CSRFToken: hs.CSRFToken,
		SyncID:    2,
		ClientID:  0,
		RPC:       []protocol.Invocation{{Type: protocol.InvocationEvent, Node: f.buttonID(t, u), Event: "click"}},
	})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, body))

	msg = readServerMessage(t, ws)
	assert.Equal(t, 3, msg.SyncID)
	assert.Equal(t, 1, msg.ClientID)
	assert.Nil(t, msg.Meta)
	assert.Equal(t, 1, f.clicks(t, u))

	f.m.Close(hs.UIID, CloseClient)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "closing the UI closes the websocket")
}

func TestHTTPUpload(t *testing.T) {
	store, err := upload.NewDiskStore(t.TempDir(), 0)
	require.NoError(t, err)
	f := newHTTPFixture(t, nil, WithUploadStore(store, nil))
	hs := f.handshake(t)
	u := f.ui(t, hs)

	// The receiver runs under the UI lock, so got is read with read.
	var got []byte
	var gotName, url string
	read(t, u, func() {
		u.AddStreamReceiver(f.page.button, "avatar", func(ctx context.Context, file *upload.File) error {
			gotName = file.Filename
			data, err := io.ReadAll(file)
			got = data
			return err
		})
		url = u.UploadURL(f.page.button, "avatar")
	})

	postFile := func(path string) *http.Response {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", "me.txt")
		require.NoError(t, err)
		_, err = part.Write([]byte("portrait"))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return f.post(t, path, w.FormDataContentType(), &buf)
	}

	resp := postFile(url)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	read(t, u, func() {
		assert.Equal(t, "me.txt", gotName)
		assert.Equal(t, []byte("portrait"), got)
	})

	var info upload.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	_, err = store.Claim(context.Background(), info.TempID)
	assert.ErrorIs(t, err, upload.ErrNotFound, "the temp file is gone after the receiver ran")

	id := strconv.Itoa(int(f.buttonID(t, u)))
	resp = postFile("/ui/" + hs.UIID + "/upload/" + id + "/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	read(t, u, func() { _ = f.page.button.SetEnabled(false) })
	resp = postFile(url)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHTTPSecureCookies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecureCookies = true
	f := newHTTPFixture(t, cfg)
	resp := f.post(t, "/ui", "application/json", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
