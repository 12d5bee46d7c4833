package demo_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vango-dev/mirror/internal/demo"
	"github.com/vango-dev/mirror/pkg/client"
	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/push"
	"github.com/vango-dev/mirror/pkg/server"
	"github.com/vango-dev/mirror/pkg/upload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	m   *server.Manager
	srv *httptest.Server
}

func newFixture(t *testing.T, cfg *server.Config, app *demo.App, opts ...server.Option) *fixture {
	t.Helper()
	opts = append([]server.Option{
		server.WithLogger(discardLogger()),
		server.WithUIInit(app.Init),
	}, opts...)
	m := server.NewManager(cfg, opts...)
	t.Cleanup(func() { require.NoError(t, m.Shutdown(context.Background())) })
	srv := httptest.NewServer(m.Handler(""))
	t.Cleanup(srv.Close)
	return &fixture{m: m, srv: srv}
}

func (f *fixture) dial(t *testing.T, opts client.Options) *client.Client {
	t.Helper()
	opts.BaseURL = f.srv.URL
	opts.HTTPClient = f.srv.Client()
	opts.Logger = discardLogger()
	opts.RetryDelay = time.Millisecond
	c, err := client.Dial(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func byID(c *client.Client, id string) dom.NodeID {
	var found dom.NodeID
	c.View(func(tree *client.Tree) {
		nodes := tree.Find(func(n *client.Node) bool {
			v, ok := n.Attribute("id")
			return ok && v == id
		})
		if len(nodes) > 0 {
			found = nodes[0].ID()
		}
	})
	return found
}

func textOf(c *client.Client, id string) string {
	node := byID(c, id)
	var s string
	c.View(func(tree *client.Tree) {
		if n := tree.Node(node); n != nil {
			s = n.TextContent()
		}
	})
	return s
}

// items returns the text of the li children of the list with the given id.
func items(c *client.Client, id string) []string {
	node := byID(c, id)
	var out []string
	c.View(func(tree *client.Tree) {
		list := tree.Node(node)
		if list == nil {
			return
		}
		for _, li := range list.Children() {
			out = append(out, li.TextContent())
		}
	})
	return out
}

func quiet() *demo.App {
	return demo.New(discardLogger(), demo.WithTick(0), demo.WithSearchDebounce(20*time.Millisecond))
}

func TestCounter(t *testing.T) {
	f := newFixture(t, nil, quiet())
	c := f.dial(t, client.Options{})
	ctx := context.Background()

	assert.Equal(t, "0", textOf(c, "count"))
	button := byID(c, "increment")
	for range 3 {
		require.NoError(t, c.Fire(ctx, button, "click", nil))
	}
	assert.Equal(t, "3", textOf(c, "count"))

	res, err := c.Call(ctx, button, "reset")
	require.NoError(t, err)
	var old int
	require.NoError(t, json.Unmarshal(res, &old))
	assert.Equal(t, 3, old)
	assert.Equal(t, "0", textOf(c, "count"))
}

func TestGreeting(t *testing.T) {
	f := newFixture(t, nil, quiet())
	c := f.dial(t, client.Options{})
	ctx := context.Background()

	assert.Equal(t, "Who are you?", textOf(c, "greeting"))
	input := byID(c, "name")
	require.NoError(t, c.SetProperty(input, "value", "Ada"))
	require.NoError(t, c.Fire(ctx, input, "change", nil))
	assert.Equal(t, "Hello, Ada!", textOf(c, "greeting"))
}

func TestTodos(t *testing.T) {
	f := newFixture(t, nil, quiet())
	c := f.dial(t, client.Options{})
	ctx := context.Background()
	input := byID(c, "todo")
	enter := map[string]any{"event.key === 'Enter'": true}

	for _, item := range []string{"milk", "eggs"} {
		require.NoError(t, c.SetProperty(input, "value", item))
		require.NoError(t, c.Fire(ctx, input, "keydown", nil), "other keys are filtered out")
		require.NoError(t, c.Fire(ctx, input, "keydown", enter))
	}
	assert.Equal(t, []string{"milkx", "eggsx"}, items(c, "todos"))
	assert.Equal(t, "2 left", textOf(c, "todo-count"))

	var value any
	c.View(func(tree *client.Tree) { value, _ = tree.Node(input).Property("value") })
	assert.Equal(t, "", value, "the input is cleared")

	// Remove the first item with its button.
	var remove dom.NodeID
	c.View(func(tree *client.Tree) {
		list := tree.Node(byIDLocked(tree, "todos"))
		li := list.Children()[0]
		remove = li.Children()[1].ID()
	})
	require.NoError(t, c.Fire(ctx, remove, "click", nil))
	assert.Equal(t, []string{"eggsx"}, items(c, "todos"))
	assert.Equal(t, "1 left", textOf(c, "todo-count"))
}

func byIDLocked(tree *client.Tree, id string) dom.NodeID {
	nodes := tree.Find(func(n *client.Node) bool {
		v, ok := n.Attribute("id")
		return ok && v == id
	})
	if len(nodes) == 0 {
		return 0
	}
	return nodes[0].ID()
}

func TestSearchIsDebounced(t *testing.T) {
	f := newFixture(t, nil, quiet())
	c := f.dial(t, client.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	search := byID(c, "search")
	for _, v := range []string{"e", "ec", "ech"} {
		require.NoError(t, c.SetProperty(search, "value", v))
		require.NoError(t, c.Fire(context.Background(), search, "input", nil))
	}
	assert.Empty(t, items(c, "results"), "nothing before the timeout")

	require.Eventually(t, func() bool { return len(items(c, "results")) > 0 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"echo"}, items(c, "results"))
}

func TestDocumentTitle(t *testing.T) {
	f := newFixture(t, nil, quiet())
	c := f.dial(t, client.Options{
		ExecuteJS: func(expr string, _ []any) (any, error) {
			if expr == "return document.title" {
				return "Mirror demo", nil
			}
			return nil, errors.New("unsupported")
		},
	})
	ctx := context.Background()

	require.NoError(t, c.Fire(ctx, byID(c, "read-title"), "click", nil))
	// The result goes back with the next message.
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, "Mirror demo", textOf(c, "document-title"))
}

func TestDocumentTitleError(t *testing.T) {
	f := newFixture(t, nil, quiet())
	c := f.dial(t, client.Options{
		ExecuteJS: func(string, []any) (any, error) { return nil, errors.New("blocked") },
	})
	ctx := context.Background()

	require.NoError(t, c.Fire(ctx, byID(c, "read-title"), "click", nil))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, "error: blocked", textOf(c, "document-title"))
}

func TestUpload(t *testing.T) {
	store, err := upload.NewDiskStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	f := newFixture(t, nil, quiet(), server.WithUploadStore(store, upload.DefaultConfig()))
	c := f.dial(t, client.Options{})
	ctx := context.Background()

	input := byID(c, "file")
	var target string
	c.View(func(tree *client.Tree) { target, _ = tree.Node(input).Attribute("data-upload") })
	assert.True(t, strings.HasSuffix(target, "/upload/"+strconv.Itoa(int(input))+"/file"), target)

	require.NoError(t, c.Upload(ctx, input, "file", "notes.txt", strings.NewReader("hello world")))
	got := items(c, "uploads")
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "notes.txt (11 bytes"), got[0])

	err = c.Upload(ctx, input, "other", "notes.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, client.ErrRejected)
}

func TestNavigation(t *testing.T) {
	f := newFixture(t, nil, quiet())
	c := f.dial(t, client.Options{Location: "/start"})

	assert.Equal(t, "/start", textOf(c, "location"))
	require.NoError(t, c.Navigate(context.Background(), "/about"))
	assert.Equal(t, "/about", textOf(c, "location"))
}

func TestClockIsPushed(t *testing.T) {
	var ticks atomic.Int64
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	app := demo.New(discardLogger(),
		demo.WithTick(10*time.Millisecond),
		demo.WithClock(func() time.Time {
			return base.Add(time.Duration(ticks.Add(1)) * time.Second)
		}),
	)
	cfg := server.DefaultConfig().WithPush(push.ModeAutomatic, push.TransportLongPolling)
	f := newFixture(t, cfg, app)
	c := f.dial(t, client.Options{})

	first := textOf(c, "clock")
	require.NotEmpty(t, first)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool { return textOf(c, "clock") != first },
		2*time.Second, 5*time.Millisecond)
	assert.Regexp(t, `^12:\d\d:\d\d$`, textOf(c, "clock"))
}
