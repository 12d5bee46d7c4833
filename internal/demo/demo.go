// Package demo is the UI served by "mirror serve". It exercises every part
// of the server: events, property sync, debounced events, signal bindings,
// published methods, JS execution, uploads, navigation and push.
package demo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vango-dev/mirror/pkg/bind"
	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/server"
	"github.com/vango-dev/mirror/pkg/signal"
	"github.com/vango-dev/mirror/pkg/upload"
)

// Words is the list the search box filters.
var Words = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf",
	"hotel", "india", "juliett", "kilo", "lima", "mike", "november",
	"oscar", "papa", "quebec", "romeo", "sierra", "tango", "uniform",
	"victor", "whiskey", "xray", "yankee", "zulu",
}

// App builds one demo UI per client.
type App struct {
	logger   *slog.Logger
	tick     time.Duration
	now      func() time.Time
	debounce time.Duration
}

// Option configures an App.
type Option func(*App)

// WithTick sets how often the clock updates. Zero disables the clock.
func WithTick(d time.Duration) Option {
	return func(a *App) { a.tick = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithSearchDebounce sets the debounce timeout of the search box.
func WithSearchDebounce(d time.Duration) Option {
	return func(a *App) { a.debounce = d }
}

// New creates the demo app.
func New(logger *slog.Logger, opts ...Option) *App {
	a := &App{
		logger:   logger,
		tick:     time.Second,
		now:      time.Now,
		debounce: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init is a server.UIInitializer.
func (a *App) Init(_ context.Context, u *server.UI) error {
	v := &view{app: a, ui: u}
	return v.build()
}

// view holds the state of one UI. Signals may be written from any
// goroutine; tree access happens under the UI lock.
type view struct {
	app *App
	ui  *server.UI

	count    *signal.Signal[int]
	name     *signal.Signal[string]
	query    *signal.Signal[string]
	todos    *signal.ListSignal[string]
	uploads  *signal.ListSignal[string]
	clock    *signal.Signal[string]
	title    *signal.Signal[string]
	location *signal.Signal[string]

	fileInput *dom.Node
}

func el(tag string, children ...*dom.Node) *dom.Node {
	n := dom.NewElement(tag)
	if len(children) > 0 {
		_ = n.AppendChild(children...)
	}
	return n
}

func text(s string) *dom.Node { return dom.NewText(s) }

func withAttr(n *dom.Node, name, value string) *dom.Node {
	_ = n.SetAttribute(name, value)
	return n
}

func (v *view) build() error {
	v.count = signal.New(0)
	v.name = signal.New("")
	v.query = signal.New("")
	v.todos = signal.NewList[string]()
	v.uploads = signal.NewList[string]()
	v.clock = signal.New("")
	v.title = signal.New("")
	v.location = signal.New(v.ui.Location())

	root := v.ui.Root()
	sections := []func() (*dom.Node, error){
		v.counter, v.greeting, v.todoList, v.search, v.files, v.misc,
	}
	if err := root.AppendChild(withAttr(el("h1", text("mirror")), "id", "title")); err != nil {
		return err
	}
	for _, section := range sections {
		n, err := section()
		if err != nil {
			return err
		}
		if err := root.AppendChild(n); err != nil {
			return err
		}
	}

	// Node ids exist once the sections are attached.
	if err := v.fileInput.SetAttribute("data-upload", v.ui.UploadURL(v.fileInput, "file")); err != nil {
		return err
	}
	v.ui.SetNavigationHandler(func(_ context.Context, _ *server.UI, location string) error {
		v.location.Set(location)
		return nil
	})
	if v.app.tick > 0 {
		v.startClock()
	}
	return nil
}

// counter is a button incrementing a count, a label showing it, and a
// published "reset" method returning the old count.
func (v *view) counter() (*dom.Node, error) {
	button := withAttr(el("button", text("+1")), "id", "increment")
	label := withAttr(el("span"), "id", "count")
	section := el("section", button, label)

	button.AddEventListener("click", func(*dom.DomEvent) {
		v.count.Update(func(n int) int { return n + 1 })
	})
	countText := signal.NewComputed(func() string { return strconv.Itoa(v.count.Get()) })
	if _, err := bind.Text(label, countText); err != nil {
		return nil, err
	}
	_, err := v.ui.Expose(button, "reset", func() int {
		old := v.count.Peek()
		v.count.Set(0)
		return old
	})
	return section, err
}

// greeting binds an input value in both directions and greets the name.
func (v *view) greeting() (*dom.Node, error) {
	input := withAttr(el("input"), "id", "name")
	greeting := withAttr(el("p"), "id", "greeting")
	section := el("section", input, greeting)

	if _, err := bind.Value(input, "value", "change", v.name); err != nil {
		return nil, err
	}
	hello := signal.NewComputed(func() string {
		name := strings.TrimSpace(v.name.Get())
		if name == "" {
			return "Who are you?"
		}
		return "Hello, " + name + "!"
	})
	if _, err := bind.Text(greeting, hello); err != nil {
		return nil, err
	}
	return section, nil
}

// todoList adds items on enter and removes them with their button.
func (v *view) todoList() (*dom.Node, error) {
	input := withAttr(el("input"), "id", "todo")
	list := withAttr(el("ul"), "id", "todos")
	count := withAttr(el("span"), "id", "todo-count")
	section := el("section", input, list, count)

	input.AddEventListener("keydown", func(*dom.DomEvent) {
		item := strings.TrimSpace(input.PropertyString("value", ""))
		if item == "" {
			return
		}
		v.todos.Append(item)
		_ = input.SetProperty("value", "")
	}).SynchronizeProperty("value").SetFilter("event.key === 'Enter'")

	_, err := bind.Children(list, v.todos, func(entry *signal.Signal[string]) *dom.Node {
		remove := el("button", text("x"))
		label := el("span")
		_, _ = bind.Text(label, entry)
		remove.AddEventListener("click", func(*dom.DomEvent) { v.todos.Remove(entry) })
		return el("li", label, remove)
	})
	if err != nil {
		return nil, err
	}
	left := signal.NewComputed(func() string { return fmt.Sprintf("%d left", v.todos.Len()) })
	_, err = bind.Text(count, left)
	return section, err
}

// search filters Words with a debounced input event.
func (v *view) search() (*dom.Node, error) {
	input := withAttr(el("input"), "id", "search")
	_ = input.SetAttribute("type", "search")
	results := withAttr(el("ul"), "id", "results")
	section := el("section", input, results)

	reg := input.AddEventListener("input", func(*dom.DomEvent) {
		v.query.Set(input.PropertyString("value", ""))
	}).SynchronizeProperty("value")
	if v.app.debounce > 0 {
		reg.Debounce(v.app.debounce)
	}

	bind.Effect(results, func() {
		q := strings.ToLower(strings.TrimSpace(v.query.Get()))
		_ = results.RemoveAllChildren()
		if q == "" {
			return
		}
		for _, w := range Words {
			if strings.Contains(w, q) {
				_ = results.AppendChild(el("li", text(w)))
			}
		}
	})
	return section, nil
}

// files lists uploads received through the "file" stream receiver of the
// file input.
func (v *view) files() (*dom.Node, error) {
	input := withAttr(el("input"), "id", "file")
	_ = input.SetAttribute("type", "file")
	list := withAttr(el("ul"), "id", "uploads")
	section := el("section", input, list)

	v.fileInput = input
	v.ui.AddStreamReceiver(input, "file", func(_ context.Context, f *upload.File) error {
		defer f.Close()
		n, err := io.Copy(io.Discard, f)
		if err != nil {
			return err
		}
		v.uploads.Append(fmt.Sprintf("%s (%d bytes, %s)", f.Filename, n, f.ContentType))
		v.ui.Logger().Info("file uploaded", "filename", f.Filename, "size", n)
		return nil
	})

	_, err := bind.Children(list, v.uploads, func(entry *signal.Signal[string]) *dom.Node {
		li := el("li")
		_, _ = bind.Text(li, entry)
		return li
	})
	return section, err
}

// misc shows the clock, the document title read through JS and the
// current location.
func (v *view) misc() (*dom.Node, error) {
	clock := withAttr(el("span"), "id", "clock")
	titleButton := withAttr(el("button", text("Read title")), "id", "read-title")
	title := withAttr(el("span"), "id", "document-title")
	location := withAttr(el("span"), "id", "location")
	section := el("section", clock, titleButton, title, location)

	titleButton.AddEventListener("click", func(*dom.DomEvent) {
		titleButton.ExecuteJS("return document.title").Then(
			func(result any) { v.title.Set(fmt.Sprint(result)) },
			func(msg string) { v.title.Set("error: " + msg) },
		)
	})

	for node, value := range map[*dom.Node]*signal.Signal[string]{
		clock:    v.clock,
		title:    v.title,
		location: v.location,
	} {
		if _, err := bind.Text(node, value); err != nil {
			return nil, err
		}
	}
	return section, nil
}

// startClock updates the clock until the UI closes. With push enabled
// every tick reaches the client.
func (v *view) startClock() {
	ctx, cancel := context.WithCancel(context.Background())
	v.ui.OnClose(func(*server.UI) { cancel() })
	v.clock.Set(v.app.now().Format(time.TimeOnly))
	go func() {
		t := time.NewTicker(v.app.tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				v.clock.Set(v.app.now().Format(time.TimeOnly))
			}
		}
	}()
}
