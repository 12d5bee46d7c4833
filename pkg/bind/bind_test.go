package bind

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/mirror/pkg/dom"
	"github.com/vango-dev/mirror/pkg/signal"
)

func attachedDiv(t *testing.T) (*dom.Tree, *dom.Node) {
	t.Helper()
	tree := dom.NewTree()
	div := dom.NewElement("div")
	require.NoError(t, tree.Root().AppendChild(div))
	tree.CollectChanges()
	return tree, div
}

func TestEffectFollowsAttachState(t *testing.T) {
	tree := dom.NewTree()
	div := dom.NewElement("div")
	count := signal.New(0)
	var seen []int
	reg := Effect(div, func() { seen = append(seen, count.Get()) })

	count.Set(1)
	assert.Empty(t, seen, "detached node must not run the effect")

	require.NoError(t, tree.Root().AppendChild(div))
	assert.Equal(t, []int{1}, seen)

	count.Set(2)
	assert.Equal(t, []int{1, 2}, seen)

	require.NoError(t, div.RemoveFromParent())
	count.Set(3)
	assert.Equal(t, []int{1, 2}, seen)

	require.NoError(t, tree.Root().AppendChild(div))
	assert.Equal(t, []int{1, 2, 3}, seen)

	reg.Remove()
	reg.Remove()
	count.Set(4)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestEffectUsesTreeScheduler(t *testing.T) {
	tree, div := attachedDiv(t)
	var queued []func()
	tree.SetScheduler(func(fn func()) { queued = append(queued, fn) })

	count := signal.New(0)
	var seen []int
	Effect(div, func() { seen = append(seen, count.Get()) })
	require.Equal(t, []int{0}, seen)

	count.Set(1)
	assert.Equal(t, []int{0}, seen)
	require.Len(t, queued, 1)
	queued[0]()
	assert.Equal(t, []int{0, 1}, seen)
}

func TestTextBinding(t *testing.T) {
	tree, div := attachedDiv(t)
	name := signal.New("World")
	greeting := signal.NewComputed(func() string { return "Hello " + name.Get() })

	reg, err := Text(div, greeting)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", div.Text())

	name.Set("Go")
	assert.Equal(t, "Hello Go", div.Text())
	assert.ErrorIs(t, div.SetText("manual"), dom.ErrBindingActive)
	assert.ErrorIs(t, div.AppendChild(dom.NewText("x")), dom.ErrBindingActive)

	_, err = Text(div, name)
	assert.ErrorIs(t, err, dom.ErrBindingActive)

	reg.Remove()
	require.NoError(t, div.SetText("manual"))
	name.Set("ignored")
	assert.Equal(t, "manual", div.Text())
	assert.NotEmpty(t, tree.CollectChanges())
}

func TestTextBindingOnTextNode(t *testing.T) {
	tree := dom.NewTree()
	text := dom.NewText("")
	require.NoError(t, tree.Root().AppendChild(text))
	value := signal.New("a")

	_, err := Text(text, value)
	require.NoError(t, err)
	assert.Equal(t, "a", text.Text())
	value.Set("b")
	assert.Equal(t, "b", text.Text())
	assert.ErrorIs(t, text.SetText("c"), dom.ErrBindingActive)
}

func TestAttributeBindings(t *testing.T) {
	_, div := attachedDiv(t)
	title := signal.New("first")
	hidden := signal.New(false)

	_, err := Attribute(div, "title", title)
	require.NoError(t, err)
	_, err = BoolAttribute(div, "aria-hidden", hidden)
	require.NoError(t, err)

	v, _ := div.Attribute("title")
	assert.Equal(t, "first", v)
	assert.False(t, div.HasAttribute("aria-hidden"))

	title.Set("second")
	hidden.Set(true)
	v, _ = div.Attribute("title")
	assert.Equal(t, "second", v)
	assert.True(t, div.HasAttribute("aria-hidden"))

	assert.ErrorIs(t, div.SetAttribute("title", "x"), dom.ErrBindingActive)
	require.NoError(t, div.SetAttribute("id", "free"))
}

func TestPropertyBinding(t *testing.T) {
	_, div := attachedDiv(t)
	items := signal.New([]string{"a"})

	_, err := Property(div, "items", items)
	require.NoError(t, err)
	v, _ := div.Property("items")
	assert.Equal(t, []any{"a"}, v)

	items.Set([]string{"a", "b"})
	v, _ = div.Property("items")
	assert.Equal(t, []any{"a", "b"}, v)
	assert.ErrorIs(t, div.SetProperty("items", nil), dom.ErrBindingActive)
}

func TestVisibleEnabledAndClassName(t *testing.T) {
	_, div := attachedDiv(t)
	visible := signal.New(true)
	enabled := signal.New(true)
	active := signal.New(false)

	_, err := Visible(div, visible)
	require.NoError(t, err)
	_, err = Enabled(div, enabled)
	require.NoError(t, err)
	_, err = ClassName(div, "active", active)
	require.NoError(t, err)

	visible.Set(false)
	enabled.Set(false)
	active.Set(true)
	assert.False(t, div.IsVisible())
	assert.False(t, div.IsEnabled())
	assert.True(t, div.ClassList().Contains("active"))

	assert.ErrorIs(t, div.SetVisible(true), dom.ErrBindingActive)
	assert.ErrorIs(t, div.SetEnabled(true), dom.ErrBindingActive)
	assert.ErrorIs(t, div.ClassList().Remove("active"), dom.ErrBindingActive)
	require.NoError(t, div.ClassList().Add("other"))
}

func TestValueBindingIsTwoWay(t *testing.T) {
	tree := dom.NewTree()
	input := dom.NewElement("input")
	require.NoError(t, tree.Root().AppendChild(input))
	value := signal.New("initial")

	_, err := Value(input, "value", "change", value)
	require.NoError(t, err)
	assert.Equal(t, "initial", input.PropertyString("value", ""))
	tree.CollectChanges()

	require.NoError(t, tree.ApplyPropertySync(input, "value", "typed"))
	assert.Equal(t, "typed", value.Peek())
	assert.Equal(t, "typed", input.PropertyString("value", ""))
	assert.Empty(t, tree.CollectChanges(), "client value must not be echoed")

	value.Set("server")
	assert.Equal(t, "server", input.PropertyString("value", ""))
	assert.NotEmpty(t, tree.CollectChanges())
}

func TestValueBindingRemoveStopsSync(t *testing.T) {
	tree := dom.NewTree()
	input := dom.NewElement("input")
	require.NoError(t, tree.Root().AppendChild(input))
	value := signal.New("")

	reg, err := Value(input, "value", "change", value)
	require.NoError(t, err)
	reg.Remove()

	assert.ErrorIs(t, tree.ApplyPropertySync(input, "value", "x"), dom.ErrPropertyNotSynced)
	value.Set("y")
	assert.Equal(t, "", input.PropertyString("value", ""))
}

func TestChildrenBinding(t *testing.T) {
	_, ul := attachedDiv(t)
	list := signal.NewList("a", "b")
	created := 0
	factory := func(entry *signal.Signal[string]) *dom.Node {
		created++
		li := dom.NewElement("li")
		_, err := Text(li, entry)
		require.NoError(t, err)
		return li
	}

	_, err := Children(ul, list, factory)
	require.NoError(t, err)
	assert.Equal(t, "ab", ul.TextRecursively())
	assert.Equal(t, 2, created)

	first := ul.Child(0)
	c := list.Append("c")
	assert.Equal(t, "abc", ul.TextRecursively())
	assert.Equal(t, 3, created)
	assert.Same(t, first, ul.Child(0), "existing entries keep their element")

	list.Move(c, 0)
	assert.Equal(t, "cab", ul.TextRecursively())
	assert.Equal(t, 3, created)

	list.PeekEntries()[1].Set("A")
	assert.Equal(t, "cAb", ul.TextRecursively())

	list.Remove(c)
	assert.Equal(t, "Ab", ul.TextRecursively())
	assert.Equal(t, 2, ul.ChildCount())

	assert.ErrorIs(t, ul.AppendChild(dom.NewElement("li")), dom.ErrBindingActive)
}

func TestChildrenRequiresEmptyParent(t *testing.T) {
	_, div := attachedDiv(t)
	require.NoError(t, div.AppendChild(dom.NewElement("span")))
	_, err := Children(div, signal.NewList[int](), func(*signal.Signal[int]) *dom.Node {
		return dom.NewElement("span")
	})
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestChildrenFactoryReadsAreUntracked(t *testing.T) {
	_, div := attachedDiv(t)
	list := signal.NewList(1)
	outside := signal.New("x")
	created := 0
	_, err := Children(div, list, func(*signal.Signal[int]) *dom.Node {
		created++
		_ = outside.Get()
		return dom.NewElement("span")
	})
	require.NoError(t, err)

	outside.Set("y")
	assert.Equal(t, 1, created)
}

func TestChildrenFactoryFailureIsLogged(t *testing.T) {
	tree, ul := attachedDiv(t)
	var logs bytes.Buffer
	tree.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	list := signal.NewList("a")
	_, err := Children(ul, list, func(entry *signal.Signal[string]) *dom.Node {
		if entry.Peek() == "bad" {
			return nil
		}
		return dom.NewElement("li")
	})
	require.NoError(t, err)
	assert.Empty(t, logs.String())

	list.Append("bad")
	assert.Equal(t, 1, ul.ChildCount(), "children are left as they were")
	assert.Contains(t, logs.String(), "binding update failed")
	assert.Contains(t, logs.String(), "child factory returned nil")
}

func TestClassNameIsGuardedAgainstAttributeWrites(t *testing.T) {
	_, div := attachedDiv(t)
	_, err := ClassName(div, "active", signal.New(true))
	require.NoError(t, err)

	assert.ErrorIs(t, div.SetAttribute("class", "other"), dom.ErrBindingActive)
	assert.ErrorIs(t, div.RemoveAttribute("class"), dom.ErrBindingActive)
	assert.True(t, div.ClassList().Contains("active"))
}
