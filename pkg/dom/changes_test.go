package dom

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCollectedTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree()
	changes := tree.CollectChanges()
	want := []Change{{Node: RootID, Type: ChangeAttach, Tag: "body"}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("initial changes mismatch (-want +got):\n%s", diff)
	}
	return tree
}

func TestCollectAttachThenFeaturesThenDetach(t *testing.T) {
	tree := newCollectedTree(t)

	div := NewElement("div")
	require.NoError(t, div.SetAttribute("id", "x"))
	require.NoError(t, div.AppendChild(NewText("hi")))
	require.NoError(t, tree.Root().AppendChild(div))
	assert.Equal(t, NodeID(2), div.ID())
	assert.True(t, tree.HasChanges())

	want := []Change{
		{Node: 2, Type: ChangeAttach, Tag: "div"},
		{Node: 3, Type: ChangeAttach, Tag: TextTag},
		{Node: 2, Type: ChangePut, Feature: FeatureAttributes, Key: "id", Value: "x"},
		{Node: 3, Type: ChangePut, Feature: FeatureText, Key: "text", Value: "hi"},
		{Node: 1, Type: ChangeSplice, Index: 0, Add: []NodeID{2}},
		{Node: 2, Type: ChangeSplice, Index: 0, Add: []NodeID{3}},
	}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, tree.CollectChanges())

	require.NoError(t, tree.Root().RemoveChild(div))
	want = []Change{
		{Node: 1, Type: ChangeSplice, Index: 0, Remove: 1},
		{Node: 3, Type: ChangeDetach},
		{Node: 2, Type: ChangeDetach},
	}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("detach changes mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectIsDiffAgainstSentState(t *testing.T) {
	tree := newCollectedTree(t)
	div := NewElement("div")
	require.NoError(t, tree.Root().AppendChild(div))
	require.NoError(t, div.SetAttribute("title", "a"))
	tree.CollectChanges()

	require.NoError(t, div.SetAttribute("title", "b"))
	require.NoError(t, div.SetAttribute("title", "a"))
	assert.Empty(t, tree.CollectChanges())

	require.NoError(t, div.RemoveAttribute("title"))
	require.NoError(t, div.SetProperty("value", 1))
	want := []Change{
		{Node: 2, Type: ChangeRemove, Feature: FeatureAttributes, Key: "title"},
		{Node: 2, Type: ChangePut, Feature: FeatureProperties, Key: "value", Value: float64(1)},
	}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachAndDetachInSameRoundIsInvisible(t *testing.T) {
	tree := newCollectedTree(t)
	div := NewElement("div")
	require.NoError(t, tree.Root().AppendChild(div))
	require.NoError(t, div.RemoveFromParent())
	assert.Empty(t, tree.CollectChanges())
}

func TestChildMoveSplices(t *testing.T) {
	tree := newCollectedTree(t)
	root := tree.Root()
	a, b, c := NewElement("p"), NewElement("p"), NewElement("p")
	require.NoError(t, root.AppendChild(a, b, c))
	tree.CollectChanges()

	require.NoError(t, root.InsertChild(0, c))
	want := []Change{
		{Node: 1, Type: ChangeSplice, Index: 2, Remove: 1},
		{Node: 1, Type: ChangeSplice, Index: 0, Add: []NodeID{c.ID()}},
	}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("move mismatch (-want +got):\n%s", diff)
	}
}

func TestRemovalsPrecedeInsertsAcrossParents(t *testing.T) {
	tree := newCollectedTree(t)
	from, to := NewElement("div"), NewElement("section")
	moved, stays := NewElement("span"), NewElement("em")
	require.NoError(t, from.AppendChild(moved, stays))
	require.NoError(t, tree.Root().AppendChild(from, to))
	tree.CollectChanges()

	require.NoError(t, to.SetAttribute("title", "t"))
	require.NoError(t, to.AppendChild(moved))
	want := []Change{
		{Node: to.ID(), Type: ChangePut, Feature: FeatureAttributes, Key: "title", Value: "t"},
		{Node: from.ID(), Type: ChangeSplice, Index: 0, Remove: 1},
		{Node: to.ID(), Type: ChangeSplice, Index: 0, Add: []NodeID{moved.ID()}},
	}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("move mismatch (-want +got):\n%s", diff)
	}
}

func TestSpliceCoalescesRuns(t *testing.T) {
	tree := newCollectedTree(t)
	root := tree.Root()
	var items []*Node
	for i := 0; i < 5; i++ {
		items = append(items, NewElement("li"))
	}
	require.NoError(t, root.AppendChild(items...))
	tree.CollectChanges()

	require.NoError(t, root.RemoveChild(items[1], items[2]))
	x, y := NewElement("li"), NewElement("li")
	require.NoError(t, root.AppendChild(x, y))

	changes := tree.CollectChanges()
	want := []Change{
		{Node: x.ID(), Type: ChangeAttach, Tag: "li"},
		{Node: y.ID(), Type: ChangeAttach, Tag: "li"},
		{Node: 1, Type: ChangeSplice, Index: 1, Remove: 2},
		{Node: 1, Type: ChangeSplice, Index: 3, Add: []NodeID{x.ID(), y.ID()}},
	}
	// Detached nodes no longer know their ids; check the detach group by type.
	require.Len(t, changes, 6)
	if diff := cmp.Diff(want, changes[:4]); diff != "" {
		t.Fatalf("splice mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ChangeDetach, changes[4].Type)
	assert.Equal(t, ChangeDetach, changes[5].Type)
}

func TestListenerChangesAreSent(t *testing.T) {
	tree := newCollectedTree(t)
	input := NewElement("input")
	require.NoError(t, tree.Root().AppendChild(input))
	tree.CollectChanges()

	input.AddEventListener("input", func(*DomEvent) {}).Debounce(300 * time.Millisecond)
	input.AddEventListener("input", func(*DomEvent) {}).Debounce(300 * time.Millisecond)
	want := []Change{{
		Node:    input.ID(),
		Type:    ChangePut,
		Feature: FeatureListeners,
		Key:     "input",
		Value: []ListenerSettings{{
			Timeout: 300,
			Phases:  []DebouncePhase{PhaseTrailing},
		}},
	}}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("listener mismatch (-want +got):\n%s", diff)
	}
}

func TestDataFeature(t *testing.T) {
	tree := newCollectedTree(t)
	div := NewElement("div")
	require.NoError(t, tree.Root().AppendChild(div))
	tree.CollectChanges()

	require.NoError(t, div.SetVisible(false))
	want := []Change{{Node: 2, Type: ChangePut, Feature: FeatureData, Key: "visible", Value: false}}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, div.SetVisible(true))
	want = []Change{{Node: 2, Type: ChangeRemove, Feature: FeatureData, Key: "visible"}}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishedMethods(t *testing.T) {
	tree := newCollectedTree(t)
	div := NewElement("div")
	require.NoError(t, tree.Root().AppendChild(div))
	tree.CollectChanges()

	require.NoError(t, div.Publish("save"))
	require.NoError(t, div.Publish("load"))
	require.NoError(t, div.Publish("save"))
	assert.Equal(t, []string{"load", "save"}, div.PublishedMethods())
	want := []Change{{Node: 2, Type: ChangePut, Feature: FeatureData, Key: "published", Value: []any{"load", "save"}}}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	div.Unpublish("load")
	div.Unpublish("save")
	want = []Change{{Node: 2, Type: ChangeRemove, Feature: FeatureData, Key: "published"}}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	assert.ErrorIs(t, NewText("x").Publish("a"), ErrTextNode)
}

func TestMarkAllForResync(t *testing.T) {
	tree := newCollectedTree(t)
	div := NewElement("div")
	require.NoError(t, div.SetAttribute("id", "a"))
	require.NoError(t, tree.Root().AppendChild(div))
	tree.CollectChanges()

	tree.MarkAllForResync()
	want := []Change{
		{Node: 1, Type: ChangeAttach, Tag: "body"},
		{Node: 2, Type: ChangeAttach, Tag: "div"},
		{Node: 1, Type: ChangeSplice, Index: 0, Add: []NodeID{2}},
		{Node: 2, Type: ChangePut, Feature: FeatureAttributes, Key: "id", Value: "a"},
	}
	if diff := cmp.Diff(want, tree.CollectChanges()); diff != "" {
		t.Fatalf("resync mismatch (-want +got):\n%s", diff)
	}
}

func TestBeforeClientResponse(t *testing.T) {
	tree := newCollectedTree(t)
	div := NewElement("div")
	require.NoError(t, tree.Root().AppendChild(div))
	tree.CollectChanges()

	calls := 0
	tree.BeforeClientResponse(div, func() {
		calls++
		require.NoError(t, div.SetAttribute("data-ready", "1"))
	})
	cancel := tree.BeforeClientResponse(div, func() { calls += 10 })
	cancel()

	changes := tree.CollectChanges()
	assert.Equal(t, 1, calls)
	require.Len(t, changes, 1)
	assert.Equal(t, "data-ready", changes[0].Key)

	tree.CollectChanges()
	assert.Equal(t, 1, calls)
}
