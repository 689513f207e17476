package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/decub/edgemesh/internal/crdt"
)

type strElement string

func (s strElement) ElementID() string { return string(s) }

func TestORSet(t *testing.T) {
	t.Run("AddIsVisible", func(t *testing.T) {
		s := crdt.NewORSet[strElement]()
		s.Add("flood-1", "node1")
		assert.True(t, s.Contains("flood-1"))
		assert.Equal(t, []strElement{"flood-1"}, s.Elements())
	})

	t.Run("RemoveOnlyObservedTags", func(t *testing.T) {
		s := crdt.NewORSet[strElement]()
		s.Add("flood-1", "node1")
		s.Remove("flood-1")
		assert.False(t, s.Contains("flood-1"))
	})

	t.Run("MergeUnionsAddsAndRemoves", func(t *testing.T) {
		a := crdt.NewORSet[strElement]()
		b := crdt.NewORSet[strElement]()
		a.Add("flood-1", "node1")
		b.Add("flood-2", "node2")

		assert.NoError(t, a.Merge(b))
		assert.True(t, a.Contains("flood-1"))
		assert.True(t, a.Contains("flood-2"))
	})

	t.Run("ConcurrentAddWinsOverRemove", func(t *testing.T) {
		// node1 adds and removes flood-1 locally; node2 concurrently adds
		// flood-1 under its own tag without ever observing node1's remove.
		// The OR-Set property: the element must still be present after
		// merging both sides, because node2's add-tag was never removed.
		a := crdt.NewORSet[strElement]()
		a.Add("flood-1", "node1")
		a.Remove("flood-1")
		assert.False(t, a.Contains("flood-1"))

		b := crdt.NewORSet[strElement]()
		b.Add("flood-1", "node2")

		assert.NoError(t, a.Merge(b))
		assert.True(t, a.Contains("flood-1"))
	})

	t.Run("MergeIdempotent", func(t *testing.T) {
		a := crdt.NewORSet[strElement]()
		b := crdt.NewORSet[strElement]()
		a.Add("flood-1", "node1")
		b.Add("flood-2", "node2")

		assert.NoError(t, a.Merge(b))
		before := a.Elements()
		assert.NoError(t, a.Merge(b))
		assert.Equal(t, before, a.Elements())
	})

	t.Run("MergeReportsNewlyObservedElements", func(t *testing.T) {
		a := crdt.NewORSet[strElement]()
		b := crdt.NewORSet[strElement]()
		a.Add("flood-1", "node1")
		b.Add("flood-1", "node1")
		b.Add("flood-2", "node2")

		newIDs, err := a.MergeReport(b)
		assert.NoError(t, err)
		assert.Equal(t, []string{"flood-2"}, newIDs)
	})

	t.Run("RemoveTagAppliesBeforeObservingAdd", func(t *testing.T) {
		a := crdt.NewORSet[strElement]()
		a.RemoveTag(crdt.Tag{ElementID: "flood-1", NodeID: "node1"})

		b := crdt.NewORSet[strElement]()
		b.Add("flood-1", "node1")

		assert.NoError(t, a.Merge(b))
		assert.False(t, a.Contains("flood-1"))
	})

	t.Run("IncompatibleMerge", func(t *testing.T) {
		s := crdt.NewORSet[strElement]()
		counter := crdt.NewGCounter("node1")
		err := s.Merge(counter)
		assert.ErrorIs(t, err, crdt.ErrIncompatibleTypes)
	})
}
