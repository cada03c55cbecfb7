package concord

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeForkConverges(t *testing.T) {
	a := Init()
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("shared", map[string]any{"v": 1})
	})
	b := a.Fork()
	require.NotEqual(t, a.Actor(), b.Actor())

	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("fromA", true)
	})
	mustCommit(t, b, func(tx *Transaction) error {
		return tx.Root().Set("fromB", true)
	})

	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))
	assert.Equal(t, a.Dump(), b.Dump())
	assert.Equal(t, a.Heads(), b.Heads())
	assert.Equal(t, a.VV(), b.VV())
}

func TestMergeCommutes(t *testing.T) {
	base := Init()
	mustCommit(t, base, func(tx *Transaction) error {
		return tx.Root().Set("l", []any{1, 2, 3})
	})
	a, b := base.Fork(), base.Fork()
	mustCommit(t, a, func(tx *Transaction) error {
		l, err := tx.Root().List("l")
		if err != nil {
			return err
		}
		return l.Insert(0, "a")
	})
	mustCommit(t, b, func(tx *Transaction) error {
		l, err := tx.Root().List("l")
		if err != nil {
			return err
		}
		return l.Append("b")
	})

	ab := a.Fork()
	require.NoError(t, ab.Merge(b))
	ba := b.Fork()
	require.NoError(t, ba.Merge(a))
	assert.Equal(t, ab.Dump(), ba.Dump())
	assert.Equal(t,
		[]any{"a", int64(1), int64(2), int64(3), "b"},
		ab.Dump()["l"])
}

func TestMergeIdempotent(t *testing.T) {
	a := Init()
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("k", 1)
	})
	b := a.Fork()
	mustCommit(t, b, func(tx *Transaction) error {
		return tx.Root().Set("k", 2)
	})
	require.NoError(t, a.Merge(b))
	n := a.NumChanges()
	dump := a.Dump()
	require.NoError(t, a.Merge(b))
	require.NoError(t, a.Merge(a.Fork()))
	assert.Equal(t, n, a.NumChanges())
	assert.Equal(t, dump, a.Dump())
}

func TestMergeKeepsConflicts(t *testing.T) {
	base := Init()
	mustCommit(t, base, func(tx *Transaction) error {
		return tx.Root().Set("color", "white")
	})
	a, b := base.Fork(), base.Fork()
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("color", "red")
	})
	mustCommit(t, b, func(tx *Transaction) error {
		return tx.Root().Set("color", "blue")
	})
	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))

	ca := a.Root().Conflicts("color")
	require.Len(t, ca, 2, "both concurrent writes survive")
	got := []string{ca[0].Value.Str(), ca[1].Value.Str()}
	assert.ElementsMatch(t, []string{"red", "blue"}, got)
	assert.Equal(t, ca, b.Root().Conflicts("color"))

	// the default is the same on every replica
	va, _ := a.Root().Get("color")
	vb, _ := b.Root().Get("color")
	assert.Equal(t, va.Str(), vb.Str())

	// a later write on either side settles the conflict everywhere
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("color", "green")
	})
	require.NoError(t, b.Merge(a))
	assert.Len(t, b.Root().Conflicts("color"), 1)
	vb, _ = b.Root().Get("color")
	assert.Equal(t, "green", vb.Str())
}

func TestMergeCounters(t *testing.T) {
	base := Init()
	mustCommit(t, base, func(tx *Transaction) error {
		return tx.Root().Set("hits", NewCounter(0))
	})
	a, b := base.Fork(), base.Fork()
	mustCommit(t, a, func(tx *Transaction) error {
		ctr, err := tx.Root().Counter("hits")
		if err != nil {
			return err
		}
		return ctr.Increment(10)
	})
	mustCommit(t, b, func(tx *Transaction) error {
		ctr, err := tx.Root().Counter("hits")
		if err != nil {
			return err
		}
		return ctr.Increment(-4)
	})
	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))
	ctr, _ := a.Root().Counter("hits")
	assert.Equal(t, int64(6), ctr.Value())
	ctr, _ = b.Root().Counter("hits")
	assert.Equal(t, int64(6), ctr.Value())
}

func TestMergeConcurrentTextEdits(t *testing.T) {
	base := Init()
	mustCommit(t, base, func(tx *Transaction) error {
		return tx.Root().Set("t", NewText("helo"))
	})
	a, b := base.Fork(), base.Fork()
	mustCommit(t, a, func(tx *Transaction) error {
		txt, err := tx.Root().Text("t")
		if err != nil {
			return err
		}
		return txt.Splice(2, 2, "l") // hello
	})
	mustCommit(t, b, func(tx *Transaction) error {
		txt, err := tx.Root().Text("t")
		if err != nil {
			return err
		}
		return txt.Splice(4, 4, "!") // helo!
	})
	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))
	ta, _ := a.Root().Text("t")
	tb, _ := b.Root().Text("t")
	assert.Equal(t, "hello!", ta.String())
	assert.Equal(t, ta.String(), tb.String())
}

func TestMergeRefusesDivergentActor(t *testing.T) {
	a := Init()
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("k", 1)
	})
	// a replica resuming the same actor id but with different history
	b := Init(WithActor(a.Actor()))
	mustCommit(t, b, func(tx *Transaction) error {
		return tx.Root().Set("k", 2)
	})
	dump := a.Dump()
	err := a.Merge(b)
	assert.ErrorIs(t, err, ErrIncompatibleActor)
	assert.Equal(t, dump, a.Dump(), "a failed merge mutates nothing")
}

func TestMergeRefusedDuringTransaction(t *testing.T) {
	a := Init()
	b := a.Fork()
	tx, err := a.Begin()
	require.NoError(t, err)
	assert.ErrorIs(t, a.Merge(b), ErrTransactionOpen)
	assert.ErrorIs(t, b.Merge(a), ErrTransactionOpen)
	tx.Abort()
	assert.NoError(t, a.Merge(b))
}

func TestApplyChangesOutOfOrder(t *testing.T) {
	src := Init()
	c1 := mustCommit(t, src, func(tx *Transaction) error {
		return tx.Root().Set("a", 1)
	})
	c2 := mustCommit(t, src, func(tx *Transaction) error {
		return tx.Root().Set("b", 2)
	})

	dst := Init()
	require.NoError(t, dst.ApplyChanges(c2, c1))
	assert.Equal(t, 2, dst.NumChanges())
	assert.Empty(t, dst.MissingDeps())
	assert.Equal(t, src.Dump(), dst.Dump())
}

func TestApplyChangesBuffersMissingDeps(t *testing.T) {
	src := Init()
	c1 := mustCommit(t, src, func(tx *Transaction) error {
		return tx.Root().Set("a", 1)
	})
	c2 := mustCommit(t, src, func(tx *Transaction) error {
		return tx.Root().Set("b", 2)
	})

	dst := Init()
	require.NoError(t, dst.ApplyChanges(c2))
	assert.Equal(t, 0, dst.NumChanges())
	assert.Equal(t, []Hash{c1.Hash()}, dst.MissingDeps())
	assert.Empty(t, dst.Dump())

	require.NoError(t, dst.ApplyChanges(c1))
	assert.Equal(t, 2, dst.NumChanges())
	assert.Empty(t, dst.MissingDeps())
	assert.Equal(t, src.Dump(), dst.Dump())
}

func TestApplyChangesStrictDeps(t *testing.T) {
	src := Init()
	mustCommit(t, src, func(tx *Transaction) error {
		return tx.Root().Set("a", 1)
	})
	c2 := mustCommit(t, src, func(tx *Transaction) error {
		return tx.Root().Set("b", 2)
	})

	dst := Init(WithStrictDeps())
	err := dst.ApplyChanges(c2)
	assert.ErrorIs(t, err, ErrUnresolvedChanges)
	assert.Equal(t, 0, dst.NumChanges())
	assert.Empty(t, dst.MissingDeps(), "a strict failure buffers nothing")
}

func TestApplyChangesDuplicate(t *testing.T) {
	src := Init()
	c1 := mustCommit(t, src, func(tx *Transaction) error {
		return tx.Root().Set("a", 1)
	})
	dst := Init()
	require.NoError(t, dst.ApplyChanges(c1, c1))
	require.NoError(t, dst.ApplyChanges(c1))
	assert.Equal(t, 1, dst.NumChanges())
}

func TestChangesSince(t *testing.T) {
	a := Init()
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("a", 1)
	})
	b := a.Fork()
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("b", 2)
	})
	mustCommit(t, a, func(tx *Transaction) error {
		return tx.Root().Set("c", 3)
	})

	delta := a.Changes(b.VV())
	require.Len(t, delta, 2)
	require.NoError(t, b.ApplyChanges(delta...))
	assert.Equal(t, a.Dump(), b.Dump())

	assert.Len(t, a.Changes(nil), 3, "a nil vector means everything")
	assert.Empty(t, a.Changes(a.VV()))
}

func TestMergeManyReplicas(t *testing.T) {
	base := Init()
	mustCommit(t, base, func(tx *Transaction) error {
		return tx.Root().Set("l", []any{})
	})
	docs := make([]*Document, 5)
	for i := range docs {
		docs[i] = base.Fork()
		n := i
		mustCommit(t, docs[i], func(tx *Transaction) error {
			l, err := tx.Root().List("l")
			if err != nil {
				return err
			}
			return l.Append(fmt.Sprintf("r%d", n))
		})
	}
	// gossip every history to every replica, in different orders
	for i, d := range docs {
		for j := range docs {
			k := (i + j) % len(docs)
			require.NoError(t, d.Merge(docs[k]))
		}
	}
	want := docs[0].Dump()
	for _, d := range docs[1:] {
		assert.Equal(t, want, d.Dump())
	}
	ids := want["l"].([]any)
	assert.Len(t, ids, 5)
}
