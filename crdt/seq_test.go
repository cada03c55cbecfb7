package crdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs(s *Seq) (ids []ID) {
	it := s.Iter()
	for it.Next() {
		ids = append(ids, it.Elem().ID)
	}
	return
}

func TestSeqAppendChain(t *testing.T) {
	s := NewSeq()
	a := actor(1)
	prev := ID0
	for i := uint64(1); i <= 5; i++ {
		_, err := s.Insert(ID{a, i}, prev, true)
		require.NoError(t, err)
		prev = ID{a, i}
	}
	assert.Equal(t, 5, s.Len())
	for i := 0; i < 5; i++ {
		assert.Equal(t, ID{a, uint64(i + 1)}, s.IDAt(i))
	}
}

func TestSeqConcurrentSiblings(t *testing.T) {
	a, b := actor(1), actor(2)

	// two replicas insert after the same anchor; descending id wins
	// the first slot, whatever the delivery order
	build := func(order []ID) []ID {
		s := NewSeq()
		_, err := s.Insert(ID{a, 1}, ID0, true)
		require.NoError(t, err)
		for _, id := range order {
			_, err := s.Insert(id, ID{a, 1}, true)
			require.NoError(t, err)
		}
		return seqIDs(s)
	}
	x, y := ID{a, 2}, ID{b, 2}
	first := build([]ID{x, y})
	second := build([]ID{y, x})
	assert.Equal(t, first, second)
	assert.Equal(t, []ID{{a, 1}, y, x}, first, "higher id sits closer to the anchor")
}

func TestSeqNoInterleaving(t *testing.T) {
	a, b := actor(1), actor(2)
	s := NewSeq()
	// replica A types "ab" at the head, replica B types "cd" at the
	// head concurrently; runs must not interleave
	_, err := s.Insert(ID{a, 1}, ID0, true)
	require.NoError(t, err)
	_, err = s.Insert(ID{a, 2}, ID{a, 1}, true)
	require.NoError(t, err)
	_, err = s.Insert(ID{b, 1}, ID0, true)
	require.NoError(t, err)
	_, err = s.Insert(ID{b, 2}, ID{b, 1}, true)
	require.NoError(t, err)

	assert.Equal(t, []ID{{b, 1}, {b, 2}, {a, 1}, {a, 2}}, seqIDs(s))
}

func TestSeqTombstones(t *testing.T) {
	s := NewSeq()
	a := actor(1)
	prev := ID0
	for i := uint64(1); i <= 3; i++ {
		_, err := s.Insert(ID{a, i}, prev, true)
		require.NoError(t, err)
		prev = ID{a, i}
	}
	assert.True(t, s.SetLive(ID{a, 2}, false))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 3, s.TotalLen())
	assert.Equal(t, ID{a, 3}, s.IDAt(1))
	assert.False(t, s.IsLive(ID{a, 2}))

	// a tombstoned element still anchors inserts
	_, err := s.Insert(ID{a, 4}, ID{a, 2}, true)
	require.NoError(t, err)
	assert.Equal(t, []ID{{a, 1}, {a, 4}, {a, 3}}, seqIDs(s))

	// deletes revive if the element gets a value back
	assert.True(t, s.SetLive(ID{a, 2}, true))
	assert.Equal(t, []ID{{a, 1}, {a, 2}, {a, 4}, {a, 3}}, seqIDs(s))
}

func TestSeqErrors(t *testing.T) {
	s := NewSeq()
	a := actor(1)
	_, err := s.Insert(ID{a, 1}, ID{a, 99}, true)
	assert.ErrorIs(t, err, ErrNoAnchor)

	_, err = s.Insert(ID{a, 1}, ID0, true)
	require.NoError(t, err)
	_, err = s.Insert(ID{a, 1}, ID0, true)
	assert.ErrorIs(t, err, ErrDupElement)

	assert.False(t, s.SetLive(ID{a, 42}, false))
	assert.Nil(t, s.At(5))
	assert.Equal(t, ID0, s.IDAt(-1))
}

func TestSeqConvergesUnderPermutation(t *testing.T) {
	const n = 1000
	ids := make([]ID, n)
	for i := range ids {
		ids[i] = ID{actor(byte(i % 7)), uint64(i + 1)}
	}

	build := func(perm []int) []ID {
		s := NewSeq()
		for _, i := range perm {
			_, err := s.Insert(ids[i], ID0, true)
			require.NoError(t, err)
		}
		return seqIDs(s)
	}

	perm := rand.New(rand.NewSource(1)).Perm(n)
	forward := make([]int, n)
	for i := range forward {
		forward[i] = i
	}
	assert.Equal(t, build(forward), build(perm))
}
