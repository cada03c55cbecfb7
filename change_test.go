package concord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/replicated-systems/concord/crdt"
)

func testActor(b byte) crdt.Actor {
	var a crdt.Actor
	a[0] = b
	return a
}

func TestChangeRoundTrip(t *testing.T) {
	a, b := testActor(1), testActor(2)
	c := &Change{
		Actor:   a,
		StartOp: 7,
		Deps:    []Hash{{0xff, 1}, {0x01, 2}},
		Message: "hello",
		Time:    1234567890,
		Ops: []Op{
			{Kind: OpSet, Key: "title", HasKey: true, Val: Str("doc")},
			{Kind: OpSet, Key: "list", HasKey: true, Val: NewList()},
			{Kind: OpInsert, Obj: crdt.ID{Actor: a, Seq: 8}, Anchor: crdt.ID0, Val: Int(42)},
			{Kind: OpDel, Obj: crdt.ID{Actor: a, Seq: 8}, Elem: crdt.ID{Actor: b, Seq: 3},
				Pred: []crdt.ID{{Actor: b, Seq: 3}}},
			{Kind: OpInc, Obj: crdt.ID{Actor: b, Seq: 1}, Val: Int(-5)},
		},
	}
	c.seal()

	d, err := DecodeChange(c.Bytes())
	require.NoError(t, err)
	assert.Equal(t, c.Hash(), d.Hash())
	assert.Equal(t, c.Actor, d.Actor)
	assert.Equal(t, uint64(7), d.StartOp)
	assert.Equal(t, "hello", d.Message)
	assert.Equal(t, int64(1234567890), d.Time)
	require.Len(t, d.Ops, 5)
	assert.Equal(t, c.Deps, d.Deps, "deps come back sorted")
	assert.Equal(t, crdt.ID{Actor: a, Seq: 7}, d.Ops[0].ID)
	assert.Equal(t, "title", d.Ops[0].Key)
	assert.Equal(t, Str("doc"), d.Ops[0].Val)
	assert.Equal(t, crdt.ID{Actor: b, Seq: 3}, d.Ops[3].Elem)
	assert.Equal(t, int64(-5), d.Ops[4].Val.Int())
	assert.Equal(t, crdt.ID{Actor: a, Seq: 11}, c.LastOp())
}

func TestChangeSealSortsDeps(t *testing.T) {
	c := &Change{
		Actor:   testActor(1),
		StartOp: 1,
		Deps:    []Hash{{9}, {3}, {5}},
		Ops:     []Op{{Kind: OpSet, Key: "k", HasKey: true, Val: Null()}},
	}
	c.seal()
	assert.Equal(t, []Hash{{3}, {5}, {9}}, c.Deps)
}

func TestDecodeChangeRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("not a change"),
		{0x00, 0x01, 0x02},
	}
	for _, bad := range cases {
		_, err := DecodeChange(bad)
		assert.ErrorIs(t, err, ErrCorruptHistory)
	}

	// bit-flip inside a sealed record
	c := &Change{Actor: testActor(1), StartOp: 1,
		Ops: []Op{{Kind: OpSet, Key: "k", HasKey: true, Val: Null()}}}
	c.seal()
	tampered := append([]byte{}, c.Bytes()...)
	tampered[len(tampered)-1] ^= 0x40
	d, err := DecodeChange(tampered)
	if err == nil {
		// the flip landed in a value payload; the hash still differs
		assert.NotEqual(t, c.Hash(), d.Hash())
	}
}

func TestValueWire(t *testing.T) {
	vals := []Value{
		Null(), Bool(true), Bool(false), Int(0), Int(-123456), Float(3.25),
		Str("héllo"), Bytes([]byte{1, 2, 3}), NewMap(), NewList(), NewCounter(99),
	}
	for _, v := range vals {
		got, err := valueFromTLV(v.tlv())
		require.NoError(t, err)
		assert.Equal(t, v.Kind(), got.Kind())
		assert.Equal(t, v.num, got.num)
		assert.Equal(t, v.str, got.str)
		assert.Equal(t, v.raw, got.raw)
	}
	_, err := valueFromTLV(nil)
	assert.ErrorIs(t, err, ErrCorruptHistory)
	_, err = valueFromTLV([]byte{0x7f})
	assert.ErrorIs(t, err, ErrCorruptHistory)
}
