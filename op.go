package concord

import (
	"math"

	"github.com/learn-decentralized-systems/toytlv"
	"github.com/pkg/errors"
	"github.com/replicated-systems/concord/crdt"
)

// OpKind is the closed set of operations every edit reduces to.
type OpKind byte

const (
	OpSet OpKind = 1 + iota
	OpDel
	OpInsert
	OpInc
)

// Op is one primitive edit. Its own id is implicit: the i-th op of a
// change has id (change.Actor, change.StartOp+i), so ids are never
// serialized for the op itself, only for what it references.
type Op struct {
	Kind   OpKind
	ID     crdt.ID // assigned on decode/commit, not serialized
	Obj    crdt.ID // object being edited; ID0 is the root map
	Key    string  // map key
	HasKey bool    // "" is a valid map key
	Elem   crdt.ID // targeted list/text element (set/del in sequences)
	Anchor crdt.ID // insert origin; ID0 anchors at the head
	Pred   []crdt.ID
	Val    Value // set/insert payload; OpInc delta as Int
}

// actorTable interns the actors a change's ops reference. Index 0 is
// the change's own actor; foreign actors follow in first-reference
// order and are listed in the change envelope.
type actorTable struct {
	base crdt.Actor
	list []crdt.Actor
	idx  map[crdt.Actor]uint64
}

func newActorTable(base crdt.Actor) *actorTable {
	return &actorTable{base: base, idx: make(map[crdt.Actor]uint64)}
}

func (t *actorTable) ref(id crdt.ID) []byte {
	if id.IsZero() {
		return nil
	}
	var i uint64
	if id.Actor != t.base {
		var ok bool
		i, ok = t.idx[id.Actor]
		if !ok {
			t.list = append(t.list, id.Actor)
			i = uint64(len(t.list))
			t.idx[id.Actor] = i
		}
	}
	return crdt.ZipUint64Pair(i, id.Seq)
}

func (t *actorTable) unref(b []byte) (crdt.ID, error) {
	if len(b) == 0 {
		return crdt.ID0, nil
	}
	i, seq := crdt.UnzipUint64Pair(b)
	if seq == 0 {
		return crdt.ID0, errors.Wrap(ErrCorruptHistory, "zero op counter in reference")
	}
	if i == 0 {
		return crdt.ID{Actor: t.base, Seq: seq}, nil
	}
	if i > uint64(len(t.list)) {
		return crdt.ID0, errors.Wrap(ErrCorruptHistory, "actor reference outside the table")
	}
	return crdt.ID{Actor: t.list[i-1], Seq: seq}, nil
}

// value wire form: kind byte + payload
func (v Value) tlv() []byte {
	switch v.kind {
	case KindNull, KindMap, KindList, KindText:
		return []byte{byte(v.kind)}
	case KindBool:
		b := byte(0)
		if v.num != 0 {
			b = 1
		}
		return []byte{byte(v.kind), b}
	case KindInt:
		return append([]byte{byte(v.kind)}, crdt.ZipInt64(int64(v.num))...)
	case KindFloat:
		return append([]byte{byte(v.kind)}, crdt.ZipFloat64(math.Float64frombits(v.num))...)
	case KindStr:
		return append([]byte{byte(v.kind)}, v.str...)
	case KindBytes:
		return append([]byte{byte(v.kind)}, v.raw...)
	case KindCounter:
		return append([]byte{byte(v.kind)}, crdt.ZipInt64(int64(v.num))...)
	}
	return nil
}

func valueFromTLV(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, errors.Wrap(ErrCorruptHistory, "empty value record")
	}
	kind, body := Kind(b[0]), b[1:]
	switch kind {
	case KindNull, KindMap, KindList, KindText:
		return Value{kind: kind}, nil
	case KindBool:
		if len(body) != 1 || body[0] > 1 {
			return Value{}, errors.Wrap(ErrCorruptHistory, "bad bool value")
		}
		return Value{kind: kind, num: uint64(body[0])}, nil
	case KindInt, KindCounter:
		return Value{kind: kind, num: uint64(crdt.UnzipInt64(body))}, nil
	case KindFloat:
		return Float(crdt.UnzipFloat64(body)), nil
	case KindStr:
		return Str(string(body)), nil
	case KindBytes:
		raw := make([]byte, len(body))
		copy(raw, body)
		return Bytes(raw), nil
	}
	return Value{}, errors.Wrapf(ErrCorruptHistory, "unknown value kind 0x%x", b[0])
}

func (op *Op) tlv(tbl *actorTable) []byte {
	body := toytlv.Record('F', []byte{byte(op.Kind)})
	if !op.Obj.IsZero() {
		body = toytlv.Append(body, 'J', tbl.ref(op.Obj))
	}
	if op.HasKey {
		body = toytlv.Append(body, 'K', []byte(op.Key))
	}
	if !op.Elem.IsZero() {
		body = toytlv.Append(body, 'E', tbl.ref(op.Elem))
	}
	if op.Kind == OpInsert {
		body = toytlv.Append(body, 'R', tbl.ref(op.Anchor))
	}
	for _, p := range op.Pred {
		body = toytlv.Append(body, 'P', tbl.ref(p))
	}
	if op.Kind == OpSet || op.Kind == OpInsert || op.Kind == OpInc {
		body = toytlv.Append(body, 'V', op.Val.tlv())
	}
	return toytlv.Record('O', body)
}

func opFromTLV(body []byte, tbl *actorTable) (op Op, err error) {
	sawKind, sawAnchor, sawVal := false, false, false
	rest := body
	for len(rest) > 0 {
		var lit byte
		var rec []byte
		lit, rec, rest, err = toytlv.TakeAnyWary(rest)
		if err != nil {
			return op, errors.Wrap(ErrCorruptHistory, err.Error())
		}
		switch lit {
		case 'F':
			if len(rec) != 1 {
				return op, errors.Wrap(ErrCorruptHistory, "bad op kind record")
			}
			op.Kind = OpKind(rec[0])
			sawKind = true
		case 'J':
			if op.Obj, err = tbl.unref(rec); err != nil {
				return
			}
		case 'K':
			op.Key = string(rec)
			op.HasKey = true
		case 'E':
			if op.Elem, err = tbl.unref(rec); err != nil {
				return
			}
		case 'R':
			if op.Anchor, err = tbl.unref(rec); err != nil {
				return
			}
			sawAnchor = true
		case 'P':
			var p crdt.ID
			if p, err = tbl.unref(rec); err != nil {
				return
			}
			op.Pred = append(op.Pred, p)
		case 'V':
			if op.Val, err = valueFromTLV(rec); err != nil {
				return
			}
			sawVal = true
		default:
			return op, errors.Wrapf(ErrCorruptHistory, "unexpected op record '%c'", lit)
		}
	}
	if !sawKind {
		return op, errors.Wrap(ErrCorruptHistory, "op without a kind")
	}
	switch op.Kind {
	case OpSet, OpInsert:
		if !sawVal {
			return op, errors.Wrap(ErrCorruptHistory, "set/insert without a value")
		}
	case OpInc:
		if !sawVal || op.Val.kind != KindInt {
			return op, errors.Wrap(ErrCorruptHistory, "increment without an integer delta")
		}
	case OpDel:
	default:
		return op, errors.Wrapf(ErrCorruptHistory, "unknown op kind 0x%x", byte(op.Kind))
	}
	if op.Kind == OpInsert && !sawAnchor {
		return op, errors.Wrap(ErrCorruptHistory, "insert without an anchor")
	}
	return op, nil
}
