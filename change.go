package concord

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/learn-decentralized-systems/toytlv"
	"github.com/pkg/errors"
	"github.com/replicated-systems/concord/crdt"
)

// Hash content-addresses a change: sha256 over its canonical wire
// form. Dependencies reference changes by hash, never by position.
type Hash [sha256.Size]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:8])
}

func (h Hash) Compare(other Hash) int {
	for i := range h {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Change is one committed transaction: an ordered batch of operations
// from a single actor plus its causal metadata. Immutable once sealed;
// the i-th op has id (Actor, StartOp+i).
type Change struct {
	Actor   crdt.Actor
	StartOp uint64
	Deps    []Hash // sorted
	Message string
	Time    int64
	Ops     []Op

	hash Hash
	raw  []byte
}

func (c *Change) Hash() Hash {
	return c.hash
}

// Bytes is the canonical wire form, the exact bytes the hash covers.
func (c *Change) Bytes() []byte {
	return c.raw
}

// LastOp is the id of the change's final operation.
func (c *Change) LastOp() crdt.ID {
	return crdt.ID{Actor: c.Actor, Seq: c.StartOp + uint64(len(c.Ops)) - 1}
}

// seal assigns op ids, sorts deps, and freezes the wire form.
func (c *Change) seal() {
	slices.SortFunc(c.Deps, Hash.Compare)
	for i := range c.Ops {
		c.Ops[i].ID = crdt.ID{Actor: c.Actor, Seq: c.StartOp + uint64(i)}
	}
	tbl := newActorTable(c.Actor)
	var ops []byte
	for i := range c.Ops {
		ops = append(ops, c.Ops[i].tlv(tbl)...)
	}
	body := toytlv.Record('A', c.Actor.Bytes())
	body = toytlv.Append(body, 'S', crdt.ZipUint64(c.StartOp))
	if len(tbl.list) > 0 {
		var actors []byte
		for _, a := range tbl.list {
			actors = append(actors, a.Bytes()...)
		}
		body = toytlv.Append(body, 'T', actors)
	}
	for _, dep := range c.Deps {
		body = toytlv.Append(body, 'D', dep[:])
	}
	if c.Message != "" {
		body = toytlv.Append(body, 'M', []byte(c.Message))
	}
	if c.Time != 0 {
		body = toytlv.Append(body, 'W', crdt.ZipInt64(c.Time))
	}
	body = append(body, ops...)
	c.raw = toytlv.Record('C', body)
	c.hash = sha256.Sum256(c.raw)
}

// EncodeChange returns the canonical wire form of a sealed change.
func EncodeChange(c *Change) []byte {
	return c.Bytes()
}

// DecodeChange parses and validates one change record. The input is
// untrusted; anything malformed comes back as ErrCorruptHistory.
func DecodeChange(data []byte) (*Change, error) {
	body, rest, err := toytlv.TakeWary('C', data)
	if err != nil || len(rest) != 0 {
		return nil, errors.Wrap(ErrCorruptHistory, "not a change record")
	}
	c := &Change{}
	c.raw = make([]byte, len(data))
	copy(c.raw, data)
	c.hash = sha256.Sum256(c.raw)

	var tbl *actorTable
	sawActor, sawStart := false, false
	var prevDep Hash
	rest = body
	for len(rest) > 0 {
		var lit byte
		var rec []byte
		lit, rec, rest, err = toytlv.TakeAnyWary(rest)
		if err != nil {
			return nil, errors.Wrap(ErrCorruptHistory, err.Error())
		}
		switch lit {
		case 'A':
			if len(rec) != 16 || sawActor {
				return nil, errors.Wrap(ErrCorruptHistory, "bad actor record")
			}
			c.Actor = crdt.ActorFromBytes(rec)
			sawActor = true
		case 'S':
			c.StartOp = crdt.UnzipUint64(rec)
			sawStart = true
		case 'T':
			if !sawActor || len(rec)%16 != 0 {
				return nil, errors.Wrap(ErrCorruptHistory, "bad actor table")
			}
			tbl = newActorTable(c.Actor)
			for i := 0; i < len(rec); i += 16 {
				tbl.list = append(tbl.list, crdt.ActorFromBytes(rec[i:i+16]))
			}
		case 'D':
			if len(rec) != sha256.Size {
				return nil, errors.Wrap(ErrCorruptHistory, "bad dependency hash")
			}
			dep := Hash(rec)
			if len(c.Deps) > 0 && dep.Compare(prevDep) <= 0 {
				return nil, errors.Wrap(ErrCorruptHistory, "dependencies out of order")
			}
			c.Deps = append(c.Deps, dep)
			prevDep = dep
		case 'M':
			c.Message = string(rec)
		case 'W':
			c.Time = crdt.UnzipInt64(rec)
		case 'O':
			if !sawActor || !sawStart {
				return nil, errors.Wrap(ErrCorruptHistory, "op before change header")
			}
			if tbl == nil {
				tbl = newActorTable(c.Actor)
			}
			op, oerr := opFromTLV(rec, tbl)
			if oerr != nil {
				return nil, oerr
			}
			op.ID = crdt.ID{Actor: c.Actor, Seq: c.StartOp + uint64(len(c.Ops))}
			c.Ops = append(c.Ops, op)
		default:
			return nil, errors.Wrapf(ErrCorruptHistory, "unexpected change record '%c'", lit)
		}
	}
	if !sawActor || !sawStart || len(c.Ops) == 0 || c.StartOp == 0 {
		return nil, errors.Wrap(ErrCorruptHistory, "incomplete change")
	}
	return c, nil
}
