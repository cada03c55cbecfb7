package crdt

import (
	"slices"

	"github.com/learn-decentralized-systems/toytlv"
)

// VV is a version vector: the max Seq seen from each known actor.
type VV map[Actor]uint64

func (vv VV) Get(a Actor) uint64 {
	return vv[a]
}

// Put raises the actor's entry, returns whether it was unseen
// (i.e. made any difference).
func (vv VV) Put(a Actor, seq uint64) bool {
	pre, ok := vv[a]
	if ok && pre >= seq {
		return false
	}
	vv[a] = seq
	return true
}

func (vv VV) PutID(id ID) bool {
	return vv.Put(id.Actor, id.Seq)
}

// Covers reports whether vv has seen everything bb has.
func (vv VV) Covers(bb VV) bool {
	for a, seq := range bb {
		if vv[a] < seq {
			return false
		}
	}
	return true
}

func (vv VV) CoversID(id ID) bool {
	return vv[id.Actor] >= id.Seq
}

// MaxSeq is the highest operation counter seen from any actor. New
// operations must number above it so that later writes always win the
// (Seq, Actor) tie-break against anything causally seen.
func (vv VV) MaxSeq() (max uint64) {
	for _, seq := range vv {
		if seq > max {
			max = seq
		}
	}
	return
}

func (vv VV) Clone() VV {
	ret := make(VV, len(vv))
	for a, seq := range vv {
		ret[a] = seq
	}
	return ret
}

func (vv VV) IDs() []ID {
	ids := make([]ID, 0, len(vv))
	for a, seq := range vv {
		ids = append(ids, ID{a, seq})
	}
	slices.SortFunc(ids, func(x, y ID) int {
		return x.Actor.Compare(y.Actor)
	})
	return ids
}

// TLV is a sequence of 'V' records, one per actor, actor order.
func (vv VV) TLV() (ret []byte) {
	for _, id := range vv.IDs() {
		body := append(id.Actor.Bytes(), ZipUint64(id.Seq)...)
		ret = toytlv.Append(ret, 'V', body)
	}
	return
}

// PutTLV consumes a sequence of 'V' records.
func (vv VV) PutTLV(rec []byte) error {
	rest := rec
	for len(rest) > 0 {
		body, r, err := toytlv.TakeWary('V', rest)
		if err != nil {
			return ErrBadVRecord
		}
		if len(body) < 16 {
			return ErrBadVRecord
		}
		vv.Put(ActorFromBytes(body[:16]), UnzipUint64(body[16:]))
		rest = r
	}
	return nil
}
