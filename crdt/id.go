package crdt

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// Actor is the 16-byte identity of one replica's writing session.
// Generated randomly at init/fork time; never shared between replicas.
type Actor [16]byte

var Actor0 Actor

func NewActor() Actor {
	return Actor(uuid.New())
}

func ActorFromBytes(b []byte) (a Actor) {
	copy(a[:], b)
	return
}

func (a Actor) Bytes() []byte {
	return a[:]
}

func (a Actor) Compare(b Actor) int {
	return bytes.Compare(a[:], b[:])
}

func (a Actor) String() string {
	return hex.EncodeToString(a[:])
}

func ActorFromString(s string) (a Actor, err error) {
	var b []byte
	b, err = hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return Actor0, ErrBadActor
	}
	copy(a[:], b)
	return
}

/*
	ID identifies one operation, and transitively every object and
	sequence element an operation creates.

Seq is a Lamport-style operation counter, starting at 1: each new
operation numbers above every Seq its replica has causally seen, so
per-actor sequences are ascending but may have gaps. A change of N
operations consumes N consecutive Seq values. The (Seq, Actor) total
order is used for concurrent-write tie-breaking and sequence sibling
ordering only; causality is tracked by change dependency hashes, not
by ID comparison.
*/
type ID struct {
	Actor Actor
	Seq   uint64
}

// ID0 is the zero ID: the root map object and the sequence head sentinel.
var ID0 ID

func (id ID) IsZero() bool {
	return id == ID0
}

func (id ID) Less(other ID) bool {
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return bytes.Compare(id.Actor[:], other.Actor[:]) < 0
}

func (id ID) Compare(other ID) int {
	if id.Seq != other.Seq {
		if id.Seq < other.Seq {
			return -1
		}
		return 1
	}
	return bytes.Compare(id.Actor[:], other.Actor[:])
}

func (id ID) Plus(inc uint64) ID {
	return ID{id.Actor, id.Seq + inc}
}

func (id ID) String() string {
	if id.IsZero() {
		return "root"
	}
	var buf [48]byte
	b := buf[:0]
	b = append(b, id.Actor.String()[:8]...)
	b = append(b, '-')
	b = strconv.AppendUint(b, id.Seq, 16)
	return string(b)
}
