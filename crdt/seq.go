package crdt

import "slices"

// Seq is the sequence CRDT behind lists and text: a causal tree in
// the replicated-growable-array family. Every element is anchored
// after its origin element (the head sentinel for position zero).
// Concurrent inserts after the same origin are ordered by descending
// element ID, so all replicas converge on one document order no
// matter the delivery order. Deletion only tombstones: anchors must
// stay resolvable forever.
//
// Seq owns ordering and visibility; element payloads (values,
// conflict sets) belong to the caller, keyed by element ID.
type Elem struct {
	ID     ID
	Origin ID
	kids   []*Elem // causal children, descending ID
	node   *posNode
}

type Seq struct {
	head Elem
	byID map[ID]*Elem
	tree *posTree
}

func NewSeq() *Seq {
	s := &Seq{
		byID: make(map[ID]*Elem),
		tree: newPosTree(),
	}
	s.byID[ID0] = &s.head
	return s
}

// Insert places a new element with the given id after its origin.
// Causal delivery guarantees the origin is already present; a missing
// origin means the history is broken.
func (s *Seq) Insert(id, origin ID, live bool) (*Elem, error) {
	if _, ok := s.byID[id]; ok {
		return nil, ErrDupElement
	}
	o, ok := s.byID[origin]
	if !ok {
		return nil, ErrNoAnchor
	}
	e := &Elem{ID: id, Origin: origin}
	slot, _ := slices.BinarySearchFunc(o.kids, e, func(a, b *Elem) int {
		return b.ID.Compare(a.ID) // descending
	})
	var prev *Elem
	if slot == 0 {
		prev = o
	} else {
		prev = rightmost(o.kids[slot-1])
	}
	o.kids = slices.Insert(o.kids, slot, e)

	idx := 0
	if prev != &s.head {
		idx = s.tree.Rank(prev.node) + 1
	}
	e.node = &posNode{elem: e, live: live}
	s.tree.InsertAt(idx, e.node)
	s.byID[id] = e
	return e, nil
}

// rightmost is the last element, in document order, of e's causal
// subtree. On the hot path (appending after a childless element)
// this is e itself.
func rightmost(e *Elem) *Elem {
	for len(e.kids) > 0 {
		e = e.kids[len(e.kids)-1]
	}
	return e
}

func (s *Seq) Get(id ID) (*Elem, bool) {
	if id == ID0 {
		return nil, false
	}
	e, ok := s.byID[id]
	return e, ok
}

// SetLive flips an element's tombstone state.
func (s *Seq) SetLive(id ID, live bool) bool {
	e, ok := s.byID[id]
	if !ok || e == &s.head {
		return false
	}
	s.tree.SetLive(e.node, live)
	return true
}

func (s *Seq) IsLive(id ID) bool {
	e, ok := s.byID[id]
	return ok && e != &s.head && e.node.live
}

// Len is the visible length.
func (s *Seq) Len() int {
	return s.tree.VisLen()
}

// TotalLen counts tombstones too.
func (s *Seq) TotalLen() int {
	return s.tree.Len()
}

// At returns the idx-th visible element, nil when out of range.
func (s *Seq) At(idx int) *Elem {
	n := s.tree.AtVis(idx)
	if n == nil {
		return nil
	}
	return n.elem
}

// IDAt returns the idx-th visible element's ID, ID0 when out of range.
func (s *Seq) IDAt(idx int) ID {
	if e := s.At(idx); e != nil {
		return e.ID
	}
	return ID0
}

// Iter walks the visible elements in document order.
func (s *Seq) Iter() SeqIter {
	return SeqIter{tree: s.tree}
}

type SeqIter struct {
	tree *posTree
	n    *posNode
	done bool
}

func (it *SeqIter) Next() bool {
	if it.done {
		return false
	}
	if it.n == nil {
		it.n = it.tree.root
		for it.n != nil && it.n.left != nil {
			it.n = it.n.left
		}
	} else {
		it.n = it.n.next()
	}
	for it.n != nil && !it.n.live {
		it.n = it.n.next()
	}
	if it.n == nil {
		it.done = true
		return false
	}
	return true
}

func (it *SeqIter) Elem() *Elem {
	return it.n.elem
}
