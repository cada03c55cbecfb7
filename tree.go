package concord

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/replicated-systems/concord/crdt"
)

type objKind byte

const (
	objMap objKind = iota
	objList
	objText
	objCounter
)

func objKindOf(k Kind) objKind {
	switch k {
	case KindList:
		return objList
	case KindText:
		return objText
	case KindCounter:
		return objCounter
	}
	return objMap
}

func (k objKind) valueKind() Kind {
	switch k {
	case objList:
		return KindList
	case objText:
		return KindText
	case objCounter:
		return KindCounter
	}
	return KindMap
}

// register is a multi-value register: every concurrent write is kept
// until some causally-later write supersedes it. A set lists the
// writes it overwrites in Pred; a delete only supersedes. The default
// read is the surviving write with the highest id.
type register struct {
	vals map[crdt.ID]Value
}

func newRegister() *register {
	return &register{vals: make(map[crdt.ID]Value)}
}

func (r *register) put(id crdt.ID, v Value) {
	r.vals[id] = v
}

func (r *register) remove(preds []crdt.ID) {
	for _, p := range preds {
		delete(r.vals, p)
	}
}

func (r *register) ids() []crdt.ID {
	ids := make([]crdt.ID, 0, len(r.vals))
	for id := range r.vals {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, crdt.ID.Compare)
	return ids
}

func (r *register) winner() (id crdt.ID, v Value, ok bool) {
	for wid, wv := range r.vals {
		if !ok || id.Less(wid) {
			id, v, ok = wid, wv, true
		}
	}
	return
}

func (r *register) versions() []Versioned {
	vs := make([]Versioned, 0, len(r.vals))
	for _, id := range r.ids() {
		vs = append(vs, Versioned{ID: id, Value: r.vals[id]})
	}
	return vs
}

// object is a node of the materialized tree: a closed variant over
// the four replicated kinds.
type object struct {
	kind objKind
	id   crdt.ID

	keys  map[string]*register // objMap
	seq   *crdt.Seq            // objList, objText
	elems map[crdt.ID]*register
	sum   int64 // objCounter
}

func newObject(kind objKind, id crdt.ID) *object {
	o := &object{kind: kind, id: id}
	switch kind {
	case objMap:
		o.keys = make(map[string]*register)
	case objList, objText:
		o.seq = crdt.NewSeq()
		o.elems = make(map[crdt.ID]*register)
	}
	return o
}

// tree is the materialized view over the operation log. It is a pure
// function of the admitted change set: concurrent operations commute
// under applyOp, so any dependency-respecting replay converges.
type tree struct {
	objs map[crdt.ID]*object
}

func newTree() *tree {
	t := &tree{objs: make(map[crdt.ID]*object)}
	t.objs[crdt.ID0] = newObject(objMap, crdt.ID0)
	return t
}

func (t *tree) obj(id crdt.ID) (*object, bool) {
	o, ok := t.objs[id]
	return o, ok
}

// materialize creates the nested object an object-kind value refers
// to; the object's id is the id of the op carrying the value.
func (t *tree) materialize(opID crdt.ID, v Value) Value {
	if !v.kind.IsObject() {
		return v
	}
	o := newObject(objKindOf(v.kind), opID)
	if v.kind == KindCounter {
		o.sum = int64(v.num)
	}
	t.objs[opID] = o
	v.obj = opID
	v.nat = nil
	v.str = ""
	return v
}

func (t *tree) applyOp(op Op) error {
	o, ok := t.obj(op.Obj)
	if !ok {
		return errors.Wrapf(ErrCorruptHistory, "op %s targets unknown object %s", op.ID, op.Obj)
	}
	switch o.kind {
	case objMap:
		return t.applyMapOp(o, op)
	case objList, objText:
		return t.applySeqOp(o, op)
	case objCounter:
		if op.Kind != OpInc {
			return errors.Wrapf(ErrCorruptHistory, "op %s: %d on a counter", op.ID, op.Kind)
		}
		o.sum += op.Val.Int()
		return nil
	}
	return errors.Wrapf(ErrCorruptHistory, "op %s targets broken object", op.ID)
}

func (t *tree) applyMapOp(o *object, op Op) error {
	if !op.HasKey {
		return errors.Wrapf(ErrCorruptHistory, "op %s: map op without a key", op.ID)
	}
	reg := o.keys[op.Key]
	if reg == nil {
		reg = newRegister()
		o.keys[op.Key] = reg
	}
	switch op.Kind {
	case OpSet:
		reg.remove(op.Pred)
		reg.put(op.ID, t.materialize(op.ID, op.Val))
	case OpDel:
		reg.remove(op.Pred)
	default:
		return errors.Wrapf(ErrCorruptHistory, "op %s: %d on a map", op.ID, op.Kind)
	}
	return nil
}

func (t *tree) applySeqOp(o *object, op Op) error {
	switch op.Kind {
	case OpInsert:
		if _, err := o.seq.Insert(op.ID, op.Anchor, true); err != nil {
			return errors.Wrapf(ErrCorruptHistory, "op %s: %v", op.ID, err)
		}
		reg := newRegister()
		reg.put(op.ID, t.materialize(op.ID, op.Val))
		o.elems[op.ID] = reg
	case OpSet, OpDel:
		reg := o.elems[op.Elem]
		if reg == nil {
			return errors.Wrapf(ErrCorruptHistory, "op %s targets unknown element %s", op.ID, op.Elem)
		}
		reg.remove(op.Pred)
		if op.Kind == OpSet {
			reg.put(op.ID, t.materialize(op.ID, op.Val))
		}
		o.seq.SetLive(op.Elem, len(reg.vals) > 0)
	default:
		return errors.Wrapf(ErrCorruptHistory, "op %s: %d on a sequence", op.ID, op.Kind)
	}
	return nil
}
