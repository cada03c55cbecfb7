package concord

import (
	"slices"
	"sort"

	"github.com/pkg/errors"
	"github.com/replicated-systems/concord/crdt"
)

/*
	Transaction buffers one batch of local edits. Every edit is
	validated against the live tree and applied to it immediately, so
	later edits in the same transaction observe earlier ones. Commit
	packages the buffered ops into a single Change; Abort discards
	them and restores the exact prior tree.

One transaction may be open per Document at a time; merging or
applying foreign changes is refused while one is open.
*/
type Transaction struct {
	doc  *Document
	base uint64 // seq of the first op
	ops  []Op
	msg  string
	time int64
	done bool
	err  error // first failed edit; poisons the commit
}

func (d *Document) Begin() (*Transaction, error) {
	if d.tx != nil {
		return nil, ErrTransactionOpen
	}
	// Counters are Lamport-style: the next op numbers above every seq
	// this replica has causally seen, from any actor, so a new insert
	// out-orders all known siblings at the same anchor.
	d.tx = &Transaction{
		doc:  d,
		base: d.vv.MaxSeq() + 1,
	}
	return d.tx, nil
}

// Transact runs fn inside a transaction with guaranteed
// commit-or-abort on every exit path, panics included.
func (d *Document) Transact(fn func(tx *Transaction) error) (*Change, error) {
	tx, err := d.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if !tx.done {
			tx.Abort()
		}
	}()
	if err := fn(tx); err != nil {
		tx.Abort()
		return nil, err
	}
	return tx.Commit()
}

// WithMessage attaches a commit message to the resulting change.
func (tx *Transaction) WithMessage(msg string) *Transaction {
	tx.msg = msg
	return tx
}

// WithTime stamps the resulting change with a wall-clock time. Zero
// (the default) keeps changes deterministic.
func (tx *Transaction) WithTime(t int64) *Transaction {
	tx.time = t
	return tx
}

// Commit seals the buffered ops into a Change, appends it to the log
// and returns it. An empty transaction commits to nil. After a
// failed edit the commit refuses and aborts instead.
func (tx *Transaction) Commit() (*Change, error) {
	if tx.done {
		return nil, ErrClosedTransaction
	}
	if tx.err != nil {
		tx.Abort()
		return nil, tx.err
	}
	tx.done = true
	tx.doc.tx = nil
	if len(tx.ops) == 0 {
		return nil, nil
	}
	c := &Change{
		Actor:   tx.doc.actor,
		StartOp: tx.base,
		Deps:    tx.doc.Heads(),
		Message: tx.msg,
		Time:    tx.time,
		Ops:     tx.ops,
	}
	c.seal()
	tx.doc.admitCommitted(c)
	return c, nil
}

// Abort discards every buffered op; the document reads exactly as it
// did before Begin.
func (tx *Transaction) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	tx.doc.tx = nil
	if len(tx.ops) > 0 {
		tx.doc.rebuildTree()
	}
}

func (tx *Transaction) fail(err error) error {
	if tx.err == nil {
		tx.err = err
	}
	return err
}

func (tx *Transaction) emit(op Op) (crdt.ID, error) {
	if tx.done {
		return crdt.ID0, ErrClosedTransaction
	}
	op.ID = crdt.ID{Actor: tx.doc.actor, Seq: tx.base + uint64(len(tx.ops))}
	if err := tx.doc.tree.applyOp(op); err != nil {
		return crdt.ID0, tx.fail(err)
	}
	tx.ops = append(tx.ops, op)
	return op.ID, nil
}

// bare strips a value to its wire payload: forward references lose
// their native content, which turns into child ops instead.
func bare(v Value) Value {
	if v.kind.IsObject() {
		v.nat = nil
		v.str = ""
	}
	return v
}

func (tx *Transaction) object(id crdt.ID, kinds ...objKind) (*object, error) {
	o, ok := tx.doc.tree.obj(id)
	if !ok || !slices.Contains(kinds, o.kind) {
		return nil, errors.Wrapf(ErrInvalidTarget, "no %v object at %s", kinds, id)
	}
	return o, nil
}

// fill expands a forward reference after its create op: text initial
// content, and recursive map[string]any / []any payloads.
func (tx *Transaction) fill(id crdt.ID, v Value) error {
	switch v.kind {
	case KindText:
		if v.str != "" {
			return TextW{tx, id}.Splice(0, 0, v.str)
		}
	case KindMap:
		if nat, ok := v.nat.(map[string]any); ok {
			keys := make([]string, 0, len(nat))
			for k := range nat {
				keys = append(keys, k)
			}
			sort.Strings(keys) // deterministic op order
			for _, k := range keys {
				if err := (MapW{tx, id}).Set(k, nat[k]); err != nil {
					return err
				}
			}
		}
	case KindList:
		if nat, ok := v.nat.([]any); ok {
			return ListW{tx, id}.Splice(0, 0, nat...)
		}
	}
	return nil
}

// Root is the writable handle on the document's root map.
func (tx *Transaction) Root() MapW {
	return MapW{tx, crdt.ID0}
}

// MapW is a writable map handle, valid for the transaction's life.
type MapW struct {
	tx *Transaction
	id crdt.ID
}

func (m MapW) Set(key string, val any) error {
	o, err := m.tx.object(m.id, objMap)
	if err != nil {
		return m.tx.fail(err)
	}
	v, err := FromNative(val)
	if err != nil {
		return m.tx.fail(err)
	}
	var preds []crdt.ID
	if reg := o.keys[key]; reg != nil {
		preds = reg.ids()
	}
	id, err := m.tx.emit(Op{
		Kind: OpSet, Obj: m.id, Key: key, HasKey: true,
		Pred: preds, Val: bare(v),
	})
	if err != nil {
		return err
	}
	return m.tx.fill(id, v)
}

func (m MapW) Delete(key string) error {
	o, err := m.tx.object(m.id, objMap)
	if err != nil {
		return m.tx.fail(err)
	}
	reg := o.keys[key]
	if reg == nil || len(reg.vals) == 0 {
		return m.tx.fail(errors.Wrapf(ErrInvalidTarget, "no key %q", key))
	}
	_, err = m.tx.emit(Op{
		Kind: OpDel, Obj: m.id, Key: key, HasKey: true, Pred: reg.ids(),
	})
	return err
}

// child navigates to a nested object of the wanted kind.
func (m MapW) child(key string, want Kind) (crdt.ID, error) {
	o, err := m.tx.object(m.id, objMap)
	if err != nil {
		return crdt.ID0, m.tx.fail(err)
	}
	reg := o.keys[key]
	if reg != nil {
		if _, v, ok := reg.winner(); ok && v.kind == want {
			return v.obj, nil
		}
	}
	return crdt.ID0, m.tx.fail(errors.Wrapf(ErrInvalidTarget, "no %s at key %q", want, key))
}

func (m MapW) Map(key string) (MapW, error) {
	id, err := m.child(key, KindMap)
	return MapW{m.tx, id}, err
}

func (m MapW) List(key string) (ListW, error) {
	id, err := m.child(key, KindList)
	return ListW{m.tx, id}, err
}

func (m MapW) Text(key string) (TextW, error) {
	id, err := m.child(key, KindText)
	return TextW{m.tx, id}, err
}

func (m MapW) Counter(key string) (CounterW, error) {
	id, err := m.child(key, KindCounter)
	return CounterW{m.tx, id}, err
}

// ListW is a writable list handle.
type ListW struct {
	tx *Transaction
	id crdt.ID
}

func (l ListW) seqObject() (*object, error) {
	return l.tx.object(l.id, objList, objText)
}

func (l ListW) Len() (int, error) {
	o, err := l.seqObject()
	if err != nil {
		return 0, err
	}
	return o.seq.Len(), nil
}

// Insert places a value at index i, shifting the rest; i may equal
// the current length to append.
func (l ListW) Insert(i int, val any) error {
	o, err := l.seqObject()
	if err != nil {
		return l.tx.fail(err)
	}
	if i < 0 || i > o.seq.Len() {
		return l.tx.fail(errors.Wrapf(ErrInvalidTarget, "insert at %d of %d", i, o.seq.Len()))
	}
	_, err = l.insertRun(o, i, []any{val})
	return err
}

func (l ListW) Append(val any) error {
	o, err := l.seqObject()
	if err != nil {
		return l.tx.fail(err)
	}
	_, err = l.insertRun(o, o.seq.Len(), []any{val})
	return err
}

// insertRun inserts vals before visible index i: the first value
// anchors after the element at i-1 (the head for i == 0), each
// following value chains after the previous one.
func (l ListW) insertRun(o *object, i int, vals []any) (last crdt.ID, err error) {
	anchor := crdt.ID0
	if i > 0 {
		anchor = o.seq.IDAt(i - 1)
	}
	for _, val := range vals {
		var v Value
		if v, err = FromNative(val); err != nil {
			return crdt.ID0, l.tx.fail(err)
		}
		var id crdt.ID
		id, err = l.tx.emit(Op{
			Kind: OpInsert, Obj: l.id, Anchor: anchor, Val: bare(v),
		})
		if err != nil {
			return
		}
		if err = l.tx.fill(id, v); err != nil {
			return
		}
		anchor, last = id, id
	}
	return
}

// Set overwrites the element at index i; concurrent overwrites of
// the same element survive as a conflict set.
func (l ListW) Set(i int, val any) error {
	o, err := l.seqObject()
	if err != nil {
		return l.tx.fail(err)
	}
	e := o.seq.At(i)
	if e == nil {
		return l.tx.fail(errors.Wrapf(ErrInvalidTarget, "no element at %d", i))
	}
	v, err := FromNative(val)
	if err != nil {
		return l.tx.fail(err)
	}
	reg := o.elems[e.ID]
	id, err := l.tx.emit(Op{
		Kind: OpSet, Obj: l.id, Elem: e.ID, Pred: reg.ids(), Val: bare(v),
	})
	if err != nil {
		return err
	}
	return l.tx.fill(id, v)
}

// Delete tombstones the element at index i.
func (l ListW) Delete(i int) error {
	o, err := l.seqObject()
	if err != nil {
		return l.tx.fail(err)
	}
	e := o.seq.At(i)
	if e == nil {
		return l.tx.fail(errors.Wrapf(ErrInvalidTarget, "no element at %d", i))
	}
	return l.deleteElem(o, e.ID)
}

func (l ListW) deleteElem(o *object, eid crdt.ID) error {
	reg := o.elems[eid]
	_, err := l.tx.emit(Op{
		Kind: OpDel, Obj: l.id, Elem: eid, Pred: reg.ids(),
	})
	return err
}

/*
	Splice replaces the half-open index range [start, end) with vals:
	every live element in the range is tombstoned, then the new values
	are inserted after the element preceding start. Ranges are clamped
	to the live length, so deleting past the end is a no-op for the
	out-of-range part, like common array-slice semantics.
*/
func (l ListW) Splice(start, end int, vals ...any) error {
	o, err := l.seqObject()
	if err != nil {
		return l.tx.fail(err)
	}
	if start < 0 {
		return l.tx.fail(errors.Wrapf(ErrInvalidTarget, "negative splice start %d", start))
	}
	n := o.seq.Len()
	start = min(start, n)
	end = min(max(end, start), n)

	doomed := make([]crdt.ID, 0, end-start)
	for i := start; i < end; i++ {
		doomed = append(doomed, o.seq.IDAt(i))
	}
	for _, eid := range doomed {
		if err := l.deleteElem(o, eid); err != nil {
			return err
		}
	}
	_, err = l.insertRun(o, start, vals)
	return err
}

/*
	SpliceRange is the strided/negative form: it enumerates the index
	positions of [start, stop) at the given step exactly like a Python
	range (negative bounds count from the end), then applies one
	deterministic rule regardless of step direction: sort the
	positions ascending, tombstone them all, then insert vals after
	the element preceding the lowest position.
*/
func (l ListW) SpliceRange(start, stop, step int, vals ...any) error {
	o, err := l.seqObject()
	if err != nil {
		return l.tx.fail(err)
	}
	if step == 0 {
		return l.tx.fail(errors.Wrap(ErrInvalidTarget, "zero splice step"))
	}
	n := o.seq.Len()
	norm := func(i int) int {
		if i < 0 {
			i += n
		}
		return min(max(i, 0), n)
	}
	start, stop = norm(start), norm(stop)

	var targets []int
	if step > 0 {
		for i := start; i < stop; i += step {
			targets = append(targets, i)
		}
	} else {
		for i := start; i > stop; i += step {
			if i < n {
				targets = append(targets, i)
			}
		}
		slices.Sort(targets)
	}

	at := start
	if len(targets) > 0 {
		at = targets[0]
	}
	doomed := make([]crdt.ID, 0, len(targets))
	for _, i := range targets {
		doomed = append(doomed, o.seq.IDAt(i))
	}
	for _, eid := range doomed {
		if err := l.deleteElem(o, eid); err != nil {
			return err
		}
	}
	_, err = l.insertRun(o, min(at, o.seq.Len()), vals)
	return err
}

func (l ListW) child(i int, want Kind) (crdt.ID, error) {
	o, err := l.seqObject()
	if err != nil {
		return crdt.ID0, l.tx.fail(err)
	}
	e := o.seq.At(i)
	if e != nil {
		if _, v, ok := o.elems[e.ID].winner(); ok && v.kind == want {
			return v.obj, nil
		}
	}
	return crdt.ID0, l.tx.fail(errors.Wrapf(ErrInvalidTarget, "no %s at index %d", want, i))
}

func (l ListW) Map(i int) (MapW, error) {
	id, err := l.child(i, KindMap)
	return MapW{l.tx, id}, err
}

func (l ListW) List(i int) (ListW, error) {
	id, err := l.child(i, KindList)
	return ListW{l.tx, id}, err
}

func (l ListW) Text(i int) (TextW, error) {
	id, err := l.child(i, KindText)
	return TextW{l.tx, id}, err
}

func (l ListW) Counter(i int) (CounterW, error) {
	id, err := l.child(i, KindCounter)
	return CounterW{l.tx, id}, err
}

// TextW is a writable text handle: the list machinery specialized to
// one rune per element.
type TextW struct {
	tx *Transaction
	id crdt.ID
}

func (t TextW) list() ListW {
	return ListW{t.tx, t.id}
}

// Splice replaces the rune range [start, end) with s.
func (t TextW) Splice(start, end int, s string) error {
	vals := make([]any, 0, len(s))
	for _, r := range s {
		vals = append(vals, string(r))
	}
	return t.list().Splice(start, end, vals...)
}

func (t TextW) Len() (int, error) {
	return t.list().Len()
}

// CounterW is a writable counter handle.
type CounterW struct {
	tx *Transaction
	id crdt.ID
}

// Increment applies a signed delta; local until committed.
func (c CounterW) Increment(delta int64) error {
	if _, err := c.tx.object(c.id, objCounter); err != nil {
		return c.tx.fail(err)
	}
	_, err := c.tx.emit(Op{Kind: OpInc, Obj: c.id, Val: Int(delta)})
	return err
}
