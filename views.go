package concord

import (
	"sort"
	"strings"

	"github.com/replicated-systems/concord/crdt"
)

// Read views over the materialized tree. Views are cheap handles;
// they observe committed state plus any edits of an open transaction
// (the transaction applies its ops to the live tree as it goes).

// Map is a read handle on a map object.
type Map struct {
	doc *Document
	id  crdt.ID
}

// Root is the document's top-level map.
func (d *Document) Root() Map {
	return Map{d, crdt.ID0}
}

func (m Map) object() (*object, bool) {
	o, ok := m.doc.tree.obj(m.id)
	return o, ok && o.kind == objMap
}

// Get returns the default visible value for the key: of all surviving
// concurrent writes, the one with the highest op id.
func (m Map) Get(key string) (Value, bool) {
	o, ok := m.object()
	if !ok {
		return Value{}, false
	}
	reg := o.keys[key]
	if reg == nil {
		return Value{}, false
	}
	_, v, ok := reg.winner()
	return v, ok
}

// Conflicts returns every surviving concurrent write for the key,
// ascending op id; the last one is the default visible value. The
// engine never silently drops a concurrent write.
func (m Map) Conflicts(key string) []Versioned {
	o, ok := m.object()
	if !ok {
		return nil
	}
	reg := o.keys[key]
	if reg == nil {
		return nil
	}
	return reg.versions()
}

// Keys lists the visible keys, sorted (a stable order, as iteration
// over maps must be).
func (m Map) Keys() []string {
	o, ok := m.object()
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(o.keys))
	for k, reg := range o.keys {
		if len(reg.vals) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m Map) Len() int {
	return len(m.Keys())
}

// Entries iterates the visible (key, value) pairs in key order. The
// iterator is restartable via a fresh Entries call.
func (m Map) Entries() *MapIter {
	return &MapIter{m: m, keys: m.Keys(), i: -1}
}

type MapIter struct {
	m    Map
	keys []string
	i    int
}

func (it *MapIter) Next() bool {
	it.i++
	return it.i < len(it.keys)
}

func (it *MapIter) Key() string {
	return it.keys[it.i]
}

func (it *MapIter) Value() Value {
	v, _ := it.m.Get(it.keys[it.i])
	return v
}

func (m Map) child(key string, want Kind) (crdt.ID, bool) {
	v, ok := m.Get(key)
	if !ok || v.kind != want {
		return crdt.ID0, false
	}
	return v.obj, true
}

func (m Map) Map(key string) (Map, bool) {
	id, ok := m.child(key, KindMap)
	return Map{m.doc, id}, ok
}

func (m Map) List(key string) (List, bool) {
	id, ok := m.child(key, KindList)
	return List{m.doc, id}, ok
}

func (m Map) Text(key string) (Text, bool) {
	id, ok := m.child(key, KindText)
	return Text{m.doc, id}, ok
}

func (m Map) Counter(key string) (Counter, bool) {
	id, ok := m.child(key, KindCounter)
	return Counter{m.doc, id}, ok
}

// List is a read handle on a list object.
type List struct {
	doc *Document
	id  crdt.ID
}

func (l List) object() (*object, bool) {
	o, ok := l.doc.tree.obj(l.id)
	return o, ok && (o.kind == objList || o.kind == objText)
}

func (l List) Len() int {
	o, ok := l.object()
	if !ok {
		return 0
	}
	return o.seq.Len()
}

func (l List) Get(i int) (Value, bool) {
	o, ok := l.object()
	if !ok {
		return Value{}, false
	}
	e := o.seq.At(i)
	if e == nil {
		return Value{}, false
	}
	_, v, ok := o.elems[e.ID].winner()
	return v, ok
}

func (l List) Conflicts(i int) []Versioned {
	o, ok := l.object()
	if !ok {
		return nil
	}
	e := o.seq.At(i)
	if e == nil {
		return nil
	}
	return o.elems[e.ID].versions()
}

// Entries iterates the visible elements in position order.
func (l List) Entries() *ListIter {
	o, ok := l.object()
	if !ok {
		return &ListIter{}
	}
	return &ListIter{o: o, it: o.seq.Iter(), i: -1}
}

type ListIter struct {
	o  *object
	it crdt.SeqIter
	i  int
}

func (it *ListIter) Next() bool {
	if it.o == nil {
		return false
	}
	if !it.it.Next() {
		return false
	}
	it.i++
	return true
}

func (it *ListIter) Index() int {
	return it.i
}

func (it *ListIter) Value() Value {
	_, v, _ := it.o.elems[it.it.Elem().ID].winner()
	return v
}

func (l List) child(i int, want Kind) (crdt.ID, bool) {
	v, ok := l.Get(i)
	if !ok || v.kind != want {
		return crdt.ID0, false
	}
	return v.obj, true
}

func (l List) Map(i int) (Map, bool) {
	id, ok := l.child(i, KindMap)
	return Map{l.doc, id}, ok
}

func (l List) List(i int) (List, bool) {
	id, ok := l.child(i, KindList)
	return List{l.doc, id}, ok
}

func (l List) Text(i int) (Text, bool) {
	id, ok := l.child(i, KindText)
	return Text{l.doc, id}, ok
}

func (l List) Counter(i int) (Counter, bool) {
	id, ok := l.child(i, KindCounter)
	return Counter{l.doc, id}, ok
}

// Text is a read handle on a text object.
type Text struct {
	doc *Document
	id  crdt.ID
}

func (t Text) list() List {
	return List{t.doc, t.id}
}

// Len is the visible length in elements (runes, as written).
func (t Text) Len() int {
	return t.list().Len()
}

func (t Text) String() string {
	var sb strings.Builder
	it := t.list().Entries()
	for it.Next() {
		v := it.Value()
		if v.kind == KindStr {
			sb.WriteString(v.Str())
		}
	}
	return sb.String()
}

// Counter is a read handle on a counter object.
type Counter struct {
	doc *Document
	id  crdt.ID
}

// Value is the running total: the initial value plus every delta in
// causal history.
func (c Counter) Value() int64 {
	o, ok := c.doc.tree.obj(c.id)
	if !ok || o.kind != objCounter {
		return 0
	}
	return o.sum
}

// Dump converts the whole document to native Go values: maps become
// map[string]any, lists []any, text string, counters int64.
func (d *Document) Dump() map[string]any {
	return d.dumpMap(d.Root())
}

func (d *Document) dumpMap(m Map) map[string]any {
	out := make(map[string]any)
	it := m.Entries()
	for it.Next() {
		out[it.Key()] = d.dumpValue(it.Value())
	}
	return out
}

func (d *Document) dumpValue(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool()
	case KindInt:
		return v.Int()
	case KindFloat:
		return v.Float()
	case KindStr:
		return v.Str()
	case KindBytes:
		return v.BytesVal()
	case KindMap:
		return d.dumpMap(Map{d, v.obj})
	case KindList:
		l := List{d, v.obj}
		out := make([]any, 0, l.Len())
		it := l.Entries()
		for it.Next() {
			out = append(out, d.dumpValue(it.Value()))
		}
		return out
	case KindText:
		return Text{d, v.obj}.String()
	case KindCounter:
		return Counter{d, v.obj}.Value()
	}
	return nil
}
