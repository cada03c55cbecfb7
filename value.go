package concord

import (
	"fmt"
	"math"

	"github.com/replicated-systems/concord/crdt"
)

// Kind tags the closed value union. Every consumer switches
// exhaustively over it; there is no open type hierarchy.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindBytes
	KindMap
	KindList
	KindText
	KindCounter
)

func (k Kind) IsObject() bool {
	return k >= KindMap
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindBytes:
		return "bytes"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindText:
		return "text"
	case KindCounter:
		return "counter"
	}
	return "?"
}

// Value is one cell of the document tree: a primitive scalar, or a
// reference to a nested object. Object-kind values built by Null/
// NewMap/NewList/NewText/NewCounter are forward references until a
// transaction materializes them; the created object's id is the id
// of the operation that set the value.
type Value struct {
	kind Kind
	num  uint64  // bool / int / float bits / counter initial
	str  string  // str payload, text initial
	raw  []byte  // bytes payload
	obj  crdt.ID // object id once materialized
	nat  any     // native payload of a proto map/list, expanded at edit time
}

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func Int(i int64) Value     { return Value{kind: KindInt, num: uint64(i)} }
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }
func Str(s string) Value    { return Value{kind: KindStr, str: s} }
func Bytes(b []byte) Value  { return Value{kind: KindBytes, raw: b} }

// NewMap is a forward reference to a fresh empty map object.
func NewMap() Value { return Value{kind: KindMap} }

// NewList is a forward reference to a fresh empty list object.
func NewList() Value { return Value{kind: KindList} }

// NewText is a forward reference to a fresh text object with the
// given initial content.
func NewText(s string) Value { return Value{kind: KindText, str: s} }

// NewCounter is a forward reference to a fresh counter with the
// given initial value.
func NewCounter(n int64) Value { return Value{kind: KindCounter, num: uint64(n)} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Bool() bool      { return v.num != 0 }
func (v Value) Int() int64      { return int64(v.num) }
func (v Value) Float() float64  { return math.Float64frombits(v.num) }
func (v Value) Str() string     { return v.str }
func (v Value) BytesVal() []byte { return v.raw }

// Obj is the nested object's id; ID0 for primitives and for forward
// references that were not committed yet.
func (v Value) Obj() crdt.ID { return v.obj }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.Int())
	case KindFloat:
		return fmt.Sprintf("%g", v.Float())
	case KindStr:
		return fmt.Sprintf("%q", v.str)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.raw)
	default:
		return v.kind.String() + "@" + v.obj.String()
	}
}

// FromNative converts a Go value into a Value, accepting the kinds a
// host binding would feed in: nil, bool, integers, floats, string,
// []byte, Value, and nested map[string]any / []any which become
// forward references expanded into nested objects by the transaction.
func FromNative(val any) (Value, error) {
	switch t := val.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return Str(t), nil
	case []byte:
		return Bytes(t), nil
	case map[string]any:
		v := NewMap()
		v.nat = t
		return v, nil
	case []any:
		v := NewList()
		v.nat = t
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: unsupported native type %T", ErrInvalidTarget, val)
}

// Versioned is one member of a conflict set: a concurrently written
// value together with the id of the write that produced it.
type Versioned struct {
	ID    crdt.ID
	Value Value
}
