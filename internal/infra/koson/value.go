// Package koson reads and writes the kOS serialization format: JSON in which
// every mapping is a tagged "Lexicon" object carrying a flat key/value list
// and every sequence is a tagged "ListValue" object carrying its items.
//
// The tagged form keeps mapping key order exact across a round trip, which a
// native JSON object does not guarantee.
package koson

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
	KindList
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a scalar, an ordered mapping or an ordered sequence. The zero
// Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	m    *Map
	l    []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// MapValue wraps an ordered mapping. A nil map is treated as empty.
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// List wraps an ordered sequence.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, l: items}
}

// Numbers builds a sequence of numbers.
func Numbers(xs []float64) Value {
	items := make([]Value, len(xs))
	for i, x := range xs {
		items[i] = Number(x)
	}
	return List(items...)
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number held by v.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsMap returns the mapping held by v.
func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// AsList returns the items held by v. The slice is shared, not copied.
func (v Value) AsList() ([]Value, bool) { return v.l, v.kind == KindList }

// AsNumbers returns the items of a sequence of numbers.
func (v Value) AsNumbers() ([]float64, bool) {
	items, ok := v.AsList()
	if !ok {
		return nil, false
	}
	out := make([]float64, len(items))
	for i, it := range items {
		n, ok := it.AsNumber()
		if !ok {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// Equal reports deep equality, including mapping key order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindMap:
		return a.m.equal(b.m)
	case KindList:
		if len(a.l) != len(b.l) {
			return false
		}
		for i := range a.l {
			if !Equal(a.l[i], b.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v in a compact debugging notation (not the wire format).
func (v Value) String() string {
	var sb strings.Builder
	v.writeDebug(&sb)
	return sb.String()
}

func (v Value) writeDebug(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindMap:
		sb.WriteByte('{')
		for i, k := range v.m.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s: ", k)
			v.m.vals[k].writeDebug(sb)
		}
		sb.WriteByte('}')
	case KindList:
		sb.WriteByte('[')
		for i, it := range v.l {
			if i > 0 {
				sb.WriteString(", ")
			}
			it.writeDebug(sb)
		}
		sb.WriteByte(']')
	}
}

// ─── Ordered Map ────────────────────────────────────────────────────────────

// Map is a string-keyed mapping that remembers insertion order. The zero
// value is an empty mapping ready to use.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap creates an empty mapping.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set stores v under key. Re-setting an existing key keeps its position.
func (m *Map) Set(key string, v Value) {
	if m.vals == nil {
		m.vals = make(map[string]Value)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Delete removes key, preserving the order of the remaining keys.
func (m *Map) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

func (m *Map) equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k {
			return false
		}
		if !Equal(m.vals[k], o.vals[k]) {
			return false
		}
	}
	return true
}
