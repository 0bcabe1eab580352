// Package value implements the schema-less property tree carried by component
// instances: a tagged union of null, bool, number, string, ordered list and
// string-keyed map.
package value

import (
	"fmt"
	"sort"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

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
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a node of the property tree. The zero Value is null.
//
// Map and list values share their backing storage when copied; use Clone
// before handing a value to code that may mutate it.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func List(items ...Value) Value {
	list := make([]Value, len(items))
	copy(list, items)
	return Value{kind: KindList, list: list}
}

// Floats is shorthand for a list of numbers, e.g. vectors and colors.
func Floats(items ...float64) Value {
	list := make([]Value, len(items))
	for i, f := range items {
		list[i] = Number(f)
	}
	return Value{kind: KindList, list: list}
}

// Map builds a map value. The entries are copied, not cloned.
func Map(entries map[string]Value) Value {
	m := make(map[string]Value, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

func EmptyMap() Value { return Value{kind: KindMap, m: make(map[string]Value)} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) IsMap() bool { return v.kind == KindMap }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

func (v Value) AsText() (string, bool) { return v.s, v.kind == KindString }

// Len is the number of list items or map entries.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Value{}, false
	}
	return v.list[i], true
}

func (v Value) Key(k string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	item, ok := v.m[k]
	return item, ok
}

// Keys returns map keys in ascending order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the list items.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	items := make([]Value, len(v.list))
	copy(items, v.list)
	return items
}

// Floats64 converts a list of numbers; ok is false if any item is not a number.
func (v Value) Floats64() ([]float64, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]float64, len(v.list))
	for i, item := range v.list {
		n, ok := item.AsNumber()
		if !ok {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		list := make([]Value, len(v.list))
		for i, item := range v.list {
			list[i] = item.Clone()
		}
		return Value{kind: KindList, list: list}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}
		return Value{kind: KindMap, m: m}
	default:
		return v
	}
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders the value as compact JSON.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid %s: %v>", v.kind, err)
	}
	return string(b)
}
