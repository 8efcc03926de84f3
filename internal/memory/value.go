// Package memory implements the aegis memory subsystem: four typed stores
// (semantic, episodic, procedural, working) plus the concept graph, with
// encrypted persistence and a single manager owning all of them.
package memory

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindBytes
	KindList
	KindMap
)

// Value is the tagged variant carried by memory items. It marshals to
// natural JSON; bytes are wrapped as {"$bytes": base64} so the round trip
// preserves the tag.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	raw  []byte
	list []Value
	m    map[string]Value
}

// Constructors.

func String(s string) Value          { return Value{kind: KindString, str: s} }
func Number(f float64) Value         { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value              { return Value{kind: KindBool, b: b} }
func Bytes(b []byte) Value           { return Value{kind: KindBytes, raw: b} }
func List(vals ...Value) Value       { return Value{kind: KindList, list: vals} }
func Map(m map[string]Value) Value   { return Value{kind: KindMap, m: m} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// Accessors; the bool reports whether the variant matched.

func (v Value) AsString() (string, bool)         { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool)        { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool)             { return v.b, v.kind == KindBool }
func (v Value) AsBytes() ([]byte, bool)          { return v.raw, v.kind == KindBytes }
func (v Value) AsList() ([]Value, bool)          { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool)  { return v.m, v.kind == KindMap }

// Text returns the string form for string values, otherwise a JSON rendering.
func (v Value) Text() string {
	if s, ok := v.AsString(); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// MarshalJSON renders the natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindBytes:
		return json.Marshal(map[string]string{"$bytes": base64.StdEncoding.EncodeToString(v.raw)})
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON rebuilds the tagged form from natural JSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*v = fromAny(probe)
	return nil
}

// fromAny converts a decoded JSON value into the tagged form.
func fromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case string:
		return String(t)
	case float64:
		return Number(t)
	case bool:
		return Bool(t)
	case []any:
		list := make([]Value, len(t))
		for i, e := range t {
			list[i] = fromAny(e)
		}
		return List(list...)
	case map[string]any:
		if len(t) == 1 {
			if enc, ok := t["$bytes"].(string); ok {
				if raw, err := base64.StdEncoding.DecodeString(enc); err == nil {
					return Bytes(raw)
				}
			}
		}
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = fromAny(e)
		}
		return Map(m)
	}
	return Value{}
}

// FromAny wraps an arbitrary JSON-compatible Go value.
func FromAny(x any) Value {
	raw, err := json.Marshal(x)
	if err != nil {
		return Value{}
	}
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{}
	}
	return v
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	a, err1 := json.Marshal(v)
	b, err2 := json.Marshal(o)
	return err1 == nil && err2 == nil && string(a) == string(b)
}
