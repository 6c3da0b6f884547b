/*
Copyright 2026 The ClusterLens Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package graph

import (
	"encoding/json"
	"fmt"
)

// ValueKind discriminates the closed set of metadata value types.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindMap
)

// Value is a closed tagged union for per-kind observed metadata fields
// (phase, restart_count, ready_replicas, selector maps, ...). It keeps
// the metadata map open without resorting to interface{}.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	m    map[string]Value
}

func String(s string) Value        { return Value{kind: KindString, s: s} }
func Int(i int64) Value            { return Value{kind: KindInt, i: i} }
func Float(f float64) Value        { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the discriminator tag.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string payload, or "" if the value is not a string.
func (v Value) Str() string { return v.s }

// IntVal returns the integer payload. Float values are truncated so
// callers reading counters do not care how the field was recorded.
func (v Value) IntVal() int64 {
	if v.kind == KindFloat {
		return int64(v.f)
	}
	return v.i
}

// FloatVal returns the numeric payload as a float64.
func (v Value) FloatVal() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// BoolVal returns the boolean payload, or false for other kinds.
func (v Value) BoolVal() bool { return v.b }

// MapVal returns the nested map payload, or nil for other kinds.
func (v Value) MapVal() map[string]Value { return v.m }

func (v Value) clone() Value {
	if v.kind != KindMap || v.m == nil {
		return v
	}
	m := make(map[string]Value, len(v.m))
	for k, nested := range v.m {
		m[k] = nested.clone()
	}
	return Value{kind: KindMap, m: m}
}

// Equal reports deep equality of two values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == other.s
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, nested := range v.m {
			o, ok := other.m[k]
			if !ok || !nested.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON renders the payload directly, without the discriminator,
// so serialized metadata reads like plain JSON objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON reconstructs the union from plain JSON. Numbers without
// a fractional part decode as KindInt.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := fromInterface(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func fromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, nested := range t {
			nv, err := fromInterface(nested)
			if err != nil {
				return Value{}, err
			}
			m[k] = nv
		}
		return Map(m), nil
	case nil:
		return String(""), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", raw)
	}
}

// StringMap converts a flat string map into a metadata map value,
// convenient for recording label selectors.
func StringMap(in map[string]string) Value {
	m := make(map[string]Value, len(in))
	for k, s := range in {
		m[k] = String(s)
	}
	return Map(m)
}
