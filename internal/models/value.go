package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind identifies which variant a Value holds.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindList   ValueKind = "list"
	KindMap    ValueKind = "map"
)

// Value is a typed session variable. It marshals to the native JSON
// shape of its kind, so exported sessions read as plain JSON.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []Value
	Map  map[string]Value
}

// NullValue returns the null variant.
func NullValue() Value { return Value{Kind: KindNull} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue wraps a float64. All numbers are float64, matching JSON.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListValue wraps a list of values.
func ListValue(items ...Value) Value { return Value{Kind: KindList, List: items} }

// MapValue wraps a string-keyed map of values.
func MapValue(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// FromAny converts a decoded JSON value (or plain Go scalar) into a Value.
func FromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case json.Number:
		n, _ := t.Float64()
		return NumberValue(n)
	case []interface{}:
		list := make([]Value, 0, len(t))
		for _, item := range t {
			list = append(list, FromAny(item))
		}
		return Value{Kind: KindList, List: list}
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Value{Kind: KindMap, Map: m}
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// MarshalJSON writes the native JSON form for the value's kind.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Map)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts any JSON shape and stores it under the matching kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// Equal reports strict same-kind equality. Lists and maps compare element-wise.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, item := range v.Map {
			o, ok := other.Map[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values. Numbers order numerically, strings
// lexicographically; every other pairing has no order and returns false.
func (v Value) Compare(other Value) (int, bool) {
	if v.Kind == KindNumber && other.Kind == KindNumber {
		switch {
		case v.Num < other.Num:
			return -1, true
		case v.Num > other.Num:
			return 1, true
		}
		return 0, true
	}
	if v.Kind == KindString && other.Kind == KindString {
		return strings.Compare(v.Str, other.Str), true
	}
	return 0, false
}

// Contains reports substring match for strings, element membership for
// lists and key presence for maps.
func (v Value) Contains(other Value) bool {
	switch v.Kind {
	case KindString:
		return strings.Contains(v.Str, other.AsString())
	case KindList:
		for _, item := range v.List {
			if item.Equal(other) {
				return true
			}
		}
	case KindMap:
		_, ok := v.Map[other.AsString()]
		return ok
	}
	return false
}

// IsTruthy reports whether the value counts as set: non-empty string,
// non-zero number, true bool, non-empty list or map.
func (v Value) IsTruthy() bool {
	switch v.Kind {
	case KindString:
		return v.Str != ""
	case KindNumber:
		return v.Num != 0
	case KindBool:
		return v.Bool
	case KindList:
		return len(v.List) > 0
	case KindMap:
		return len(v.Map) > 0
	}
	return false
}

// AsString renders a display form. Whole numbers drop the decimal point.
func (v Value) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e15 {
			return strconv.FormatFloat(v.Num, 'f', 0, 64)
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNull:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Clone returns a deep copy. Scalars copy by value.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		list := make([]Value, len(v.List))
		for i, item := range v.List {
			list[i] = item.Clone()
		}
		return Value{Kind: KindList, List: list}
	case KindMap:
		m := make(map[string]Value, len(v.Map))
		for k, item := range v.Map {
			m[k] = item.Clone()
		}
		return Value{Kind: KindMap, Map: m}
	default:
		return v
	}
}

// CloneValues deep-copies a variable map. A nil map stays nil.
func CloneValues(in map[string]Value) map[string]Value {
	if in == nil {
		return nil
	}
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
