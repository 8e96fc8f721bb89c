// Package jsonvalue provides the closed value union carried by IPC results:
// object, array, string, boolean, number, raw (pre-serialized JSON passed
// through unexamined) and none.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

const logPrefix = "jsonvalue:value"

// Kind identifies which member of the union a Value holds.
type Kind int

const (
	KindNone Kind = iota
	KindObject
	KindArray
	KindString
	KindBoolean
	KindNumber
	KindRaw
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindRaw:
		return "raw"
	default:
		return "none"
	}
}

// Value is one member of the union. The zero Value is none.
type Value struct {
	kind    Kind
	object  *Object
	array   []Value
	text    string // string and raw payloads
	boolean bool
	number  float64
}

// Null returns the none value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, boolean: b} }

// Number returns a number value.
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// Raw returns a value holding pre-serialized JSON. The text is emitted
// verbatim by MarshalJSON; an empty raw value marshals as null.
func Raw(s string) Value { return Value{kind: KindRaw, text: s} }

// Array returns an array value holding items in order.
func Array(items ...Value) Value {
	arr := make([]Value, len(items))
	copy(arr, items)
	return Value{kind: KindArray, array: arr}
}

// ObjectValue wraps o. A nil object yields an empty object value.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, object: o}
}

// Kind reports the member held.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v holds no payload.
func (v Value) IsNone() bool { return v.kind == KindNone }

// AsObject returns the object payload.
func (v Value) AsObject() (*Object, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.object, true
}

// AsArray returns a copy of the array payload.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	out := make([]Value, len(v.array))
	copy(out, v.array)
	return out, true
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBoolean {
		return false, false
	}
	return v.boolean, true
}

// AsNumber returns the number payload.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.number, true
}

// AsRaw returns the raw payload.
func (v Value) AsRaw() (string, bool) {
	if v.kind != KindRaw {
		return "", false
	}
	return v.text, true
}

// Clone returns a deep copy so the caller can keep mutating the original.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		return ObjectValue(v.object.Clone())
	case KindArray:
		arr := make([]Value, len(v.array))
		for i := range v.array {
			arr[i] = v.array[i].Clone()
		}
		return Value{kind: KindArray, array: arr}
	default:
		return v
	}
}

// Equal reports structural equality. Raw values compare by their text.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindString, KindRaw:
		return v.text == other.text
	case KindBoolean:
		return v.boolean == other.boolean
	case KindNumber:
		return v.number == other.number
	case KindArray:
		if len(v.array) != len(other.array) {
			return false
		}
		for i := range v.array {
			if !v.array[i].Equal(other.array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.object.Equal(other.object)
	}
	return false
}

// JSON serializes v. Values that cannot be represented serialize as null.
func (v Value) JSON() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(data)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNone:
		buf.WriteString("null")
	case KindString:
		data, err := json.Marshal(v.text)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindBoolean:
		buf.WriteString(strconv.FormatBool(v.boolean))
	case KindNumber:
		if math.IsNaN(v.number) || math.IsInf(v.number, 0) {
			return fmt.Errorf("%s - unsupported number %v", logPrefix, v.number)
		}
		data, err := json.Marshal(v.number)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindRaw:
		if v.text == "" {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(v.text)
	case KindArray:
		buf.WriteByte('[')
		for i := range v.array {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := v.array[i].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		return v.object.encode(buf)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts plain Go values (as produced by encoding/json or built
// by hand) into a Value. Map keys are sorted since Go maps carry no order.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Object:
		return ObjectValue(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("%s - invalid number %q: %w", logPrefix, t, err)
		}
		return Number(n), nil
	case json.RawMessage:
		return Raw(string(t)), nil
	case []any:
		arr := make([]Value, 0, len(t))
		for _, item := range t {
			iv, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			arr = append(arr, iv)
		}
		return Value{kind: KindArray, array: arr}, nil
	case []string:
		arr := make([]Value, 0, len(t))
		for _, s := range t {
			arr = append(arr, String(s))
		}
		return Value{kind: KindArray, array: arr}, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			iv, err := FromAny(t[k])
			if err != nil {
				return Null(), err
			}
			obj.Set(k, iv)
		}
		return ObjectValue(obj), nil
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			obj.Set(k, String(t[k]))
		}
		return ObjectValue(obj), nil
	}
	return Null(), fmt.Errorf("%s - unsupported type %T", logPrefix, x)
}
