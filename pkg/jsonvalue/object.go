package jsonvalue

import (
	"bytes"
	"encoding/json"
)

// Entry is one key/value pair of an Object.
type Entry struct {
	Key   string
	Value Value
}

// Object is an insertion-ordered key/value mapping with unique keys.
type Object struct {
	entries []Entry
	index   map[string]int
}

// NewObject returns an object holding entries in order. A repeated key
// overwrites the earlier value in place.
func NewObject(entries ...Entry) *Object {
	o := &Object{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		o.Set(e.Key, e.Value)
	}
	return o
}

// Set stores value under key, keeping the key's original position.
func (o *Object) Set(key string, value Value) {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, ok := o.index[key]; ok {
		o.entries[i].Value = value
		return
	}
	o.index[key] = len(o.entries)
	o.entries = append(o.entries, Entry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Null(), false
	}
	i, ok := o.index[key]
	if !ok {
		return Null(), false
	}
	return o.entries[i].Value, true
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (o *Object) Delete(key string) bool {
	if o == nil {
		return false
	}
	i, ok := o.index[key]
	if !ok {
		return false
	}
	o.entries = append(o.entries[:i], o.entries[i+1:]...)
	delete(o.index, key)
	for j := i; j < len(o.entries); j++ {
		o.index[o.entries[j].Key] = j
	}
	return true
}

// Len returns the number of entries.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.entries)
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.entries))
	for i, e := range o.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in insertion order.
func (o *Object) Entries() []Entry {
	if o == nil {
		return nil
	}
	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	out := NewObject()
	if o == nil {
		return out
	}
	for _, e := range o.entries {
		out.Set(e.Key, e.Value.Clone())
	}
	return out
}

// Equal compares entries pairwise, order included.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for i := 0; i < o.Len(); i++ {
		a, b := o.entries[i], other.entries[i]
		if a.Key != b.Key || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := o.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *Object) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	if o != nil {
		for i, e := range o.entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(e.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := e.Value.encode(buf); err != nil {
				return err
			}
		}
	}
	buf.WriteByte('}')
	return nil
}
