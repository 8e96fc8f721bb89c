package jsonvalue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const parseLogPrefix = "jsonvalue:parse"

// Parse decodes a JSON document into a Value, keeping object keys in
// document order. Trailing data after the first document is an error.
func Parse(s string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return Null(), fmt.Errorf("%s - %w", parseLogPrefix, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Null(), fmt.Errorf("%s - unexpected data after document", parseLogPrefix)
	}
	return v, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null(), err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Null(), fmt.Errorf("object key is %T", keyTok)
				}
				val, err := parseValue(dec)
				if err != nil {
					return Null(), err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return ObjectValue(obj), nil
		case '[':
			arr := make([]Value, 0)
			for dec.More() {
				val, err := parseValue(dec)
				if err != nil {
					return Null(), err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return Value{kind: KindArray, array: arr}, nil
		}
		return Null(), fmt.Errorf("unexpected delimiter %q", t)
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return FromAny(t)
	case nil:
		return Null(), nil
	}
	return Null(), fmt.Errorf("unexpected token %v", tok)
}
