package commsutil

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

var errEmptyPayload = errors.New("commsutil:codec - empty payload")

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(data, v)
}

// EncodeBody renders a binary body for a JSON envelope field.
func EncodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(body)
}

// DecodeBody reverses EncodeBody. An empty string decodes to nil.
func DecodeBody(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
