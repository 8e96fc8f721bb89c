package ipc

import "strings"

// Header is one name/value pair.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered, case-sensitive header mapping. Setting an existing
// name overwrites its value in place.
type Headers struct {
	entries []Header
}

// ParseHeaders reads a "Name: value" block, one header per line. Lines
// without a colon or with an empty name are skipped.
func ParseHeaders(block string) Headers {
	var h Headers
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h.Set(name, strings.TrimSpace(value))
	}
	return h
}

// Set stores value under name.
func (h *Headers) Set(name, value string) {
	for i := range h.entries {
		if h.entries[i].Name == name {
			h.entries[i].Value = value
			return
		}
	}
	h.entries = append(h.entries, Header{Name: name, Value: value})
}

// Get returns the value stored under name.
func (h Headers) Get(name string) (string, bool) {
	for _, e := range h.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Len returns the number of headers.
func (h Headers) Len() int { return len(h.entries) }

// Entries returns a copy of the headers in order.
func (h Headers) Entries() []Header {
	out := make([]Header, len(h.entries))
	copy(out, h.entries)
	return out
}

// Map returns the headers as a plain map.
func (h Headers) Map() map[string]string {
	if len(h.entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(h.entries))
	for _, e := range h.entries {
		out[e.Name] = e.Value
	}
	return out
}

// String renders the block form accepted by ParseHeaders.
func (h Headers) String() string {
	var b strings.Builder
	for _, e := range h.entries {
		b.WriteString(e.Name)
		b.WriteString(": ")
		b.WriteString(e.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

// Post is a binary body with headers describing it, carried beside a
// result's value union.
type Post struct {
	Body    []byte
	Headers Headers
}

// Len returns the body length.
func (p Post) Len() int { return len(p.Body) }

// IsEmpty reports whether there is no body.
func (p Post) IsEmpty() bool { return len(p.Body) == 0 }
