package ipc

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultScheme is the bridge's private request scheme.
	DefaultScheme = "ipc"
	// SentinelSeq marks a message that expects no reply.
	SentinelSeq = "-1"
)

// Codec turns request strings of the form <scheme>://<name>?<query> into
// Messages. Parsing never fails.
type Codec struct {
	scheme string
}

// NewCodec returns a codec for scheme. An empty scheme uses DefaultScheme.
func NewCodec(scheme string) *Codec {
	if scheme == "" {
		scheme = DefaultScheme
	}
	return &Codec{scheme: scheme}
}

// Scheme returns the codec's scheme without the "://" separator.
func (c *Codec) Scheme() string { return c.scheme }

// Normalize prefixes uri with the codec scheme when it is missing.
func (c *Codec) Normalize(uri string) string {
	prefix := c.scheme + "://"
	if strings.HasPrefix(uri, prefix) {
		return uri
	}
	return prefix + uri
}

// Parse decodes uri into a Message. When decode is true every argument
// value is percent-decoded now; otherwise values are kept as written and
// Message.Decode decodes on demand. body is attached as the message's
// out-of-band payload and is not copied.
func (c *Codec) Parse(uri string, decode bool, body []byte) *Message {
	uri = c.Normalize(uri)
	rest := uri[len(c.scheme)+len("://"):]
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest = rest[:i]
	}
	path, query, _ := strings.Cut(rest, "?")

	msg := &Message{
		uri:     uri,
		name:    strings.Trim(path, "/"),
		seq:     SentinelSeq,
		index:   -1,
		decoded: decode,
		body:    body,
	}

	for _, segment := range strings.Split(query, "&") {
		if segment == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(segment, "=")
		key := DecodeURIComponent(rawKey)
		if key == "" {
			continue
		}
		switch key {
		case "seq":
			if seq := DecodeURIComponent(rawValue); seq != "" {
				msg.seq = seq
			}
		case "index":
			if n, err := strconv.Atoi(DecodeURIComponent(rawValue)); err == nil {
				msg.index = n
			}
		default:
			value := rawValue
			if decode {
				value = DecodeURIComponent(rawValue)
			}
			msg.args.set(key, value)
		}
	}
	return msg
}

// Build returns a request string for name with params encoded in order.
func (c *Codec) Build(name string, params ...Param) string {
	var b strings.Builder
	b.WriteString(c.scheme)
	b.WriteString("://")
	b.WriteString(name)
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(EncodeURIComponent(p.Key))
		b.WriteByte('=')
		b.WriteString(EncodeURIComponent(p.Value))
	}
	return b.String()
}

// DecodeURIComponent percent-decodes s. Escapes that are malformed, or that
// do not decode to valid UTF-8, are kept as the literal text.
func DecodeURIComponent(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '%' {
			b.WriteByte(s[i])
			i++
			continue
		}

		// collect a run of well-formed escapes so multi-byte sequences decode together
		start := i
		var run []byte
		for i+2 < len(s) && s[i] == '%' {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if !okHi || !okLo {
				break
			}
			run = append(run, hi<<4|lo)
			i += 3
		}
		if len(run) == 0 {
			b.WriteByte('%')
			i++
			continue
		}
		for k := 0; k < len(run); {
			r, size := utf8.DecodeRune(run[k:])
			if r == utf8.RuneError && size <= 1 {
				b.WriteString(s[start+3*k : start+3*k+3])
				k++
				continue
			}
			b.Write(run[k : k+size])
			k += size
		}
	}
	return b.String()
}

// EncodeURIComponent escapes everything except the unreserved characters
// A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
