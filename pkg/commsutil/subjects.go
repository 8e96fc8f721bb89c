package commsutil

import "strings"

// Default COMMS subjects.
const (
	SubjectInvoke      = "ipc.invoke"
	SubjectEventPrefix = "ipc.events"
)

// BuildEventSubject builds the subject a bridge event is mirrored to:
// <prefix>.<kind> for sends and <prefix>.<kind>.<name> for emits.
func BuildEventSubject(prefix, kind, name string) string {
	if prefix == "" {
		prefix = SubjectEventPrefix
	}
	subject := prefix + "." + kind
	if name = SanitizeToken(name); name != "" {
		subject += "." + name
	}
	return subject
}

// SanitizeToken replaces characters NATS reserves in subjects. Dots are kept
// so dotted names map onto subject hierarchies.
func SanitizeToken(name string) string {
	name = strings.Trim(name, ".")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '*', '>':
			return '_'
		}
		return r
	}, name)
}
