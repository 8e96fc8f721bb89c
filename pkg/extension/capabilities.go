package extension

import (
	"sort"
	"strings"
)

// Privileged router operations. A context must hold the matching name to
// perform the operation.
const (
	OpMap      = "ipc_router_map"
	OpUnmap    = "ipc_router_unmap"
	OpListen   = "ipc_router_listen"
	OpUnlisten = "ipc_router_unlisten"
	OpReply    = "ipc_router_reply"
)

// DefaultAllowlist is the process allowlist used when none is configured.
var DefaultAllowlist = []string{OpMap, OpUnmap, OpListen, OpUnlisten, OpReply}

// CapabilitySet is an immutable set of permitted operation names.
type CapabilitySet struct {
	names map[string]struct{}
}

// NewCapabilitySet builds a set from names. Blank names are ignored.
func NewCapabilitySet(names ...string) CapabilitySet {
	set := CapabilitySet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			set.names[n] = struct{}{}
		}
	}
	return set
}

// Allows reports whether op is in the set.
func (c CapabilitySet) Allows(op string) bool {
	_, ok := c.names[op]
	return ok
}

// Intersect returns the names present in both sets.
func (c CapabilitySet) Intersect(other CapabilitySet) CapabilitySet {
	out := CapabilitySet{names: make(map[string]struct{})}
	for n := range c.names {
		if other.Allows(n) {
			out.names[n] = struct{}{}
		}
	}
	return out
}

// Names returns the sorted operation names.
func (c CapabilitySet) Names() []string {
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of operations in the set.
func (c CapabilitySet) Len() int { return len(c.names) }
