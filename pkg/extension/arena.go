package extension

import "github.com/morezero/native-bridge/pkg/ipc"

// DefaultArenaLimit caps the objects one context may own.
const DefaultArenaLimit = 4096

// Arena owns the objects allocated on behalf of one call. Everything it
// holds is dropped together when the owning context is released.
type Arena struct {
	limit   int
	objects []any
	freed   bool
}

// NewArena creates an arena holding at most limit objects.
func NewArena(limit int) *Arena {
	if limit <= 0 {
		limit = DefaultArenaLimit
	}
	return &Arena{limit: limit}
}

// Alloc takes ownership of obj. It fails once the limit is reached or the
// arena has been freed.
func (a *Arena) Alloc(obj any) error {
	if a.freed {
		return ipc.NewError(ipc.CodeAllocationFailure, "arena already freed")
	}
	if len(a.objects) >= a.limit {
		return ipc.NewError(ipc.CodeAllocationFailure, "arena limit %d reached", a.limit)
	}
	a.objects = append(a.objects, obj)
	return nil
}

// Len returns the number of owned objects.
func (a *Arena) Len() int { return len(a.objects) }

// Free drops every owned object. Later Allocs fail.
func (a *Arena) Free() {
	clear(a.objects)
	a.objects = nil
	a.freed = true
}
