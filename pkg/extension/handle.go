package extension

import "fmt"

// Handle names a context in the host's context table. It pairs a slot
// index with the slot's generation, so a handle kept past release no
// longer resolves even after the slot is reused. The zero Handle is
// never issued.
type Handle struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("ctx#%d.%d", h.slot, h.gen)
}

type tableSlot struct {
	gen uint32
	ctx *callContext
}

// contextTable maps handles to live contexts. Callers hold Host.mu.
type contextTable struct {
	slots []tableSlot
	free  []uint32
	live  int
}

func (t *contextTable) insert(c *callContext) Handle {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, tableSlot{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.ctx = c
	t.live++
	return Handle{slot: idx, gen: s.gen}
}

func (t *contextTable) lookup(h Handle) *callContext {
	if h.IsZero() || int(h.slot) >= len(t.slots) {
		return nil
	}
	s := t.slots[h.slot]
	if s.gen != h.gen {
		return nil
	}
	return s.ctx
}

// remove invalidates h and returns the context it named.
func (t *contextTable) remove(h Handle) *callContext {
	c := t.lookup(h)
	if c == nil {
		return nil
	}
	s := &t.slots[h.slot]
	s.ctx = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, h.slot)
	t.live--
	return c
}
