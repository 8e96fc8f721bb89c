// Package fsstate holds the runtime's filesystem descriptor and watcher
// tables and serves the fs.* routes over them.
package fsstate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/morezero/native-bridge/pkg/ipc"
)

const logPrefix = "fsstate:table"

// CodeIO marks filesystem failures folded into a result.
const CodeIO = "IO_ERROR"

// Emitter broadcasts to listeners. *ipc.Router satisfies it.
type Emitter interface {
	Emit(ctx context.Context, name, data string) bool
}

// Descriptor is an open file. A stale descriptor belongs to a page that
// has since reloaded; it can only be closed.
type Descriptor struct {
	ID    uint64
	Path  string
	Stale bool

	file *os.File
}

// Table owns descriptors and watchers. One mutex guards both maps and is
// never held across file I/O or watcher shutdown.
type Table struct {
	emitter Emitter

	mu          sync.Mutex
	descriptors map[uint64]*Descriptor
	watchers    map[uint64]*Watcher
	nextID      atomic.Uint64
}

// NewTable creates an empty table. Watch events go to emitter; nil drops them.
func NewTable(emitter Emitter) *Table {
	return &Table{
		emitter:     emitter,
		descriptors: make(map[uint64]*Descriptor),
		watchers:    make(map[uint64]*Watcher),
	}
}

// Open opens path read-only and registers a descriptor for it.
func (t *Table) Open(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open %s: %w", logPrefix, path, err)
	}
	d := &Descriptor{ID: t.nextID.Add(1), Path: path, file: f}
	t.mu.Lock()
	t.descriptors[d.ID] = d
	t.mu.Unlock()
	return d, nil
}

// Read returns the whole content of the descriptor's file.
func (t *Table) Read(id uint64) ([]byte, error) {
	t.mu.Lock()
	d, ok := t.descriptors[id]
	var stale bool
	if ok && d != nil {
		stale = d.Stale
	}
	t.mu.Unlock()
	if !ok || d == nil {
		return nil, fmt.Errorf("%s - unknown descriptor %d", logPrefix, id)
	}
	if stale {
		return nil, fmt.Errorf("%s - descriptor %d is stale", logPrefix, id)
	}
	return io.ReadAll(io.NewSectionReader(d.file, 0, 1<<62))
}

// Close closes and forgets the descriptor.
func (t *Table) Close(id uint64) error {
	t.mu.Lock()
	d, ok := t.descriptors[id]
	delete(t.descriptors, id)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s - unknown descriptor %d", logPrefix, id)
	}
	if d == nil {
		return nil
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("%s - failed to close %s: %w", logPrefix, d.Path, err)
	}
	return nil
}

// Watch starts watching path and returns the watcher.
func (t *Table) Watch(ctx context.Context, path string) (*Watcher, error) {
	w, err := newWatcher(t.nextID.Add(1), path, t.emitter)
	if err != nil {
		return nil, err
	}
	w.start(ctx)
	t.mu.Lock()
	t.watchers[w.ID] = w
	t.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - watching %s (id=%d)", logPrefix, path, w.ID))
	return w, nil
}

// Unwatch stops and forgets the watcher.
func (t *Table) Unwatch(id uint64) bool {
	t.mu.Lock()
	w, ok := t.watchers[id]
	delete(t.watchers, id)
	t.mu.Unlock()
	if !ok {
		return false
	}
	if w != nil {
		w.stop()
	}
	return true
}

// Sweep runs on a page lifecycle signal: every descriptor is marked stale,
// nil entries are erased, and every watcher is stopped and dropped.
func (t *Table) Sweep() {
	t.mu.Lock()
	for id, d := range t.descriptors {
		if d == nil {
			delete(t.descriptors, id)
			continue
		}
		d.Stale = true
	}
	watchers := t.watchers
	t.watchers = make(map[uint64]*Watcher)
	t.mu.Unlock()

	for _, w := range watchers {
		if w != nil {
			w.stop()
		}
	}
	slog.Debug(fmt.Sprintf("%s - swept descriptors and stopped %d watchers", logPrefix, len(watchers)))
}

// Descriptor returns a copy of the descriptor entry.
func (t *Table) Descriptor(id uint64) (Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.descriptors[id]
	if !ok || d == nil {
		return Descriptor{}, false
	}
	return Descriptor{ID: d.ID, Path: d.Path, Stale: d.Stale}, true
}

// Counts returns the number of descriptors and watchers.
func (t *Table) Counts() (descriptors, watchers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.descriptors), len(t.watchers)
}

// CloseAll closes every descriptor and stops every watcher.
func (t *Table) CloseAll() {
	t.mu.Lock()
	descriptors := t.descriptors
	watchers := t.watchers
	t.descriptors = make(map[uint64]*Descriptor)
	t.watchers = make(map[uint64]*Watcher)
	t.mu.Unlock()

	for _, d := range descriptors {
		if d != nil {
			_ = d.file.Close()
		}
	}
	for _, w := range watchers {
		if w != nil {
			w.stop()
		}
	}
}

func parseID(msg *ipc.Message) (uint64, error) {
	raw, ok := msg.Decode("id")
	if !ok || raw == "" {
		return 0, ipc.NewError(ipc.CodeInvalidMessage, "missing 'id'")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, ipc.NewError(ipc.CodeInvalidMessage, "invalid 'id' %q", raw)
	}
	return id, nil
}
