package fsstate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const watcherLogPrefix = "fsstate:watcher"

// EventName is the listener name watch events are emitted on.
const EventName = "fs.watch"

// Watcher forwards filesystem events for one path to listeners.
type Watcher struct {
	ID   uint64
	Path string

	emitter Emitter
	watcher *fsnotify.Watcher

	once   sync.Once
	stopCh chan struct{}
	doneCh chan struct{}

	// set while a listener runs on the event goroutine
	forwarding atomic.Bool
}

func newWatcher(id uint64, path string, emitter Emitter) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create watcher: %w", watcherLogPrefix, err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%s - failed to watch %s: %w", watcherLogPrefix, path, err)
	}
	return &Watcher{
		ID:      id,
		Path:    path,
		emitter: emitter,
		watcher: fw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

func (w *Watcher) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		if err := w.watcher.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - error closing watcher %d: %v", watcherLogPrefix, w.ID, err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.forward(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn(fmt.Sprintf("%s - watcher %d error: %v", watcherLogPrefix, w.ID, err))
		}
	}
}

func (w *Watcher) forward(ctx context.Context, event fsnotify.Event) {
	var kind string
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = "create"
	case event.Op&fsnotify.Write != 0:
		kind = "change"
	case event.Op&fsnotify.Remove != 0:
		kind = "remove"
	case event.Op&fsnotify.Rename != 0:
		kind = "rename"
	default:
		return
	}
	if w.emitter == nil {
		return
	}
	data := jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "id", Value: jsonvalue.String(strconv.FormatUint(w.ID, 10))},
		jsonvalue.Entry{Key: "event", Value: jsonvalue.String(kind)},
		jsonvalue.Entry{Key: "path", Value: jsonvalue.String(event.Name)},
	))
	w.forwarding.Store(true)
	defer w.forwarding.Store(false)
	w.emitter.Emit(ctx, EventName, data.JSON())
}

// stop ends the event goroutine, which closes the underlying watcher on
// exit. It waits for the goroutine unless called from a listener the
// goroutine is running, which would wait on itself.
func (w *Watcher) stop() {
	w.once.Do(func() {
		close(w.stopCh)
	})
	if w.forwarding.Load() {
		return
	}
	<-w.doneCh
}
