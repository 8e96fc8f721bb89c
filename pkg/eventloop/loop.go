// Package eventloop provides the runtime's serialized execution queue. Work
// scheduled from any goroutine runs one item at a time in scheduling order
// on the loop goroutine.
package eventloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const logPrefix = "eventloop:loop"

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 256

// Loop is a single-goroutine work queue.
type Loop struct {
	queue chan func()

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Dispatch calls between the stopped check and their enqueue
	senders sync.WaitGroup

	processed atomic.Uint64
}

// New creates a stopped loop with a queue of size slots.
func New(size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		queue:  make(chan func(), size),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the loop goroutine. It is a no-op if already started and
// fails after Stop.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return fmt.Errorf("%s - loop already stopped", logPrefix)
	}
	if l.running {
		return nil
	}
	l.running = true
	go l.run(ctx)
	slog.Debug(fmt.Sprintf("%s - event loop started", logPrefix))
	return nil
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		case <-l.stopCh:
			l.senders.Wait()
			l.drain()
			return
		case <-ctx.Done():
			l.markStopped()
			l.senders.Wait()
			l.drain()
			return
		}
	}
}

func (l *Loop) markStopped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
}

// drain runs work queued before shutdown so scheduled callbacks still fire.
// Every Dispatch that reported true has enqueued by the time it runs.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error(fmt.Sprintf("%s - scheduled work panicked: %v", logPrefix, rec))
		}
	}()
	fn()
	l.processed.Add(1)
}

// Dispatch schedules fn. It blocks while the queue is full and reports
// false once the loop is stopped.
func (l *Loop) Dispatch(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		slog.Warn(fmt.Sprintf("%s - dispatch after stop dropped", logPrefix))
		return false
	}
	l.senders.Add(1)
	l.mu.Unlock()
	defer l.senders.Done()

	select {
	case l.queue <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// Stop ends the loop after running already queued work and waits for the
// loop goroutine to exit. It is safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	running := l.running
	close(l.stopCh)
	l.mu.Unlock()

	if running {
		<-l.doneCh
	}
	slog.Debug(fmt.Sprintf("%s - event loop stopped", logPrefix))
}

// Status describes the loop for health reporting.
type Status struct {
	Running   bool   `json:"running"`
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
}

// Status returns the loop state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	running := l.running && !l.stopped
	l.mu.Unlock()
	return Status{Running: running, Queued: len(l.queue), Processed: l.processed.Load()}
}
