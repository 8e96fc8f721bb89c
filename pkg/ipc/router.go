// Package ipc implements the message bridge core: the request codec, the
// result carrier and the router that dispatches requests to routes and
// fans events out to listeners.
package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/native-bridge/pkg/events"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const logPrefix = "ipc:router"

const tracerName = "github.com/morezero/native-bridge/pkg/ipc"

// Reply delivers a handler's result. It reports false when the call was
// already answered; the result is then dropped.
type Reply func(result *Result) bool

// Handler serves a route. It may call reply inline or later from any goroutine.
type Handler func(ctx context.Context, msg *Message, reply Reply)

// Listener receives emitted messages. The message value holds the emitted data.
type Listener func(ctx context.Context, msg *Message)

// ResultFunc receives the result of an invoke.
type ResultFunc func(result *Result)

type listenerEntry struct {
	token uint64
	fn    Listener
}

// pendingReply is the one-shot reply channel of an in-flight invoke.
type pendingReply struct {
	seq      string
	msg      *Message
	onResult ResultFunc
	done     atomic.Bool
}

// Options configures a Router. Nil or zero values use defaults.
type Options struct {
	Scheme    string
	Publisher events.EventPublisher
}

// Stats is a point-in-time view of the router tables.
type Stats struct {
	Routes    int `json:"routes"`
	Listeners int `json:"listeners"`
	Pending   int `json:"pending"`
	Buffers   int `json:"buffers"`
}

// Router owns the route table, the listener table and the pending reply
// table. Each table has its own lock, held only for the map operation and
// never across a handler call.
type Router struct {
	codec     *Codec
	publisher events.EventPublisher
	tracer    trace.Tracer

	routesMu sync.RWMutex
	routes   map[string]Handler

	listenersMu sync.RWMutex
	listeners   map[string][]listenerEntry
	nextToken   atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]*pendingReply

	buffersMu sync.Mutex
	buffers   map[string][]byte
}

// NewRouter creates a Router. Pass nil for opts to use defaults.
func NewRouter(opts *Options) *Router {
	var scheme string
	var pub events.EventPublisher
	if opts != nil {
		scheme = opts.Scheme
		pub = opts.Publisher
	}
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Router{
		codec:     NewCodec(scheme),
		publisher: pub,
		tracer:    otel.Tracer(tracerName),
		routes:    make(map[string]Handler),
		listeners: make(map[string][]listenerEntry),
		pending:   make(map[string]*pendingReply),
		buffers:   make(map[string][]byte),
	}
}

// Codec returns the router's request codec.
func (r *Router) Codec() *Codec { return r.codec }

// Map registers handler for name, replacing any previous handler.
func (r *Router) Map(name string, handler Handler) {
	if name == "" || handler == nil {
		slog.Warn(fmt.Sprintf("%s - ignoring map with empty name or nil handler (name=%q)", logPrefix, name))
		return
	}
	r.routesMu.Lock()
	_, replaced := r.routes[name]
	r.routes[name] = handler
	r.routesMu.Unlock()

	if replaced {
		slog.Debug(fmt.Sprintf("%s - route %s replaced", logPrefix, name))
	}
}

// Unmap removes the route for name; unknown names are ignored.
func (r *Router) Unmap(name string) {
	r.routesMu.Lock()
	delete(r.routes, name)
	r.routesMu.Unlock()
}

// HasRoute reports whether name has a route.
func (r *Router) HasRoute(name string) bool {
	r.routesMu.RLock()
	defer r.routesMu.RUnlock()
	_, ok := r.routes[name]
	return ok
}

// Listen subscribes fn to name and returns its token. Tokens are unique
// across all names, never reused and never zero; 0 means nothing was
// registered.
func (r *Router) Listen(name string, fn Listener) uint64 {
	if name == "" || fn == nil {
		return 0
	}
	token := r.nextToken.Add(1)

	r.listenersMu.Lock()
	r.listeners[name] = append(r.listeners[name], listenerEntry{token: token, fn: fn})
	r.listenersMu.Unlock()
	return token
}

// Unlisten removes the listener registered under name with token. It
// reports whether such a listener existed.
func (r *Router) Unlisten(name string, token uint64) bool {
	if token == 0 {
		return false
	}
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	entries := r.listeners[name]
	for i, e := range entries {
		if e.token != token {
			continue
		}
		next := make([]listenerEntry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, name)
		} else {
			r.listeners[name] = next
		}
		return true
	}
	return false
}

// Buffer holds body for the request whose seq matches; Invoke attaches and
// removes it when that request carries no body of its own.
func (r *Router) Buffer(seq string, body []byte) {
	if seq == "" || seq == SentinelSeq || len(body) == 0 {
		return
	}
	r.buffersMu.Lock()
	r.buffers[seq] = append([]byte(nil), body...)
	r.buffersMu.Unlock()
}

func (r *Router) takeBuffer(seq string) []byte {
	if seq == SentinelSeq {
		return nil
	}
	r.buffersMu.Lock()
	defer r.buffersMu.Unlock()
	body, ok := r.buffers[seq]
	if ok {
		delete(r.buffers, seq)
	}
	return body
}

// Invoke parses uri and dispatches it to its route. With no route,
// onResult receives a ROUTE_NOT_FOUND result and Invoke returns false.
// Otherwise Invoke returns true once the handler has been called; the
// handler may answer later.
func (r *Router) Invoke(ctx context.Context, uri string, body []byte, onResult ResultFunc) bool {
	_, ok := r.invoke(ctx, uri, body, onResult)
	return ok
}

func (r *Router) invoke(ctx context.Context, uri string, body []byte, onResult ResultFunc) (*pendingReply, bool) {
	msg := r.codec.Parse(uri, false, body)
	if len(body) == 0 {
		if buffered := r.takeBuffer(msg.Seq()); buffered != nil {
			msg = msg.withBody(buffered)
		}
	}

	ctx, span := r.tracer.Start(ctx, "ipc.invoke", trace.WithAttributes(
		attribute.String("ipc.name", msg.Name()),
		attribute.String("ipc.seq", msg.Seq()),
	))
	defer span.End()

	r.routesMu.RLock()
	handler, found := r.routes[msg.Name()]
	r.routesMu.RUnlock()

	if !found {
		slog.Debug(fmt.Sprintf("%s - no route for %s", logPrefix, msg.Name()))
		span.SetAttributes(attribute.Bool("ipc.route_found", false))
		if onResult != nil {
			onResult(ErrorResult(msg, NewError(CodeRouteNotFound, "No route for %q", msg.Name())))
		}
		return nil, false
	}

	pr := &pendingReply{seq: msg.Seq(), msg: msg, onResult: onResult}
	if msg.ExpectsReply() {
		r.pendingMu.Lock()
		r.pending[pr.seq] = pr
		r.pendingMu.Unlock()
	}

	handler(ctx, msg, func(result *Result) bool {
		return r.deliver(pr, result)
	})
	return pr, true
}

// deliver hands result to pr's callback at most once.
func (r *Router) deliver(pr *pendingReply, result *Result) bool {
	if !pr.done.CompareAndSwap(false, true) {
		slog.Warn(fmt.Sprintf("%s - dropping duplicate reply for seq %s", logPrefix, pr.seq))
		return false
	}

	if pr.seq != SentinelSeq {
		r.pendingMu.Lock()
		if r.pending[pr.seq] == pr {
			delete(r.pending, pr.seq)
		}
		r.pendingMu.Unlock()
	}

	if result == nil {
		result = NewResult(pr.msg)
	}
	if result.Seq == "" || result.Seq == SentinelSeq {
		result.Seq = pr.seq
	}
	if result.Message() == nil {
		result.SetMessage(pr.msg)
	}
	if pr.onResult != nil {
		pr.onResult(result)
	}
	return true
}

// Send delivers a reply built from jsonText and post to whichever invoke is
// waiting on seq. An empty or sentinel seq is fire-and-forget: the result
// goes to the publisher and Send reports true. Otherwise Send reports
// whether a waiting invoke matched.
func (r *Router) Send(ctx context.Context, seq, jsonText string, post Post) bool {
	if seq == "" {
		seq = SentinelSeq
	}

	value := jsonvalue.Null()
	if jsonText != "" {
		parsed, err := jsonvalue.Parse(jsonText)
		if err != nil {
			parsed = jsonvalue.Raw(jsonText)
		}
		value = parsed
	}
	result := ResultFromValue(seq, value, post)
	result.Headers = post.Headers

	if seq == SentinelSeq {
		r.publish(ctx, &events.BridgeEvent{
			Kind:    events.KindSend,
			Seq:     seq,
			Data:    result.JSON(),
			Body:    post.Body,
			Headers: post.Headers.Map(),
		})
		return true
	}

	r.pendingMu.Lock()
	pr, ok := r.pending[seq]
	r.pendingMu.Unlock()
	if !ok {
		slog.Debug(fmt.Sprintf("%s - no pending invoke for seq %s", logPrefix, seq))
		return false
	}
	return r.deliver(pr, result)
}

// Emit delivers data to every listener registered on name at call time, in
// registration order. It reports false when name has no listeners.
func (r *Router) Emit(ctx context.Context, name, data string) bool {
	r.listenersMu.RLock()
	entries := r.listeners[name]
	r.listenersMu.RUnlock()

	ctx, span := r.tracer.Start(ctx, "ipc.emit", trace.WithAttributes(
		attribute.String("ipc.name", name),
		attribute.Int("ipc.listeners", len(entries)),
	))
	defer span.End()

	r.publish(ctx, &events.BridgeEvent{Kind: events.KindEmit, Name: name, Data: data})

	if len(entries) == 0 {
		return false
	}

	msg := newEventMessage(r.codec.Build(name, Param{Key: "value", Value: data}), name, data)
	for _, e := range entries {
		e.fn(ctx, msg)
	}
	return true
}

func (r *Router) publish(ctx context.Context, event *events.BridgeEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.publisher.Publish(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event: %v", logPrefix, event.Kind, err))
	}
}

// Stats returns the current table sizes.
func (r *Router) Stats() Stats {
	var s Stats

	r.routesMu.RLock()
	s.Routes = len(r.routes)
	r.routesMu.RUnlock()

	r.listenersMu.RLock()
	for _, entries := range r.listeners {
		s.Listeners += len(entries)
	}
	r.listenersMu.RUnlock()

	r.pendingMu.Lock()
	s.Pending = len(r.pending)
	r.pendingMu.Unlock()

	r.buffersMu.Lock()
	s.Buffers = len(r.buffers)
	r.buffersMu.Unlock()
	return s
}
