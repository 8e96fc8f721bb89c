package ipc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/native-bridge/pkg/events"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const routerTestPrefix = "ipc:router_test"

func TestRouter_Invoke_RouteNotFound(t *testing.T) {
	r := NewRouter(nil)

	var got *Result
	ok := r.Invoke(context.Background(), "ipc://missing?seq=1", nil, func(res *Result) {
		got = res
	})
	if ok {
		t.Fatalf("%s - Invoke on unregistered route returned true", routerTestPrefix)
	}
	if got == nil {
		t.Fatalf("%s - onResult was not called", routerTestPrefix)
	}
	if got.Err().IsNone() {
		t.Errorf("%s - expected err payload", routerTestPrefix)
	}
	if !got.Data().IsNone() {
		t.Errorf("%s - expected no data payload, got %s", routerTestPrefix, got.Data().JSON())
	}
	obj, _ := got.Err().AsObject()
	if code, _ := obj.Get("type"); !code.Equal(jsonvalue.String(CodeRouteNotFound)) {
		t.Errorf("%s - err type = %s", routerTestPrefix, code.JSON())
	}
	if got.Seq != "1" {
		t.Errorf("%s - Seq = %q, want 1", routerTestPrefix, got.Seq)
	}
}

func TestRouter_Invoke_DispatchesToRoute(t *testing.T) {
	r := NewRouter(nil)
	r.Map("echo", func(_ context.Context, msg *Message, reply Reply) {
		res := NewResult(msg)
		res.SetData(jsonvalue.String(msg.Value()))
		reply(res)
	})

	var got *Result
	ok := r.Invoke(context.Background(), "echo?value=hi%20there&seq=5", nil, func(res *Result) {
		got = res
	})
	if !ok {
		t.Fatalf("%s - Invoke returned false", routerTestPrefix)
	}
	if got == nil {
		t.Fatalf("%s - no result", routerTestPrefix)
	}
	if s, _ := got.Data().AsString(); s != "hi there" {
		t.Errorf("%s - data = %q", routerTestPrefix, s)
	}
	if got.Seq != "5" || got.Message() == nil || got.Message().Name() != "echo" {
		t.Errorf("%s - result not bound to message: seq=%q", routerTestPrefix, got.Seq)
	}
	if r.Stats().Pending != 0 {
		t.Errorf("%s - pending entry leaked", routerTestPrefix)
	}
}

func TestRouter_Invoke_ReturnsBeforeAsyncReply(t *testing.T) {
	r := NewRouter(nil)
	replies := make(chan Reply, 1)
	r.Map("slow", func(_ context.Context, _ *Message, reply Reply) {
		replies <- reply
	})

	results := make(chan *Result, 1)
	if !r.Invoke(context.Background(), "ipc://slow?seq=9", nil, func(res *Result) { results <- res }) {
		t.Fatalf("%s - Invoke returned false", routerTestPrefix)
	}
	select {
	case <-results:
		t.Fatalf("%s - result delivered before handler replied", routerTestPrefix)
	default:
	}
	if r.Stats().Pending != 1 {
		t.Errorf("%s - Pending = %d, want 1", routerTestPrefix, r.Stats().Pending)
	}

	reply := <-replies
	done := make(chan bool)
	go func() { done <- reply(NewResult(nil)) }()
	if !<-done {
		t.Errorf("%s - first reply reported false", routerTestPrefix)
	}
	if res := <-results; res.Seq != "9" {
		t.Errorf("%s - Seq = %q, want 9", routerTestPrefix, res.Seq)
	}
}

func TestRouter_ReplyAtMostOnce(t *testing.T) {
	r := NewRouter(nil)
	var saved Reply
	r.Map("twice", func(_ context.Context, msg *Message, reply Reply) {
		saved = reply
		reply(NewResult(msg))
	})

	var calls atomic.Int32
	r.Invoke(context.Background(), "ipc://twice?seq=1", nil, func(*Result) { calls.Add(1) })

	if saved(NewResult(nil)) {
		t.Errorf("%s - second reply reported true", routerTestPrefix)
	}
	if r.Send(context.Background(), "1", `{"data":1}`, Post{}) {
		t.Errorf("%s - Send after reply matched a consumed seq", routerTestPrefix)
	}
	if calls.Load() != 1 {
		t.Errorf("%s - callback fired %d times, want 1", routerTestPrefix, calls.Load())
	}
}

func TestRouter_Map_ReplacesSilently(t *testing.T) {
	r := NewRouter(nil)
	var which string
	r.Map("x", func(_ context.Context, msg *Message, reply Reply) { which = "h1"; reply(NewResult(msg)) })
	r.Map("x", func(_ context.Context, msg *Message, reply Reply) { which = "h2"; reply(NewResult(msg)) })

	if r.Stats().Routes != 1 {
		t.Errorf("%s - Routes = %d, want 1", routerTestPrefix, r.Stats().Routes)
	}
	r.Invoke(context.Background(), "ipc://x", nil, nil)
	if which != "h2" {
		t.Errorf("%s - handler = %s, want h2", routerTestPrefix, which)
	}
}

func TestRouter_Unmap(t *testing.T) {
	r := NewRouter(nil)
	r.Map("x", func(_ context.Context, msg *Message, reply Reply) { reply(NewResult(msg)) })
	r.Unmap("x")
	r.Unmap("never-mapped")

	if r.HasRoute("x") {
		t.Errorf("%s - route survived Unmap", routerTestPrefix)
	}
	if r.Invoke(context.Background(), "ipc://x", nil, nil) {
		t.Errorf("%s - Invoke succeeded after Unmap", routerTestPrefix)
	}
}

func TestRouter_Emit_OrderAndIsolation(t *testing.T) {
	r := NewRouter(nil)
	var order []string
	r.Listen("tick", func(_ context.Context, msg *Message) { order = append(order, "a:"+msg.Value()) })
	r.Listen("other", func(_ context.Context, msg *Message) { order = append(order, "other") })
	r.Listen("tick", func(_ context.Context, msg *Message) { order = append(order, "b:"+msg.Value()) })

	if !r.Emit(context.Background(), "tick", `{"n":1}`) {
		t.Fatalf("%s - Emit returned false", routerTestPrefix)
	}
	if len(order) != 2 || order[0] != `a:{"n":1}` || order[1] != `b:{"n":1}` {
		t.Errorf("%s - delivery = %v", routerTestPrefix, order)
	}
}

func TestRouter_Emit_DeliversDataVerbatim(t *testing.T) {
	r := NewRouter(nil)
	var got *Message
	r.Listen("bin", func(_ context.Context, msg *Message) { got = msg })

	for _, data := range []string{"\xff\xfe", "100%", "%41", "a&b=c", ""} {
		got = nil
		if !r.Emit(context.Background(), "bin", data) {
			t.Fatalf("%s - Emit returned false", routerTestPrefix)
		}
		if got == nil {
			t.Fatalf("%s - listener not called for %q", routerTestPrefix, data)
		}
		if got.Value() != data {
			t.Errorf("%s - Value() = %q, want %q", routerTestPrefix, got.Value(), data)
		}
		if got.Name() != "bin" || got.ExpectsReply() || !got.Decoded() {
			t.Errorf("%s - message = name %q seq %q decoded %v", routerTestPrefix, got.Name(), got.Seq(), got.Decoded())
		}
	}
}

func TestRouter_Emit_NoListeners(t *testing.T) {
	r := NewRouter(nil)
	r.Map("tick", func(_ context.Context, msg *Message, reply Reply) { reply(NewResult(msg)) })
	if r.Emit(context.Background(), "tick", "x") {
		t.Errorf("%s - Emit with no listeners returned true", routerTestPrefix)
	}
}

func TestRouter_Unlisten(t *testing.T) {
	r := NewRouter(nil)
	var hits int
	t1 := r.Listen("e", func(context.Context, *Message) { hits++ })
	t2 := r.Listen("e", func(context.Context, *Message) { hits += 10 })

	if t1 == 0 || t2 == 0 || t1 == t2 {
		t.Fatalf("%s - tokens %d, %d", routerTestPrefix, t1, t2)
	}
	if r.Unlisten("wrong-name", t1) {
		t.Errorf("%s - Unlisten with wrong name returned true", routerTestPrefix)
	}
	if !r.Unlisten("e", t1) {
		t.Errorf("%s - first Unlisten returned false", routerTestPrefix)
	}
	if r.Unlisten("e", t1) {
		t.Errorf("%s - second Unlisten returned true", routerTestPrefix)
	}
	if r.Unlisten("e", 0) {
		t.Errorf("%s - Unlisten of token 0 returned true", routerTestPrefix)
	}

	r.Emit(context.Background(), "e", "")
	if hits != 10 {
		t.Errorf("%s - hits = %d, want 10", routerTestPrefix, hits)
	}

	t3 := r.Listen("e", func(context.Context, *Message) {})
	if t3 == t1 || t3 == t2 {
		t.Errorf("%s - token reused: %d", routerTestPrefix, t3)
	}
}

func TestRouter_Listen_Rejects(t *testing.T) {
	r := NewRouter(nil)
	if tok := r.Listen("", func(context.Context, *Message) {}); tok != 0 {
		t.Errorf("%s - empty name got token %d", routerTestPrefix, tok)
	}
	if tok := r.Listen("x", nil); tok != 0 {
		t.Errorf("%s - nil listener got token %d", routerTestPrefix, tok)
	}
}

func TestRouter_Listen_ConcurrentTokensUnique(t *testing.T) {
	r := NewRouter(nil)
	const workers, perWorker = 16, 200

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*perWorker)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		name := []string{"a", "b", "c", "d"}[w%4]
		g.Go(func() error {
			local := make([]uint64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, r.Listen(name, func(context.Context, *Message) {}))
			}
			mu.Lock()
			defer mu.Unlock()
			for _, tok := range local {
				if tok == 0 || seen[tok] {
					t.Errorf("%s - duplicate or zero token %d", routerTestPrefix, tok)
				}
				seen[tok] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("%s - %d unique tokens, want %d", routerTestPrefix, len(seen), workers*perWorker)
	}
	if r.Stats().Listeners != workers*perWorker {
		t.Errorf("%s - Listeners = %d", routerTestPrefix, r.Stats().Listeners)
	}
}

func TestRouter_ConcurrentEmitAndUnlisten(t *testing.T) {
	r := NewRouter(nil)
	tokens := make([]uint64, 100)
	for i := range tokens {
		tokens[i] = r.Listen("busy", func(context.Context, *Message) {})
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 200; i++ {
			r.Emit(context.Background(), "busy", "x")
		}
		return nil
	})
	g.Go(func() error {
		for _, tok := range tokens {
			r.Unlisten("busy", tok)
		}
		return nil
	})
	_ = g.Wait()

	if r.Emit(context.Background(), "busy", "x") {
		t.Errorf("%s - listeners remain after removing all tokens", routerTestPrefix)
	}
}

func TestRouter_Send(t *testing.T) {
	var published []*events.BridgeEvent
	r := NewRouter(&Options{Publisher: events.NewCallbackPublisher(func(_ context.Context, e *events.BridgeEvent) error {
		published = append(published, e)
		return nil
	})})

	r.Map("later", func(context.Context, *Message, Reply) {})

	var got *Result
	r.Invoke(context.Background(), "ipc://later?seq=42", nil, func(res *Result) { got = res })

	if r.Send(context.Background(), "43", `{"data":true}`, Post{}) {
		t.Errorf("%s - Send to unknown seq returned true", routerTestPrefix)
	}

	var h Headers
	h.Set("Content-Type", "application/octet-stream")
	if !r.Send(context.Background(), "42", `{"source":"x.y","data":{"ok":true}}`, Post{Body: []byte{7}, Headers: h}) {
		t.Fatalf("%s - Send to pending seq returned false", routerTestPrefix)
	}
	if got == nil || got.Source != "x.y" || got.Bytes()[0] != 7 {
		t.Fatalf("%s - Send result not delivered intact", routerTestPrefix)
	}
	if ct, _ := got.Header("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("%s - header = %q", routerTestPrefix, ct)
	}

	for _, seq := range []string{"", SentinelSeq} {
		if !r.Send(context.Background(), seq, `{"data":{}}`, Post{}) {
			t.Errorf("%s - fire-and-forget Send(%q) returned false", routerTestPrefix, seq)
		}
	}
	if len(published) != 2 || published[0].Kind != events.KindSend || published[0].Seq != SentinelSeq {
		t.Errorf("%s - fire-and-forget sends not published: %+v", routerTestPrefix, published)
	}
}

func TestRouter_Send_RawPassThrough(t *testing.T) {
	r := NewRouter(nil)
	r.Map("later", func(context.Context, *Message, Reply) {})

	var got *Result
	r.Invoke(context.Background(), "ipc://later?seq=1", nil, func(res *Result) { got = res })
	r.Send(context.Background(), "1", "not json", Post{})

	if raw, ok := got.Value().AsRaw(); !ok || raw != "not json" {
		t.Errorf("%s - value = %s", routerTestPrefix, got.Value().JSON())
	}
}

func TestRouter_EmitPublishes(t *testing.T) {
	var names []string
	r := NewRouter(&Options{Publisher: events.NewCallbackPublisher(func(_ context.Context, e *events.BridgeEvent) error {
		names = append(names, e.Kind+":"+e.Name)
		return nil
	})})
	r.Listen("focus", func(context.Context, *Message) {})
	r.Emit(context.Background(), "focus", "1")

	if len(names) != 1 || names[0] != "emit:focus" {
		t.Errorf("%s - published = %v", routerTestPrefix, names)
	}
}

func TestRouter_Buffer(t *testing.T) {
	r := NewRouter(nil)
	var size int
	r.Map("upload", func(_ context.Context, msg *Message, reply Reply) {
		size = msg.Size()
		reply(NewResult(msg))
	})

	r.Buffer("11", []byte("hello"))
	if r.Stats().Buffers != 1 {
		t.Fatalf("%s - buffer not stored", routerTestPrefix)
	}
	r.Invoke(context.Background(), "ipc://upload?seq=11", nil, nil)
	if size != 5 {
		t.Errorf("%s - body size = %d, want 5", routerTestPrefix, size)
	}
	if r.Stats().Buffers != 0 {
		t.Errorf("%s - buffer not consumed", routerTestPrefix)
	}

	r.Buffer(SentinelSeq, []byte("ignored"))
	if r.Stats().Buffers != 0 {
		t.Errorf("%s - sentinel seq buffered", routerTestPrefix)
	}
}

func TestRouter_MapIgnoresInvalid(t *testing.T) {
	r := NewRouter(nil)
	r.Map("", func(context.Context, *Message, Reply) {})
	r.Map("x", nil)
	if r.Stats().Routes != 0 {
		t.Errorf("%s - invalid map registered a route", routerTestPrefix)
	}
}
