package platform

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/morezero/native-bridge/pkg/eventloop"
	"github.com/morezero/native-bridge/pkg/ipc"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const moduleTestPrefix = "platform:module_test"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeShims struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeShims) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeShims) Notify(_ context.Context, title, body string) error {
	return f.record("notify:" + title + ":" + body)
}

func (f *fakeShims) RevealFile(_ context.Context, path string) error {
	return f.record("reveal:" + path)
}

func (f *fakeShims) OpenExternal(_ context.Context, url string) error {
	return f.record("open:" + url)
}

type countingSweeper struct{ sweeps int }

func (c *countingSweeper) Sweep() { c.sweeps++ }

func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	l := eventloop.New(8)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("%s - loop start failed: %v", moduleTestPrefix, err)
	}
	t.Cleanup(l.Stop)
	return l
}

func await(t *testing.T, r *ipc.Router, uri string) *ipc.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ipc.Await(ctx, r, uri, nil)
	if err != nil {
		t.Fatalf("%s - %s: %v", moduleTestPrefix, uri, err)
	}
	return res
}

func TestModule_EventSweepsOnLoop(t *testing.T) {
	loop := startLoop(t)
	sweeper := &countingSweeper{}
	r := ipc.NewRouter(nil)
	New(loop, sweeper, &Options{Shims: &fakeShims{}}).Register(r)

	res := await(t, r, "platform.event?value=domcontentloaded&seq=1")
	if res.Source != "platform.event" || res.IsError() {
		t.Fatalf("%s - result = %s", moduleTestPrefix, res.JSON())
	}
	if obj, ok := res.Data().AsObject(); !ok || obj.Len() != 0 {
		t.Errorf("%s - data = %s, want {}", moduleTestPrefix, res.Data().JSON())
	}

	await(t, r, "platform.event?value=load&seq=2")

	done := make(chan int)
	loop.Dispatch(func() { done <- sweeper.sweeps })
	if n := <-done; n != 1 {
		t.Errorf("%s - sweeps = %d, want 1", moduleTestPrefix, n)
	}
}

func TestModule_EventAfterLoopStopped(t *testing.T) {
	loop := eventloop.New(1)
	loop.Stop()
	m := New(loop, nil, &Options{Shims: &fakeShims{}})

	calls := 0
	var got jsonvalue.Value
	m.Event("3", "domcontentloaded", "", func(_ string, v jsonvalue.Value, _ ipc.Post) {
		calls++
		got = v
	})
	if calls != 1 {
		t.Fatalf("%s - callback calls = %d, want 1", moduleTestPrefix, calls)
	}
	obj, _ := got.AsObject()
	if !obj.Has("err") {
		t.Errorf("%s - expected err result, got %s", moduleTestPrefix, got.JSON())
	}
}

func TestModule_ShimRoutes(t *testing.T) {
	shims := &fakeShims{}
	r := ipc.NewRouter(nil)
	New(startLoop(t), nil, &Options{Shims: shims}).Register(r)

	open := await(t, r, "platform.openExternal?value=https%3A%2F%2Fexample.com&seq=1")
	obj, _ := open.Data().AsObject()
	if url, _ := obj.Get("url"); !url.Equal(jsonvalue.String("https://example.com")) {
		t.Errorf("%s - openExternal data = %s", moduleTestPrefix, open.Data().JSON())
	}

	await(t, r, "platform.revealFile?value=%2Ftmp%2Fa%20b.txt&seq=2")
	notify := await(t, r, "platform.notify?title=Hi&body=there&seq=3")
	if notify.Source != "platform.notify" || notify.IsError() {
		t.Errorf("%s - notify result = %s", moduleTestPrefix, notify.JSON())
	}

	want := []string{"open:https://example.com", "reveal:/tmp/a b.txt", "notify:Hi:there"}
	shims.mu.Lock()
	defer shims.mu.Unlock()
	if len(shims.calls) != len(want) {
		t.Fatalf("%s - calls = %v", moduleTestPrefix, shims.calls)
	}
	for i := range want {
		if shims.calls[i] != want[i] {
			t.Errorf("%s - call %d = %q, want %q", moduleTestPrefix, i, shims.calls[i], want[i])
		}
	}
}

func TestModule_ShimFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType string
		wantMsg  string
	}{
		{"os failure", errors.New("xdg-open: no handler"), "", "xdg-open: no handler"},
		{"unsupported", ipc.ErrNotSupported, "NotSupportedError", "Operation not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ipc.NewRouter(nil)
			New(startLoop(t), nil, &Options{Shims: &fakeShims{err: tt.err}}).Register(r)

			res := await(t, r, "platform.revealFile?value=x&seq=5")
			obj, ok := res.Err().AsObject()
			if !ok {
				t.Fatalf("%s - expected err, got %s", moduleTestPrefix, res.JSON())
			}
			if msg, _ := obj.Get("message"); !msg.Equal(jsonvalue.String(tt.wantMsg)) {
				t.Errorf("%s - message = %s", moduleTestPrefix, msg.JSON())
			}
			typ, has := obj.Get("type")
			if tt.wantType == "" && has {
				t.Errorf("%s - unexpected type %s", moduleTestPrefix, typ.JSON())
			}
			if tt.wantType != "" && !typ.Equal(jsonvalue.String(tt.wantType)) {
				t.Errorf("%s - type = %s", moduleTestPrefix, typ.JSON())
			}
			if res.Source != "platform.revealFile" {
				t.Errorf("%s - source = %q", moduleTestPrefix, res.Source)
			}
		})
	}
}

func TestModule_RejectsOptionLikeOperands(t *testing.T) {
	shims := &fakeShims{}
	r := ipc.NewRouter(nil)
	New(startLoop(t), nil, &Options{Shims: shims}).Register(r)

	for _, uri := range []string{
		"platform.revealFile?value=--help&seq=7",
		"platform.openExternal?value=-x&seq=8",
	} {
		res := await(t, r, uri)
		obj, ok := res.Err().AsObject()
		if !ok {
			t.Fatalf("%s - %s: expected err, got %s", moduleTestPrefix, uri, res.JSON())
		}
		if msg, _ := obj.Get("message"); msg.JSON() == `""` {
			t.Errorf("%s - %s: empty message", moduleTestPrefix, uri)
		}
	}

	shims.mu.Lock()
	defer shims.mu.Unlock()
	if len(shims.calls) != 0 {
		t.Errorf("%s - shims called with option-like operands: %v", moduleTestPrefix, shims.calls)
	}
}

func TestOperand(t *testing.T) {
	for _, arg := range []string{"https://example.com", "/tmp/a-b", "file.txt", ""} {
		if err := operand(arg); err != nil {
			t.Errorf("%s - operand(%q) = %v", moduleTestPrefix, arg, err)
		}
	}
	err := operand("--version")
	if !errors.Is(err, ipc.ErrInvalidMessage) {
		t.Errorf("%s - operand(--version) = %v, want INVALID_MESSAGE", moduleTestPrefix, err)
	}
}

func TestPrimordials(t *testing.T) {
	r := ipc.NewRouter(nil)
	New(startLoop(t), nil, &Options{Shims: &fakeShims{}}).Register(r)

	res := await(t, r, "platform.primordials?seq=1")
	obj, _ := res.Data().AsObject()
	if arch, _ := obj.Get("arch"); !arch.Equal(jsonvalue.String(runtime.GOARCH)) {
		t.Errorf("%s - arch = %s", moduleTestPrefix, arch.JSON())
	}
	if goos, _ := obj.Get("os"); !goos.Equal(jsonvalue.String(runtime.GOOS)) {
		t.Errorf("%s - os = %s", moduleTestPrefix, goos.JSON())
	}
}
