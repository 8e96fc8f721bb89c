// Package platform serves the platform.* routes: page lifecycle events,
// notifications, revealing files, opening external URLs and the build
// platform table. OS work goes through a Shims implementation chosen per
// build target.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/morezero/native-bridge/pkg/eventloop"
	"github.com/morezero/native-bridge/pkg/ipc"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const logPrefix = "platform:module"

// DefaultShimTimeout bounds one OS action.
const DefaultShimTimeout = 30 * time.Second

// Callback receives a module reply. It is called exactly once per request.
type Callback func(seq string, value jsonvalue.Value, post ipc.Post)

// Sweeper resets shared descriptor state on a page lifecycle signal.
type Sweeper interface {
	Sweep()
}

// Options configures a Module. Nil or zero values use defaults.
type Options struct {
	Shims       Shims
	ShimTimeout time.Duration
}

// Module is the platform module.
type Module struct {
	loop    *eventloop.Loop
	fs      Sweeper
	shims   Shims
	timeout time.Duration
}

// New creates a Module. fs may be nil when no descriptor table exists.
func New(loop *eventloop.Loop, fs Sweeper, opts *Options) *Module {
	m := &Module{loop: loop, fs: fs, shims: NativeShims(), timeout: DefaultShimTimeout}
	if opts != nil {
		if opts.Shims != nil {
			m.shims = opts.Shims
		}
		if opts.ShimTimeout > 0 {
			m.timeout = opts.ShimTimeout
		}
	}
	return m
}

func ok(source string, data *jsonvalue.Object) jsonvalue.Value {
	if data == nil {
		data = jsonvalue.NewObject()
	}
	return jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "source", Value: jsonvalue.String(source)},
		jsonvalue.Entry{Key: "data", Value: jsonvalue.ObjectValue(data)},
	))
}

func failed(source string, err error) jsonvalue.Value {
	errObj := jsonvalue.NewObject()
	if errors.Is(err, ipc.ErrNotSupported) {
		errObj.Set("type", jsonvalue.String("NotSupportedError"))
		errObj.Set("message", jsonvalue.String("Operation not supported"))
	} else {
		errObj.Set("message", jsonvalue.String(err.Error()))
	}
	return jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "source", Value: jsonvalue.String(source)},
		jsonvalue.Entry{Key: "err", Value: jsonvalue.ObjectValue(errObj)},
	))
}

// Event handles a page lifecycle event on the event loop. On
// "domcontentloaded" the descriptor table is swept.
func (m *Module) Event(seq, event, data string, cb Callback) {
	scheduled := m.loop.Dispatch(func() {
		if event == "domcontentloaded" && m.fs != nil {
			m.fs.Sweep()
		}
		slog.Debug(fmt.Sprintf("%s - handled event %s (%d bytes of data)", logPrefix, event, len(data)))
		cb(seq, ok("platform.event", nil), ipc.Post{})
	})
	if !scheduled {
		cb(seq, failed("platform.event", fmt.Errorf("event loop is not running")), ipc.Post{})
	}
}

// Notify shows a desktop notification.
func (m *Module) Notify(seq, title, body string, cb Callback) {
	m.runShim(seq, "platform.notify", cb, func(ctx context.Context) (*jsonvalue.Object, error) {
		return nil, m.shims.Notify(ctx, title, body)
	})
}

// RevealFile shows path in the system file manager.
func (m *Module) RevealFile(seq, path string, cb Callback) {
	m.runShim(seq, "platform.revealFile", cb, func(ctx context.Context) (*jsonvalue.Object, error) {
		if err := operand(path); err != nil {
			return nil, err
		}
		return nil, m.shims.RevealFile(ctx, path)
	})
}

// OpenExternal opens url with the system handler.
func (m *Module) OpenExternal(seq, url string, cb Callback) {
	m.runShim(seq, "platform.openExternal", cb, func(ctx context.Context) (*jsonvalue.Object, error) {
		if err := operand(url); err != nil {
			return nil, err
		}
		if err := m.shims.OpenExternal(ctx, url); err != nil {
			return nil, err
		}
		return jsonvalue.NewObject(jsonvalue.Entry{Key: "url", Value: jsonvalue.String(url)}), nil
	})
}

// runShim runs fn off the caller's goroutine and reports its outcome.
func (m *Module) runShim(seq, source string, cb Callback, fn func(ctx context.Context) (*jsonvalue.Object, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		data, err := fn(ctx)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - %s failed: %v", logPrefix, source, err))
			cb(seq, failed(source, err), ipc.Post{})
			return
		}
		cb(seq, ok(source, data), ipc.Post{})
	}()
}

// Primordials returns the build platform table.
func Primordials() jsonvalue.Value {
	return jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "arch", Value: jsonvalue.String(runtime.GOARCH)},
		jsonvalue.Entry{Key: "os", Value: jsonvalue.String(runtime.GOOS)},
	))
}
