// Package extension is the context lifecycle manager that sits between
// the router and loaded extensions. Extensions never hold router state
// directly: every call names a context through a Handle, and every
// privileged call is checked against that context's capability set.
package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/morezero/native-bridge/pkg/ipc"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const logPrefix = "extension:host"

// State is a context's lifecycle state. It only moves forward.
type State int

const (
	StateInit State = iota
	StateActive
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateActive:
		return "active"
	default:
		return "released"
	}
}

// ReleaseMode decides who releases a context that has replied.
type ReleaseMode int

const (
	// AutoRelease releases the context as soon as its reply is delivered.
	AutoRelease ReleaseMode = iota
	// CallerManaged keeps the context alive until Release is called.
	CallerManaged
)

// RouteFunc serves an extension route. The handle names a fresh context
// holding the reply slot for msg.
type RouteFunc func(h Handle, msg *ipc.Message)

// ListenFunc receives an emitted message. The handle is valid only until
// the function returns.
type ListenFunc func(h Handle, msg *ipc.Message)

// callContext is the per-call ownership unit. Fields are guarded by Host.mu.
type callContext struct {
	id      string
	state   State
	mode    ReleaseMode
	caps    CapabilitySet
	arena   *Arena
	msg     *ipc.Message
	reply   ipc.Reply
	replied bool
	owner   *Instance
}

// HostOptions configures a Host. Nil or zero values use defaults.
type HostOptions struct {
	Allowlist  []string
	ArenaLimit int
	ABIVersion string
}

// Host owns the context table and exposes the router to extensions.
type Host struct {
	router     *ipc.Router
	allowlist  CapabilitySet
	arenaLimit int
	abiVersion string

	mu        sync.Mutex
	table     contextTable
	instances map[string]*Instance
	loading   map[string]struct{}
}

// NewHost creates a Host bound to router.
func NewHost(router *ipc.Router, opts *HostOptions) (*Host, error) {
	h := &Host{
		router:     router,
		allowlist:  NewCapabilitySet(DefaultAllowlist...),
		arenaLimit: DefaultArenaLimit,
		abiVersion: ABIVersion,
		instances:  make(map[string]*Instance),
		loading:    make(map[string]struct{}),
	}
	if opts != nil {
		if opts.Allowlist != nil {
			h.allowlist = NewCapabilitySet(opts.Allowlist...)
		}
		if opts.ArenaLimit > 0 {
			h.arenaLimit = opts.ArenaLimit
		}
		if opts.ABIVersion != "" {
			h.abiVersion = opts.ABIVersion
		}
	}
	if _, err := masterminds.NewVersion(h.abiVersion); err != nil {
		return nil, fmt.Errorf("%s - invalid abi version %q: %w", logPrefix, h.abiVersion, err)
	}
	return h, nil
}

// Router returns the router the host dispatches through.
func (x *Host) Router() *ipc.Router { return x.router }

// Allowlist returns the process allowlist.
func (x *Host) Allowlist() CapabilitySet { return x.allowlist }

// Open creates an Init-state context with caps limited to the process
// allowlist. Init contexts may map routes.
func (x *Host) Open(caps []string, mode ReleaseMode) Handle {
	return x.newContext(&callContext{
		state: StateInit,
		mode:  mode,
		caps:  NewCapabilitySet(caps...).Intersect(x.allowlist),
	})
}

func (x *Host) newContext(c *callContext) Handle {
	c.id = uuid.NewString()
	c.arena = NewArena(x.arenaLimit)
	x.mu.Lock()
	h := x.table.insert(c)
	x.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - opened %s (%s, id=%s)", logPrefix, h, c.state, c.id))
	return h
}

// State returns the state of the context h names. Released or unknown
// handles report StateReleased.
func (x *Host) State(h Handle) State {
	x.mu.Lock()
	defer x.mu.Unlock()
	c := x.table.lookup(h)
	if c == nil {
		return StateReleased
	}
	return c.state
}

// Live returns the number of unreleased contexts.
func (x *Host) Live() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.table.live
}

// Message returns the message a route or listener context was created for.
func (x *Host) Message(h Handle) *ipc.Message {
	x.mu.Lock()
	defer x.mu.Unlock()
	if c := x.table.lookup(h); c != nil {
		return c.msg
	}
	return nil
}

// allowed resolves h and checks op. Failures are logged and yield nil.
func (x *Host) allowed(h Handle, op string) *callContext {
	x.mu.Lock()
	c := x.table.lookup(h)
	x.mu.Unlock()
	if c == nil {
		slog.Warn(fmt.Sprintf("%s - %s on released context %s", logPrefix, op, h))
		return nil
	}
	if !c.caps.Allows(op) {
		slog.Warn(fmt.Sprintf("%s - '%s' is not allowed.", logPrefix, op))
		return nil
	}
	return c
}

// Map registers fn as the route for name. Only Init contexts may map.
// Contexts created when the route fires use mode.
func (x *Host) Map(h Handle, name string, fn RouteFunc, mode ReleaseMode) {
	c := x.allowed(h, OpMap)
	if c == nil || fn == nil {
		return
	}
	x.mu.Lock()
	state := c.state
	x.mu.Unlock()
	if state != StateInit {
		slog.Warn(fmt.Sprintf("%s - map of %s ignored: %s is %s", logPrefix, name, h, state))
		return
	}

	caps, owner := c.caps, c.owner
	x.router.Map(name, func(_ context.Context, msg *ipc.Message, reply ipc.Reply) {
		copied := x.router.Codec().Parse(msg.URI(), true, msg.Bytes())
		cc := &callContext{
			state: StateActive,
			mode:  mode,
			caps:  caps,
			msg:   copied,
			reply: reply,
			owner: owner,
		}
		x.serve(x.newContext(cc), cc, fn)
	})
	if owner != nil {
		owner.addRoute(name)
	}
}

// serve hands the context's message to fn. A context that cannot own its
// message answers ALLOCATION_FAILURE and is released without calling fn.
func (x *Host) serve(h Handle, cc *callContext, fn RouteFunc) {
	msg := cc.msg
	if err := x.alloc(cc, msg); err != nil {
		x.mu.Lock()
		reply := cc.reply
		cc.reply = nil
		cc.replied = true
		x.mu.Unlock()
		if reply != nil {
			reply(ipc.ErrorResult(msg, err))
		}
		x.Release(h)
		return
	}
	fn(h, msg)
}

// Unmap removes the route for name.
func (x *Host) Unmap(h Handle, name string) {
	c := x.allowed(h, OpUnmap)
	if c == nil {
		return
	}
	x.router.Unmap(name)
	if c.owner != nil {
		c.owner.removeRoute(name)
	}
}

// Listen subscribes fn to name and returns its token, or 0 when denied.
func (x *Host) Listen(h Handle, name string, fn ListenFunc) uint64 {
	c := x.allowed(h, OpListen)
	if c == nil || fn == nil {
		return 0
	}
	caps, owner := c.caps, c.owner
	token := x.router.Listen(name, func(_ context.Context, msg *ipc.Message) {
		child := x.newContext(&callContext{
			state: StateActive,
			mode:  AutoRelease,
			caps:  caps,
			msg:   msg,
			owner: owner,
		})
		defer x.Release(child)
		fn(child, msg)
	})
	if token != 0 && owner != nil {
		owner.addToken(name, token)
	}
	return token
}

// Unlisten removes the listener registered under token.
func (x *Host) Unlisten(h Handle, name string, token uint64) bool {
	c := x.allowed(h, OpUnlisten)
	if c == nil {
		return false
	}
	ok := x.router.Unlisten(name, token)
	if ok && c.owner != nil {
		c.owner.removeToken(token)
	}
	return ok
}

// Reply delivers result through the context's reply slot. A context
// replies at most once; an AutoRelease context is released by its reply,
// after which h no longer resolves.
func (x *Host) Reply(h Handle, result *ipc.Result) bool {
	c := x.allowed(h, OpReply)
	if c == nil {
		return false
	}
	x.mu.Lock()
	if c.reply == nil || c.replied {
		x.mu.Unlock()
		slog.Warn(fmt.Sprintf("%s - %s has no reply slot to use", logPrefix, h))
		return false
	}
	c.replied = true
	reply := c.reply
	c.reply = nil
	mode := c.mode
	msg := c.msg
	x.mu.Unlock()

	if result == nil {
		result = ipc.NewResult(msg)
	}
	delivered := reply(result)
	if mode == AutoRelease {
		x.Release(h)
	}
	return delivered
}

// Release consumes h: the context's arena is freed and h stops resolving.
// It reports false for a handle already released.
func (x *Host) Release(h Handle) bool {
	x.mu.Lock()
	c := x.table.remove(h)
	if c != nil {
		c.state = StateReleased
		c.arena.Free()
		c.reply = nil
		c.msg = nil
	}
	x.mu.Unlock()
	if c == nil {
		return false
	}
	slog.Debug(fmt.Sprintf("%s - released %s (id=%s)", logPrefix, h, c.id))
	return true
}

// Invoke dispatches uri through the router on behalf of h.
func (x *Host) Invoke(h Handle, uri string, body []byte, onResult ipc.ResultFunc) bool {
	if x.resolve(h) == nil {
		return false
	}
	return x.router.Invoke(context.Background(), x.router.Codec().Normalize(uri), body, onResult)
}

// SendJSON delivers value as the reply for seq.
func (x *Host) SendJSON(h Handle, seq string, value jsonvalue.Value) bool {
	if x.resolve(h) == nil {
		return false
	}
	return x.router.Send(context.Background(), seq, value.JSON(), ipc.Post{})
}

// SendBytes delivers a copy of body with the headers parsed from
// headerBlock ("Name: value" lines) as the reply for seq. Empty bodies are
// rejected.
func (x *Host) SendBytes(h Handle, seq string, body []byte, headerBlock string) bool {
	if x.resolve(h) == nil {
		return false
	}
	if len(body) == 0 {
		slog.Warn(fmt.Sprintf("%s - refusing to send empty body for seq %q", logPrefix, seq))
		return false
	}
	if seq == "" {
		seq = ipc.SentinelSeq
	}
	post := ipc.Post{
		Body:    append([]byte(nil), body...),
		Headers: ipc.ParseHeaders(headerBlock),
	}
	return x.router.Send(context.Background(), seq, "", post)
}

// Emit broadcasts data to the listeners on name.
func (x *Host) Emit(h Handle, name, data string) bool {
	if x.resolve(h) == nil {
		return false
	}
	return x.router.Emit(context.Background(), name, data)
}

// ResultCreate allocates an empty result addressed to msg in h's arena.
// It returns nil when h is released or its arena is exhausted.
func (x *Host) ResultCreate(h Handle, msg *ipc.Message) *ipc.Result {
	c := x.resolve(h)
	if c == nil {
		return nil
	}
	r := ipc.NewResult(msg)
	if err := x.alloc(c, r); err != nil {
		return nil
	}
	return r
}

// ResultFromJSON allocates a result for msg built from value in h's arena.
func (x *Host) ResultFromJSON(h Handle, msg *ipc.Message, value jsonvalue.Value) *ipc.Result {
	c := x.resolve(h)
	if c == nil {
		return nil
	}
	seq := ipc.SentinelSeq
	if msg != nil {
		seq = msg.Seq()
	}
	r := ipc.ResultFromValue(seq, value, ipc.Post{})
	r.SetMessage(msg)
	if err := x.alloc(c, r); err != nil {
		return nil
	}
	return r
}

func (x *Host) resolve(h Handle) *callContext {
	x.mu.Lock()
	defer x.mu.Unlock()
	c := x.table.lookup(h)
	if c == nil {
		slog.Warn(fmt.Sprintf("%s - call on released context %s", logPrefix, h))
	}
	return c
}

func (x *Host) alloc(c *callContext, obj any) error {
	x.mu.Lock()
	err := c.arena.Alloc(obj)
	x.mu.Unlock()
	if err != nil {
		slog.Error(fmt.Sprintf("%s - allocation failed in context %s: %v", logPrefix, c.id, err))
	}
	return err
}

// activate moves an Init context to Active, closing its map window.
func (x *Host) activate(h Handle) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if c := x.table.lookup(h); c != nil && c.state == StateInit {
		c.state = StateActive
	}
}

// Arg returns msg's decoded argument. Empty values read as absent.
func Arg(msg *ipc.Message, key string) (string, bool) {
	if msg == nil {
		return "", false
	}
	v, ok := msg.Decode(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
