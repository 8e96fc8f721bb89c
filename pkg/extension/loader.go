package extension

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const loaderLogPrefix = "extension:loader"

// Extension is a loadable unit of routes and listeners.
type Extension interface {
	Manifest() Manifest
	// Init registers the extension's routes and listeners through h, an
	// Init-state context that stays usable (but can no longer map) once
	// Init returns.
	Init(host *Host, h Handle) error
}

// Deinitializer is implemented by extensions that need a hook on unload.
type Deinitializer interface {
	Deinit(host *Host, h Handle)
}

// Instance is one loaded extension.
type Instance struct {
	ID       string
	Manifest Manifest
	Caps     CapabilitySet
	Handle   Handle

	ext Extension

	mu     sync.Mutex
	routes map[string]struct{}
	tokens map[uint64]string
}

func (i *Instance) addRoute(name string) {
	i.mu.Lock()
	i.routes[name] = struct{}{}
	i.mu.Unlock()
}

func (i *Instance) removeRoute(name string) {
	i.mu.Lock()
	delete(i.routes, name)
	i.mu.Unlock()
}

func (i *Instance) addToken(name string, token uint64) {
	i.mu.Lock()
	i.tokens[token] = name
	i.mu.Unlock()
}

func (i *Instance) removeToken(token uint64) {
	i.mu.Lock()
	delete(i.tokens, token)
	i.mu.Unlock()
}

// Routes returns the route names the instance currently owns, sorted.
func (i *Instance) Routes() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.routes))
	for n := range i.routes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Load validates ext's manifest, opens its load context with the
// manifest capabilities limited to the allowlist and runs Init.
func (x *Host) Load(ext Extension) (*Instance, error) {
	m := ext.Manifest()
	if err := m.Validate(x.abiVersion); err != nil {
		return nil, err
	}

	x.mu.Lock()
	_, dup := x.instances[m.Name]
	_, pending := x.loading[m.Name]
	if !dup && !pending {
		x.loading[m.Name] = struct{}{}
	}
	x.mu.Unlock()
	if dup || pending {
		return nil, fmt.Errorf("%s - extension %s already loaded", loaderLogPrefix, m.Name)
	}
	defer func() {
		x.mu.Lock()
		delete(x.loading, m.Name)
		x.mu.Unlock()
	}()

	inst := &Instance{
		ID:       uuid.NewString(),
		Manifest: m,
		Caps:     NewCapabilitySet(m.Capabilities...).Intersect(x.allowlist),
		ext:      ext,
		routes:   make(map[string]struct{}),
		tokens:   make(map[uint64]string),
	}
	inst.Handle = x.newContext(&callContext{
		state: StateInit,
		mode:  CallerManaged,
		caps:  inst.Caps,
		owner: inst,
	})

	if err := ext.Init(x, inst.Handle); err != nil {
		x.teardown(inst)
		return nil, fmt.Errorf("%s - init of %s failed: %w", loaderLogPrefix, m.Name, err)
	}
	x.activate(inst.Handle)

	x.mu.Lock()
	x.instances[m.Name] = inst
	x.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - loaded %s %s (id=%s, caps=%v, routes=%v)",
		loaderLogPrefix, m.Name, m.Version, inst.ID, inst.Caps.Names(), inst.Routes()))
	return inst, nil
}

// Unload runs the extension's Deinit hook, removes everything it
// registered and releases its load context.
func (x *Host) Unload(name string) bool {
	x.mu.Lock()
	inst, ok := x.instances[name]
	delete(x.instances, name)
	x.mu.Unlock()
	if !ok {
		return false
	}
	if d, ok := inst.ext.(Deinitializer); ok {
		d.Deinit(x, inst.Handle)
	}
	x.teardown(inst)
	slog.Info(fmt.Sprintf("%s - unloaded %s (id=%s)", loaderLogPrefix, name, inst.ID))
	return true
}

// UnloadAll unloads every instance.
func (x *Host) UnloadAll() {
	for _, inst := range x.Instances() {
		x.Unload(inst.Manifest.Name)
	}
}

func (x *Host) teardown(inst *Instance) {
	inst.mu.Lock()
	routes := inst.routes
	tokens := inst.tokens
	inst.routes = make(map[string]struct{})
	inst.tokens = make(map[uint64]string)
	inst.mu.Unlock()

	for name := range routes {
		x.router.Unmap(name)
	}
	for token, name := range tokens {
		x.router.Unlisten(name, token)
	}
	x.Release(inst.Handle)
}

// Instances returns the loaded extensions sorted by name.
func (x *Host) Instances() []*Instance {
	x.mu.Lock()
	out := make([]*Instance, 0, len(x.instances))
	for _, inst := range x.instances {
		out = append(out, inst)
	}
	x.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}
