package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// journal records hook calls across plugins in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// count returns how many entries equal entry.
func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.list() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

// index returns the position of entry, or -1.
func (j *journal) index(entry string) int {
	for i, e := range j.list() {
		if e == entry {
			return i
		}
	}
	return -1
}

type testPlugin struct {
	id string
	j  *journal

	fail     map[string]error
	panicOn  string
	block    chan struct{}
	onUnload func(ctx context.Context) error
	bindings []plugins.Binding
}

func (p *testPlugin) run(ctx context.Context, hook string) error {
	p.j.add("%s.%s", p.id, hook)
	if p.panicOn == hook {
		panic(p.id + " exploded in " + hook)
	}
	return p.fail[hook]
}

func (p *testPlugin) LoadPlugin(ctx context.Context) error {
	if p.block != nil {
		p.j.add("%s.load_plugin", p.id)
		select {
		case <-p.block:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.run(ctx, "load_plugin")
}

func (p *testPlugin) EndLoadPlugin(ctx context.Context) error {
	return p.run(ctx, "end_load_plugin")
}

func (p *testPlugin) UnloadPlugin(ctx context.Context) error {
	if p.onUnload != nil {
		if err := p.onUnload(ctx); err != nil {
			return err
		}
	}
	return p.run(ctx, "unload_plugin")
}

func (p *testPlugin) EndUnloadPlugin(ctx context.Context) error {
	return p.run(ctx, "end_unload_plugin")
}

func (p *testPlugin) DependencyInjected(ctx context.Context, dep plugins.Instance) error {
	p.j.add("%s.dependency_injected:%s", p.id, dep.ID())
	return p.fail["dependency_injected"]
}

func (p *testPlugin) LoadAllowed(ctx context.Context, provider plugins.Instance, capability string) error {
	p.j.add("%s.load_allowed:%s:%s", p.id, provider.ID(), capability)
	return p.fail["load_allowed"]
}

func (p *testPlugin) UnloadAllowed(ctx context.Context, provider plugins.Instance, capability string) error {
	p.j.add("%s.unload_allowed:%s:%s", p.id, provider.ID(), capability)
	return p.fail["unload_allowed"]
}

func (p *testPlugin) HandleEvent(ctx context.Context, event string, args ...any) error {
	p.j.add("%s.event:%s:%v", p.id, event, args)
	return nil
}

func (p *testPlugin) Bindings() []plugins.Binding { return p.bindings }

// fixture is a manager whose plugins are testPlugins writing to one journal.
type fixture struct {
	t   *testing.T
	m   *Manager
	j   *journal
	mu  sync.Mutex
	cfg map[string]func(*testPlugin)
	// last holds the most recent implementation created per plugin id
	last map[string]*testPlugin
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	f := &fixture{
		t:    t,
		j:    &journal{},
		cfg:  make(map[string]func(*testPlugin)),
		last: make(map[string]*testPlugin),
	}
	f.m = NewManager(append([]Option{WithLogger(log)}, opts...)...)
	return f
}

// configure customizes every future implementation of id.
func (f *fixture) configure(id string, fn func(*testPlugin)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg[id] = fn
}

func (f *fixture) plugin(id string) *testPlugin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[id]
}

// add registers a factory for each descriptor that lacks one and adds it.
func (f *fixture) add(descs ...*plugins.Descriptor) {
	f.t.Helper()
	for _, d := range descs {
		if _, ok := f.m.Factories().Lookup(d.ID); !ok {
			require.NoError(f.t, f.m.Factories().Register(d.ID, f.factory))
		}
	}
	f.m.Add(descs...)
}

func (f *fixture) factory(desc *plugins.Descriptor) (plugins.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := &testPlugin{id: desc.ID, j: f.j, fail: make(map[string]error)}
	if fn := f.cfg[desc.ID]; fn != nil {
		fn(p)
	}
	f.last[desc.ID] = p
	return p, nil
}

func (f *fixture) state(id string) State {
	f.t.Helper()
	st, ok := f.m.Controller().State(id)
	require.True(f.t, ok, "unknown plugin %s", id)
	return st
}

// desc builds a descriptor. Dependencies are written "id@range".
func desc(id, version string, deps ...string) *plugins.Descriptor {
	d := &plugins.Descriptor{
		ID:      id,
		Name:    id,
		Version: plugins.MustParseVersion(version),
	}
	for _, dep := range deps {
		depID, rng, _ := strings.Cut(dep, "@")
		if rng == "" {
			rng = "*"
		}
		d.Dependencies = append(d.Dependencies, plugins.Dependency{
			PluginID: depID,
			Range:    plugins.MustParseVersionRange(rng),
		})
	}
	return d
}

func withCaps(d *plugins.Descriptor, caps ...string) *plugins.Descriptor {
	d.Capabilities = append(d.Capabilities, caps...)
	return d
}

func withAllowed(d *plugins.Descriptor, patterns ...string) *plugins.Descriptor {
	d.CapabilitiesAllowed = append(d.CapabilitiesAllowed, patterns...)
	return d
}
