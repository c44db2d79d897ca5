package host

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/platinummonkey/axle/pkg/capabilities"
	"github.com/platinummonkey/axle/pkg/dependencies"
	"github.com/platinummonkey/axle/pkg/events"
	"github.com/platinummonkey/axle/pkg/injection"
	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultDebounce    = 500 * time.Millisecond
)

// Manager is the entry point of the runtime. It owns the descriptor sources,
// the lifecycle controller and the capability, injection and event wiring.
type Manager struct {
	log         *logrus.Logger
	metrics     *observability.Metrics
	factories   *FactoryRegistry
	sources     []plugins.Source
	loader      *plugins.Loader
	platforms   []string
	checker     plugins.PackageChecker
	concurrency int
	hookTimeout time.Duration
	debounce    time.Duration
	rescan      string

	caps     *capabilities.Registry
	injector *injection.Injector
	bus      *events.Bus
	ctrl     *Controller

	// syncMu serializes discovery and source synchronization
	syncMu     sync.Mutex
	discovered map[string]bool
	stale      map[string]bool
}

// Failure is one plugin that did not load.
type Failure struct {
	ID     string               `json:"id"`
	Kind   string               `json:"kind,omitempty"`
	Reason string               `json:"reason"`
	Err    *plugins.PluginError `json:"-"`
}

// Report summarizes a bulk operation.
type Report struct {
	Loaded   []string  `json:"loaded"`
	Unloaded []string  `json:"unloaded,omitempty"`
	Failed   []Failure `json:"failed,omitempty"`
}

// OK reports whether nothing failed.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

func (r *Report) fail(id string, err error) {
	f := Failure{ID: id, Reason: err.Error()}
	if pe, ok := plugins.AsPluginError(err); ok {
		f.Err = pe
	}
	if kind := plugins.Kind(err); kind != nil {
		f.Kind = kind.Error()
	}
	r.Failed = append(r.Failed, f)
}

func (r *Report) sort() {
	slices.Sort(r.Loaded)
	slices.Sort(r.Unloaded)
	slices.SortFunc(r.Failed, func(a, b Failure) int { return cmp.Compare(a.ID, b.ID) })
}

// DiscoveryReport is the outcome of Discover.
type DiscoveryReport struct {
	Accepted []string `json:"accepted"`
	// Changed lists accepted plugins that are new or whose descriptor changed.
	Changed  []string  `json:"changed,omitempty"`
	Rejected []Failure `json:"rejected,omitempty"`
	// Removed lists plugins that disappeared from every source.
	Removed []string `json:"removed,omitempty"`
}

// NewManager creates a manager. Without sources, plugins are only known
// through Add.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		concurrency: defaultConcurrency,
		debounce:    defaultDebounce,
		discovered:  make(map[string]bool),
		stale:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.New()
	}
	if m.factories == nil {
		m.factories = NewFactoryRegistry()
	}
	if m.loader == nil {
		var loaderOpts []plugins.LoaderOption
		if len(m.platforms) > 0 {
			loaderOpts = append(loaderOpts, plugins.WithPlatforms(m.platforms...))
		}
		if m.checker != nil {
			loaderOpts = append(loaderOpts, plugins.WithPackageChecker(m.checker))
		}
		m.loader = plugins.NewLoader(m.log, loaderOpts...)
	}

	m.caps = capabilities.NewRegistry(m.log, m.metrics)
	m.injector = injection.NewInjector(m.log)
	m.bus = events.NewBus(m.log, m.metrics)
	m.ctrl = NewController(ControllerConfig{
		Factories:    m.factories,
		Capabilities: m.caps,
		Injector:     m.injector,
		Bus:          m.bus,
		Log:          m.log,
		Metrics:      m.metrics,
		HookTimeout:  m.hookTimeout,
	})
	return m
}

// Factories returns the registry plugin constructors are registered in.
func (m *Manager) Factories() *FactoryRegistry { return m.factories }

// Controller exposes the lifecycle controller.
func (m *Manager) Controller() *Controller { return m.ctrl }

// Discover reads every source and registers the accepted descriptors.
// Malformed and unsupported manifests are reported and never block the rest.
// Plugins missing from every source are forgotten once they are not live.
func (m *Manager) Discover(ctx context.Context) (*DiscoveryReport, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.discover(ctx)
}

func (m *Manager) discover(ctx context.Context) (*DiscoveryReport, error) {
	start := time.Now()

	var manifests []*plugins.Manifest
	for _, src := range m.sources {
		found, err := src.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to discover plugins: %w", err)
		}
		manifests = append(manifests, found...)
	}

	batch := m.loader.LoadBatch(manifests)
	report := &DiscoveryReport{}
	seen := make(map[string]bool, len(batch.Descriptors))
	for _, desc := range batch.Descriptors {
		seen[desc.ID] = true
		report.Accepted = append(report.Accepted, desc.ID)
	}
	report.Changed = m.Add(batch.Descriptors...)
	for _, pe := range batch.Rejected {
		report.Rejected = append(report.Rejected, Failure{
			ID:     pe.PluginID,
			Kind:   plugins.Kind(pe).Error(),
			Reason: pe.Error(),
			Err:    pe,
		})
	}

	for id := range m.discovered {
		if seen[id] {
			continue
		}
		if err := m.ctrl.Remove(id); err != nil {
			if errors.Is(err, plugins.ErrPluginNotFound) {
				delete(m.discovered, id)
				continue
			}
			m.stale[id] = true
			continue
		}
		delete(m.discovered, id)
		delete(m.stale, id)
		report.Removed = append(report.Removed, id)
	}
	for id := range seen {
		m.discovered[id] = true
		delete(m.stale, id)
	}
	if len(report.Removed) > 0 {
		m.ctrl.ResetRejected()
	}

	slices.Sort(report.Accepted)
	slices.Sort(report.Removed)
	m.metrics.ObserveDiscovery(len(batch.Descriptors), len(batch.Rejected), time.Since(start))
	m.log.WithFields(logrus.Fields{
		"accepted": len(report.Accepted),
		"rejected": len(report.Rejected),
		"removed":  len(report.Removed),
	}).Info("Plugin discovery complete")
	return report, nil
}

// Add registers descriptors directly and returns the ids that are new or
// changed. Dependency rejections are reconsidered whenever the set changes.
func (m *Manager) Add(descs ...*plugins.Descriptor) []string {
	var changed []string
	for _, desc := range descs {
		if desc == nil {
			continue
		}
		if m.ctrl.Add(desc) {
			changed = append(changed, desc.ID)
		}
	}
	if len(changed) > 0 {
		m.ctrl.ResetRejected()
	}
	slices.Sort(changed)
	return changed
}

// Remove unloads id if needed and forgets it.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.ctrl.Unload(ctx, id, UnloadOptions{}); err != nil && !errors.Is(err, plugins.ErrNotLoaded) {
		return err
	}
	if err := m.ctrl.Remove(id); err != nil {
		return err
	}
	m.syncMu.Lock()
	delete(m.discovered, id)
	delete(m.stale, id)
	m.syncMu.Unlock()
	m.ctrl.ResetRejected()
	return nil
}

// Load resolves the current descriptor set and loads id with its hard
// dependencies. A plugin the resolver rejects becomes INVALID.
func (m *Manager) Load(ctx context.Context, id string) error {
	res := dependencies.Resolve(m.ctrl.Descriptors())
	if res.Graph.Node(id) == nil {
		return notFound(id)
	}
	if pe, rejected := res.Rejected[id]; rejected {
		m.ctrl.Invalidate(ctx, id, pe)
		if st, ok := m.ctrl.State(id); ok && st == StateLoaded {
			return nil
		}
		return pe
	}
	return m.ctrl.Load(ctx, id)
}

// Unload unloads id.
func (m *Manager) Unload(ctx context.Context, id string, opts UnloadOptions) error {
	return m.ctrl.Unload(ctx, id, opts)
}

// Reload re-reads the descriptor of id from the sources and reloads the
// plugin with it. A descriptor that no longer loads leaves the plugin as it
// is. Plugins only known through Add reload with their current descriptor.
func (m *Manager) Reload(ctx context.Context, id string, opts UnloadOptions) error {
	desc, err := m.reread(ctx, id)
	if err != nil {
		return err
	}
	if desc != nil {
		m.ctrl.ResetRejected()
	}
	return m.ctrl.Reload(ctx, id, desc, opts)
}

func (m *Manager) reread(ctx context.Context, id string) (*plugins.Descriptor, error) {
	if _, ok := m.ctrl.State(id); !ok {
		return nil, notFound(id)
	}
	if len(m.sources) == 0 {
		return nil, nil
	}

	manifest, err := plugins.MultiSource(m.sources).Read(ctx, id)
	if err != nil {
		if errors.Is(err, plugins.ErrPluginNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to re-read plugin %s: %w", id, err)
	}
	desc, err := m.loader.Load(manifest)
	if err != nil {
		return nil, err
	}
	if desc.ID != id {
		return nil, plugins.NewPluginError(plugins.ErrMalformedDescriptor, id,
			fmt.Sprintf("manifest now declares id %q", desc.ID))
	}
	return desc, nil
}

// LoadAll resolves every known plugin and loads the accepted ones level by
// level. Plugins of one level load concurrently; a failure only affects the
// failing plugin and its dependents.
func (m *Manager) LoadAll(ctx context.Context) *Report {
	report := &Report{}
	res := dependencies.Resolve(m.ctrl.Descriptors())

	for id, pe := range res.Rejected {
		if st, ok := m.ctrl.State(id); ok && st == StateLoaded {
			continue
		}
		m.ctrl.Invalidate(ctx, id, pe)
		report.fail(id, pe)
	}

	var mu sync.Mutex
	for _, level := range res.Levels {
		if ctx.Err() != nil {
			break
		}

		var g errgroup.Group
		g.SetLimit(m.concurrency)
		for _, id := range level {
			g.Go(func() error {
				err := m.ctrl.Load(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.fail(id, err)
				} else {
					report.Loaded = append(report.Loaded, id)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	report.sort()
	m.log.WithFields(logrus.Fields{
		"loaded": len(report.Loaded),
		"failed": len(report.Failed),
	}).Info("Loaded plugins")
	return report
}

// UnloadAll unloads every live plugin, dependents first.
func (m *Manager) UnloadAll(ctx context.Context) *Report {
	report := &Report{}
	g := dependencies.BuildGraph(m.ctrl.Descriptors())

	var live []string
	for id, state := range m.ctrl.States() {
		if State(state) != StateUnloaded && State(state) != StateInvalid {
			live = append(live, id)
		}
	}

	for _, id := range g.UnloadOrder(live) {
		if err := m.ctrl.Unload(ctx, id, UnloadOptions{}); err != nil {
			if errors.Is(err, plugins.ErrNotLoaded) {
				continue
			}
			report.fail(id, err)
			continue
		}
		report.Unloaded = append(report.Unloaded, id)
	}
	report.sort()
	return report
}

// Sync discovers again and brings the live set in line with the sources:
// vanished plugins are unloaded and forgotten, updated ones reloaded along
// with their dependents, and new ones loaded.
func (m *Manager) Sync(ctx context.Context) (*Report, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	discovery, err := m.discover(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{}

	stale := make([]string, 0, len(m.stale))
	for id := range m.stale {
		stale = append(stale, id)
	}
	slices.Sort(stale)
	for _, id := range stale {
		if err := m.ctrl.Unload(ctx, id, UnloadOptions{Cascade: true}); err != nil && !errors.Is(err, plugins.ErrNotLoaded) {
			report.fail(id, err)
			continue
		}
		if err := m.ctrl.Remove(id); err != nil {
			report.fail(id, err)
			continue
		}
		delete(m.stale, id)
		delete(m.discovered, id)
		report.Unloaded = append(report.Unloaded, id)
	}

	for _, st := range m.ctrl.Statuses() {
		if !st.PendingUpdate || st.State != StateLoaded {
			continue
		}
		if err := m.ctrl.Reload(ctx, st.ID, nil, UnloadOptions{Cascade: true}); err != nil {
			report.fail(st.ID, err)
		}
	}

	loaded := m.LoadAll(ctx)
	report.Loaded = loaded.Loaded
	report.Failed = append(report.Failed, loaded.Failed...)
	report.sort()

	m.log.WithFields(logrus.Fields{
		"changed":  len(discovery.Changed),
		"removed":  len(report.Unloaded),
		"failures": len(report.Failed),
	}).Info("Synchronized plugins with sources")
	return report, nil
}

// Watch keeps the runtime synchronized with the sources until ctx is done.
// Directory sources are watched for changes, and with a rescan schedule the
// sources are also polled.
func (m *Manager) Watch(ctx context.Context) error {
	if m.rescan != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(m.rescan, func() {
			if _, err := m.Sync(ctx); err != nil {
				m.log.WithError(err).Warn("Scheduled plugin rescan failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid rescan schedule %q: %w", m.rescan, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	var dirs []string
	for _, src := range m.sources {
		if ds, ok := src.(*plugins.DirSource); ok {
			dirs = append(dirs, ds.Dirs()...)
		}
	}
	if len(dirs) == 0 {
		<-ctx.Done()
		return nil
	}

	watcher, err := plugins.NewWatcher(dirs, m.debounce, m.log)
	if err != nil {
		return err
	}
	defer watcher.Close()

	err = watcher.Run(ctx, func(ctx context.Context, pluginDirs []string) {
		m.log.WithField("dirs", pluginDirs).Info("Plugin directories changed")
		if _, err := m.Sync(ctx); err != nil {
			m.log.WithError(err).Warn("Plugin resync failed")
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// List returns the status of every plugin, sorted by id.
func (m *Manager) List() []Status { return m.ctrl.Statuses() }

// Get returns the status of id.
func (m *Manager) Get(id string) (Status, error) { return m.ctrl.Status(id) }

// States maps plugin ids to state names.
func (m *Manager) States() map[string]string { return m.ctrl.States() }

// Publish delivers event to every interested handler.
func (m *Manager) Publish(ctx context.Context, event string, args ...any) error {
	return m.bus.Publish(ctx, event, args...)
}

// Subscribe registers an external handler that receives every publication
// of event.
func (m *Manager) Subscribe(event string, handler events.Handler) (events.Subscription, error) {
	return m.bus.Subscribe("", event, handler)
}

// Unsubscribe removes an external handler.
func (m *Manager) Unsubscribe(sub events.Subscription) error {
	return m.bus.Unsubscribe(sub)
}

// Subscriptions returns the handlers of event in delivery order.
func (m *Manager) Subscriptions(event string) []events.Subscription {
	return m.bus.Subscriptions(event)
}

// Graph returns the dependency graph of every known plugin, including the
// capability links delivered so far.
func (m *Manager) Graph() *dependencies.Graph {
	g := dependencies.BuildGraph(m.ctrl.Descriptors())
	for _, l := range m.caps.Links() {
		g.AddCapabilityEdge(l.Consumer, l.Provider, l.Capability)
	}
	return g
}

// ProvidedCapability is a capability and the plugins providing it.
type ProvidedCapability struct {
	Name      string   `json:"name"`
	Providers []string `json:"providers"`
}

// Capabilities lists every provided capability.
func (m *Manager) Capabilities() []ProvidedCapability {
	var out []ProvidedCapability
	for _, name := range m.caps.Capabilities() {
		pc := ProvidedCapability{Name: name}
		for _, p := range m.caps.Providers(name) {
			if p.Capability == name && !slices.Contains(pc.Providers, p.Provider.ID()) {
				pc.Providers = append(pc.Providers, p.Provider.ID())
			}
		}
		out = append(out, pc)
	}
	return out
}

// Links lists delivered capabilities by consumer.
func (m *Manager) Links() []capabilities.Link { return m.caps.Links() }
