package host

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/axle/pkg/capabilities"
	"github.com/platinummonkey/axle/pkg/contextkeys"
	"github.com/platinummonkey/axle/pkg/dependencies"
	"github.com/platinummonkey/axle/pkg/events"
	"github.com/platinummonkey/axle/pkg/injection"
	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/axle/pkg/host"

// maxCallbackErrors bounds the capability callback failures kept per plugin.
const maxCallbackErrors = 10

// UnloadOptions controls Unload and Reload.
type UnloadOptions struct {
	// Cascade unloads loaded dependents first instead of failing with
	// ErrUnloadBlocked. Reload loads them again afterwards.
	Cascade bool
}

type record struct {
	desc *plugins.Descriptor
	// pending is a newer descriptor that takes effect on the next reload
	pending  *plugins.Descriptor
	state    State
	err      *plugins.PluginError
	inst     *Instance
	injected map[string]plugins.Instance
	cbErrs   []string
	// done is non-nil while a transition is in flight and closed when it ends
	done   chan struct{}
	cancel context.CancelFunc
	// cancelled is the done channel of the last load an unload cancelled.
	// Callers that were waiting on that load give up instead of retrying it.
	cancelled chan struct{}
	loadedAt  time.Time
	updatedAt time.Time
}

// ControllerConfig wires a Controller to its collaborators. Nil fields get
// fresh defaults.
type ControllerConfig struct {
	Factories    *FactoryRegistry
	Capabilities *capabilities.Registry
	Injector     *injection.Injector
	Bus          *events.Bus
	Log          *logrus.Logger
	Metrics      *observability.Metrics
	// HookTimeout bounds every plugin hook through its context. Zero means no limit.
	HookTimeout time.Duration
}

// Controller drives every plugin through its lifecycle state machine.
//
// mu guards the records. wiring serializes capability provide/withdraw,
// subscriptions, injector rebinds and event bus registration. wiring is
// always acquired before mu. Hooks run on the calling goroutine with neither
// lock held; capability callbacks run with wiring held and must not call
// back into the controller.
type Controller struct {
	mu      sync.Mutex
	wiring  sync.Mutex
	records map[string]*record
	seq     uint64

	factories   *FactoryRegistry
	caps        *capabilities.Registry
	injector    *injection.Injector
	bus         *events.Bus
	log         *logrus.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
	hookTimeout time.Duration
}

// NewController creates a controller with no plugins.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	if cfg.Factories == nil {
		cfg.Factories = NewFactoryRegistry()
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = capabilities.NewRegistry(cfg.Log, cfg.Metrics)
	}
	if cfg.Injector == nil {
		cfg.Injector = injection.NewInjector(cfg.Log)
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus(cfg.Log, cfg.Metrics)
	}
	return &Controller{
		records:     make(map[string]*record),
		factories:   cfg.Factories,
		caps:        cfg.Capabilities,
		injector:    cfg.Injector,
		bus:         cfg.Bus,
		log:         cfg.Log,
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer(tracerName),
		hookTimeout: cfg.HookTimeout,
	}
}

// Add registers desc, or updates the descriptor of a known plugin. An
// unloaded or INVALID plugin takes the new descriptor immediately (INVALID is
// reset when the descriptor changed); a live plugin keeps it for its next
// reload. Add reports whether anything changed.
func (c *Controller) Add(desc *plugins.Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[desc.ID]
	if !ok {
		c.records[desc.ID] = &record{desc: desc, state: StateUnloaded, updatedAt: time.Now()}
		c.updateStateMetricsLocked()
		return true
	}

	switch rec.state {
	case StateUnloaded, StateInvalid:
		if reflect.DeepEqual(rec.desc, desc) {
			return false
		}
		rec.desc = desc
		rec.pending = nil
		if rec.state == StateInvalid {
			c.setStateLocked(rec, StateUnloaded)
			rec.err = nil
		}
		return true
	default:
		if reflect.DeepEqual(rec.desc, desc) || reflect.DeepEqual(rec.pending, desc) {
			return false
		}
		rec.pending = desc
		return true
	}
}

// Remove forgets a plugin that is not live.
func (c *Controller) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return notFound(id)
	}
	if rec.state != StateUnloaded && rec.state != StateInvalid {
		return plugins.NewPluginError(plugins.ErrInvalidState, id, fmt.Sprintf("cannot remove a %s plugin", rec.state))
	}
	delete(c.records, id)
	c.updateStateMetricsLocked()
	return nil
}

// Invalidate marks an unloaded plugin INVALID with a resolution error.
func (c *Controller) Invalidate(ctx context.Context, id string, pe *plugins.PluginError) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok || rec.state != StateUnloaded {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(rec, StateResolving)
	c.setStateLocked(rec, StateInvalid)
	rec.err = pe
	c.mu.Unlock()

	c.log.WithField("plugin", id).Warnf("Plugin rejected: %v", pe)
	c.publish(ctx, events.PluginInvalid, id)
}

// ResetRejected moves INVALID plugins rejected for dependency reasons back to
// UNLOADED so the next resolution can reconsider them.
func (c *Controller) ResetRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.records {
		if rec.state != StateInvalid || rec.err == nil {
			continue
		}
		switch plugins.Kind(rec.err) {
		case plugins.ErrMissingDependency, plugins.ErrIncompatibleVersion, plugins.ErrCircularDependency:
			c.setStateLocked(rec, StateUnloaded)
			rec.err = nil
		}
	}
}

// Load brings id to LOADED, loading its hard dependencies first. It is a
// no-op for a loaded plugin, returns the recorded error for an INVALID one
// and waits for a transition already in flight.
func (c *Controller) Load(ctx context.Context, id string) error {
	ctx, span := c.tracer.Start(ctx, "host.Load", trace.WithAttributes(attribute.String("plugin.id", id)))
	defer span.End()

	start := time.Now()
	err := c.load(ctx, id, nil)
	c.metrics.ObserveTransition("load", resultLabel(err), time.Since(start))
	endSpan(span, err)
	return err
}

func (c *Controller) load(ctx context.Context, id string, path []string) error {
	if i := slices.Index(path, id); i >= 0 {
		cycle := append(slices.Clone(path[i:]), id)
		pe := plugins.NewPluginError(plugins.ErrCircularDependency, id, strings.Join(cycle, " -> "))
		pe.Chain = cycle
		return pe
	}

	for {
		c.mu.Lock()
		rec, ok := c.records[id]
		if !ok {
			c.mu.Unlock()
			return notFound(id)
		}

		switch rec.state {
		case StateLoaded:
			c.mu.Unlock()
			return nil
		case StateInvalid:
			pe := rec.err
			c.mu.Unlock()
			if pe == nil {
				return plugins.NewPluginError(plugins.ErrInvalidState, id, "plugin is INVALID")
			}
			return pe
		case StateUnloaded:
			if err := ctx.Err(); err != nil {
				c.mu.Unlock()
				return aborted(id, err)
			}
			return c.runLoad(ctx, rec, append(slices.Clone(path), id))
		default:
			done := rec.done
			c.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return aborted(id, ctx.Err())
			}

			c.mu.Lock()
			unloaded := rec.cancelled == done && done != nil
			c.mu.Unlock()
			if unloaded {
				return aborted(id, fmt.Errorf("load of %s was cancelled by an unload", id))
			}
		}
	}
}

// runLoad is entered with c.mu held and rec UNLOADED.
func (c *Controller) runLoad(ctx context.Context, rec *record, path []string) error {
	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	rec.done = done
	rec.cancel = cancel
	rec.err = nil
	rec.cbErrs = nil
	rec.injected = make(map[string]plugins.Instance)
	desc := rec.desc
	c.setStateLocked(rec, StateResolving)
	c.mu.Unlock()

	log := c.log.WithField("plugin", desc.ID)
	log.Debug("Loading plugin")

	inst, err := c.doLoad(loadCtx, desc, path)
	if err == nil {
		if err = c.finishLoad(loadCtx, rec, inst); err == nil {
			log.WithField("instance", inst.InstanceID()).Info("Plugin loaded")
			c.publish(ctx, events.PluginLoaded, desc.ID)
			return nil
		}
	}

	pe, ok := plugins.AsPluginError(err)
	if !ok {
		pe = plugins.NewPluginError(plugins.ErrHookFailure, desc.ID, err.Error())
		pe.Err = err
	}

	c.mu.Lock()
	rec.err = pe
	rec.injected = nil
	rec.cancel = nil
	rec.done = nil
	invalid := !errors.Is(pe, plugins.ErrLoadAborted) && !errors.Is(pe, plugins.ErrDependencyFailed)
	if invalid {
		c.setStateLocked(rec, StateInvalid)
	} else {
		c.setStateLocked(rec, StateUnloaded)
	}
	close(done)
	c.mu.Unlock()

	if invalid {
		log.WithError(pe).Error("Plugin is invalid")
		c.publish(ctx, events.PluginInvalid, desc.ID)
	} else {
		log.WithError(pe).Info("Plugin load did not complete")
	}
	return pe
}

// doLoad resolves dependencies and runs the load hooks. On error everything
// it wired is rolled back.
func (c *Controller) doLoad(ctx context.Context, desc *plugins.Descriptor, path []string) (*Instance, error) {
	id := desc.ID

	for _, dep := range desc.Dependencies {
		c.mu.Lock()
		var provider *plugins.Descriptor
		if depRec, ok := c.records[dep.PluginID]; ok {
			provider = depRec.desc
		}
		c.mu.Unlock()

		if pe := dependencies.CheckDependency(id, dep, provider); pe != nil {
			return nil, pe
		}
		if err := c.load(ctx, dep.PluginID, path); err != nil {
			return nil, c.dependencyError(ctx, id, err)
		}
	}

	if err := c.beginLoading(ctx, desc); err != nil {
		return nil, err
	}

	p, err := c.factories.New(desc)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.seq++
	inst := newInstance(desc, p, c.seq)
	c.mu.Unlock()

	if err := c.hook(ctx, inst, "load_plugin", p.LoadPlugin); err != nil {
		return nil, err
	}
	if err := checkAborted(ctx, id); err != nil {
		return nil, err
	}

	if err := c.wire(ctx, inst); err != nil {
		c.rollback(ctx, inst)
		return nil, err
	}

	if hook, ok := p.(plugins.DependencyInjectedHook); ok {
		for _, dep := range desc.Dependencies {
			provider := c.liveInstance(dep.PluginID)
			if provider == nil {
				c.rollback(ctx, inst)
				return nil, aborted(id, fmt.Errorf("dependency %s is no longer loaded", dep.PluginID))
			}
			err := c.hook(ctx, inst, "dependency_injected", func(ctx context.Context) error {
				return hook.DependencyInjected(ctx, provider)
			})
			if err != nil {
				c.rollback(ctx, inst)
				return nil, err
			}
		}
	}

	if err := c.hook(ctx, inst, "end_load_plugin", p.EndLoadPlugin); err != nil {
		c.rollback(ctx, inst)
		return nil, err
	}
	return inst, nil
}

// dependencyError converts the failure of a dependency's load into the
// consumer's error.
func (c *Controller) dependencyError(ctx context.Context, id string, err error) error {
	if ctx.Err() != nil || errors.Is(err, plugins.ErrLoadAborted) {
		return aborted(id, err)
	}
	pe, ok := plugins.AsPluginError(err)
	if !ok {
		failed := plugins.NewPluginError(plugins.ErrDependencyFailed, id, err.Error())
		failed.Err = err
		return failed
	}
	switch plugins.Kind(pe) {
	case plugins.ErrMissingDependency, plugins.ErrIncompatibleVersion:
		return pe.Propagate(id)
	case plugins.ErrCircularDependency:
		if i := slices.Index(pe.Chain, id); i >= 0 {
			cycle := append(slices.Clone(pe.Chain[i:len(pe.Chain)-1]), pe.Chain[:i]...)
			cycle = append(cycle, id)
			own := plugins.NewPluginError(plugins.ErrCircularDependency, id, strings.Join(cycle, " -> "))
			own.Chain = cycle
			return own
		}
		return pe.Propagate(id)
	}
	// The dependency failed on its own; this plugin never ran a hook and
	// can load once the dependency is repaired.
	return pe.DependencyFailed(id)
}

// beginLoading verifies every dependency is LOADED and moves to LOADING.
func (c *Controller) beginLoading(ctx context.Context, desc *plugins.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.abortedLocked(ctx, desc); err != nil {
		return err
	}
	c.setStateLocked(c.records[desc.ID], StateLoading)
	return nil
}

// abortedLocked reports an abort when ctx was cancelled or a dependency left LOADED.
func (c *Controller) abortedLocked(ctx context.Context, desc *plugins.Descriptor) error {
	if err := checkAborted(ctx, desc.ID); err != nil {
		return err
	}
	for _, dep := range desc.Dependencies {
		depRec, ok := c.records[dep.PluginID]
		if !ok || depRec.state != StateLoaded {
			return aborted(desc.ID, fmt.Errorf("dependency %s is no longer loaded", dep.PluginID))
		}
	}
	return nil
}

// wire registers capabilities, capability subscriptions, event handlers and
// injector bindings of inst.
func (c *Controller) wire(ctx context.Context, inst *Instance) error {
	c.wiring.Lock()
	defer c.wiring.Unlock()

	desc := inst.Descriptor()
	id := desc.ID

	for _, capability := range desc.Capabilities {
		c.noteCallbackErrors(c.caps.Provide(ctx, inst, capability))
	}

	var onProvide, onWithdraw capabilities.Callback
	if consumer, ok := inst.Plugin().(plugins.CapabilityConsumer); ok {
		onProvide, onWithdraw = consumer.LoadAllowed, consumer.UnloadAllowed
	}
	for _, pattern := range desc.CapabilitiesAllowed {
		if errs := c.caps.Subscribe(ctx, inst, pattern, onProvide, onWithdraw); len(errs) > 0 {
			pe := plugins.NewPluginError(plugins.ErrHookFailure, id, errs[0].Error())
			pe.Hook = "load_allowed"
			pe.Err = errs[0].Err
			return pe
		}
	}

	c.bus.Declare(id, desc.EventsHandled)
	if handler, ok := inst.Plugin().(plugins.EventHandler); ok {
		for _, event := range desc.EventsHandled {
			if _, err := c.bus.Subscribe(id, event, handler.HandleEvent); err != nil {
				return plugins.NewPluginError(plugins.ErrMalformedDescriptor, id, err.Error())
			}
		}
	}

	instanceID := inst.InstanceID()
	for _, dep := range desc.Dependencies {
		depID := dep.PluginID
		c.injector.Bind(id, injection.ByID(depID), func(p plugins.Instance) {
			c.setInjected(id, instanceID, depID, p)
		})
	}
	if injectable, ok := inst.Plugin().(plugins.Injectable); ok {
		for _, b := range injectable.Bindings() {
			if b.Set == nil || b.Target == "" {
				continue
			}
			c.injector.Bind(id, injection.FromBinding(b), injection.Setter(b.Set))
		}
	}
	return nil
}

// finishLoad publishes inst as LOADED unless the load was aborted meanwhile.
func (c *Controller) finishLoad(ctx context.Context, rec *record, inst *Instance) error {
	c.wiring.Lock()
	defer c.wiring.Unlock()

	c.mu.Lock()
	if err := c.abortedLocked(ctx, inst.Descriptor()); err != nil {
		c.mu.Unlock()
		c.unwireLocked(ctx, inst)
		return err
	}
	rec.inst = inst
	rec.loadedAt = time.Now()
	rec.cancel = nil
	c.setStateLocked(rec, StateLoaded)
	close(rec.done)
	rec.done = nil
	c.mu.Unlock()

	c.injector.Loaded(inst)
	return nil
}

func (c *Controller) rollback(ctx context.Context, inst *Instance) {
	c.wiring.Lock()
	defer c.wiring.Unlock()
	c.unwireLocked(ctx, inst)
}

// unwireLocked undoes wire. Consumers receive unload_allowed for every
// capability inst provided. Requires c.wiring.
func (c *Controller) unwireLocked(ctx context.Context, inst *Instance) {
	ctx = context.WithoutCancel(ctx)
	id := inst.ID()

	c.injector.Unloading(inst)
	c.injector.Unbind(id)
	c.noteCallbackErrors(c.caps.WithdrawAll(ctx, inst))
	c.caps.Unsubscribe(inst)
	c.bus.RemovePlugin(id)
}

// Unload brings a loaded plugin to UNLOADED. It fails with ErrUnloadBlocked
// while loaded plugins hard-depend on id, unless opts.Cascade is set. A
// pending load of id is aborted instead.
func (c *Controller) Unload(ctx context.Context, id string, opts UnloadOptions) error {
	ctx, span := c.tracer.Start(ctx, "host.Unload", trace.WithAttributes(
		attribute.String("plugin.id", id),
		attribute.Bool("cascade", opts.Cascade),
	))
	defer span.End()

	start := time.Now()
	_, err := c.unload(ctx, id, opts.Cascade)
	c.metrics.ObserveTransition("unload", resultLabel(err), time.Since(start))
	endSpan(span, err)
	return err
}

// unload returns the dependents unloaded by a cascade, dependents first.
func (c *Controller) unload(ctx context.Context, id string, cascade bool) ([]string, error) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return nil, notFound(id)
	}

	switch rec.state {
	case StateUnloaded, StateInvalid:
		state := rec.state
		c.mu.Unlock()
		return nil, plugins.NewPluginError(plugins.ErrNotLoaded, id, fmt.Sprintf("plugin is %s", state))
	case StateResolving, StateLoading:
		pending := append(c.pendingDependentsLocked(id), c.cancelLocked(rec))
		c.mu.Unlock()
		waitPending(pending)
		return nil, nil
	case StateUnloading:
		done := rec.done
		c.mu.Unlock()
		<-done
		return nil, nil
	}

	dependents := c.loadedDependentsLocked(id)
	if len(dependents) > 0 {
		if !cascade {
			c.mu.Unlock()
			pe := plugins.NewPluginError(plugins.ErrUnloadBlocked, id,
				"required by loaded plugins: "+strings.Join(dependents, ", "))
			return nil, pe
		}

		order := c.cascadeOrderLocked(id)
		c.mu.Unlock()

		var cascaded []string
		for _, dep := range order {
			if _, err := c.unload(ctx, dep, false); err != nil {
				if errors.Is(err, plugins.ErrNotLoaded) {
					continue
				}
				return cascaded, fmt.Errorf("cascading unload of %s: %w", dep, err)
			}
			cascaded = append(cascaded, dep)
		}
		_, err := c.unload(ctx, id, false)
		return cascaded, err
	}

	done := make(chan struct{})
	rec.done = done
	inst := rec.inst
	c.setStateLocked(rec, StateUnloading)
	pending := c.pendingDependentsLocked(id)
	c.mu.Unlock()

	waitPending(pending)
	return nil, c.teardown(ctx, rec, inst, done)
}

type pendingLoad struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// cancelLocked marks the load in flight for rec as cancelled by an unload.
func (c *Controller) cancelLocked(rec *record) pendingLoad {
	rec.cancelled = rec.done
	return pendingLoad{cancel: rec.cancel, done: rec.done}
}

// waitPending cancels every pending load and waits until each has rolled back.
func waitPending(pending []pendingLoad) {
	for _, p := range pending {
		p.cancel()
	}
	for _, p := range pending {
		<-p.done
	}
}

// teardown runs the unload hooks and destroys inst.
func (c *Controller) teardown(ctx context.Context, rec *record, inst *Instance, done chan struct{}) error {
	ctx = context.WithoutCancel(ctx)
	id := inst.ID()
	log := c.log.WithFields(logrus.Fields{"plugin": id, "instance": inst.InstanceID()})

	// Consumers drop their references before the provider starts shutting down.
	c.wiring.Lock()
	c.injector.Unloading(inst)
	c.wiring.Unlock()

	hookErr := c.hook(ctx, inst, "unload_plugin", inst.Plugin().UnloadPlugin)

	c.wiring.Lock()
	c.unwireLocked(ctx, inst)
	c.wiring.Unlock()

	if err := c.hook(ctx, inst, "end_unload_plugin", inst.Plugin().EndUnloadPlugin); hookErr == nil {
		hookErr = err
	}

	c.mu.Lock()
	rec.inst = nil
	rec.injected = nil
	rec.done = nil
	var pe *plugins.PluginError
	if hookErr != nil {
		pe, _ = plugins.AsPluginError(hookErr)
		rec.err = pe
		c.setStateLocked(rec, StateInvalid)
	} else {
		rec.err = nil
		c.setStateLocked(rec, StateUnloaded)
	}
	close(done)
	c.mu.Unlock()

	log.Info("Plugin unloaded")
	c.publish(ctx, events.PluginUnloaded, id)
	if pe != nil {
		log.WithError(pe).Error("Plugin is invalid after a failed unload")
		c.publish(ctx, events.PluginInvalid, id)
		return pe
	}
	return nil
}

// Reload unloads id and loads it again with desc, or with the newest known
// descriptor when desc is nil. Consumers observe a withdraw followed by a
// provide. An INVALID plugin is reset and retried. With opts.Cascade the
// dependents unloaded on the way are loaded again afterwards.
func (c *Controller) Reload(ctx context.Context, id string, desc *plugins.Descriptor, opts UnloadOptions) error {
	ctx, span := c.tracer.Start(ctx, "host.Reload", trace.WithAttributes(
		attribute.String("plugin.id", id),
		attribute.Bool("cascade", opts.Cascade),
	))
	defer span.End()

	start := time.Now()
	err := c.reload(ctx, id, desc, opts)
	c.metrics.ObserveTransition("reload", resultLabel(err), time.Since(start))
	endSpan(span, err)
	return err
}

func (c *Controller) reload(ctx context.Context, id string, desc *plugins.Descriptor, opts UnloadOptions) error {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return notFound(id)
	}
	live := rec.state != StateUnloaded && rec.state != StateInvalid
	c.mu.Unlock()

	var cascaded []string
	if live {
		var err error
		if cascaded, err = c.unload(ctx, id, opts.Cascade); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if rec.state == StateInvalid {
		c.setStateLocked(rec, StateUnloaded)
		rec.err = nil
	}
	switch {
	case desc != nil:
		rec.desc = desc
	case rec.pending != nil:
		rec.desc = rec.pending
	}
	rec.pending = nil
	c.mu.Unlock()

	errs := []error{c.load(ctx, id, nil)}
	for i := len(cascaded) - 1; i >= 0; i-- {
		errs = append(errs, c.load(ctx, cascaded[i], nil))
	}
	return errors.Join(errs...)
}

// hook runs one plugin hook with panic recovery, the hook timeout, a span
// and metrics. A failure is returned as ErrHookFailure, or as ErrLoadAborted
// when ctx was cancelled.
func (c *Controller) hook(ctx context.Context, inst *Instance, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "hook."+name, trace.WithAttributes(
		attribute.String("plugin.id", inst.ID()),
		attribute.String("plugin.instance", inst.InstanceID()),
	))
	defer span.End()

	hookCtx := contextkeys.WithPlugin(ctx, inst.ID(), inst.InstanceID())
	if c.hookTimeout > 0 {
		var cancel context.CancelFunc
		hookCtx, cancel = context.WithTimeout(hookCtx, c.hookTimeout)
		defer cancel()
	}

	log := observability.WithTraceContext(ctx, c.log.WithFields(logrus.Fields{
		"plugin":   inst.ID(),
		"hook":     name,
		"instance": inst.InstanceID(),
	}))

	start := time.Now()
	err := observability.SafeCall(log, name, func() error { return fn(hookCtx) })
	c.metrics.ObserveHook(name, time.Since(start), err)
	endSpan(span, err)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return aborted(inst.ID(), err)
	}

	log.WithError(err).Error("Plugin hook failed")
	pe := plugins.NewPluginError(plugins.ErrHookFailure, inst.ID(), err.Error())
	pe.Hook = name
	pe.Err = err
	return pe
}

func (c *Controller) setInjected(consumer, instanceID, depID string, p plugins.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[consumer]
	if !ok || rec.injected == nil {
		return
	}
	if rec.inst != nil && rec.inst.InstanceID() != instanceID {
		return
	}
	rec.injected[depID] = p
}

// noteCallbackErrors records best-effort callback failures on the consumers.
func (c *Controller) noteCallbackErrors(errs []capabilities.CallbackError) {
	if len(errs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range errs {
		rec, ok := c.records[e.Consumer]
		if !ok {
			continue
		}
		rec.cbErrs = append(rec.cbErrs, e.Error())
		if len(rec.cbErrs) > maxCallbackErrors {
			rec.cbErrs = rec.cbErrs[len(rec.cbErrs)-maxCallbackErrors:]
		}
	}
}

func (c *Controller) liveInstance(id string) *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.records[id]; ok && rec.state == StateLoaded {
		return rec.inst
	}
	return nil
}

// loadedDependentsLocked returns the LOADED plugins directly depending on id.
func (c *Controller) loadedDependentsLocked(id string) []string {
	var out []string
	for other, rec := range c.records {
		if rec.state != StateLoaded {
			continue
		}
		if _, ok := rec.desc.DependsOn(id); ok {
			out = append(out, other)
		}
	}
	slices.Sort(out)
	return out
}

// cascadeOrderLocked returns the loaded transitive dependents of id,
// dependents before the plugins they depend on.
func (c *Controller) cascadeOrderLocked(id string) []string {
	g := dependencies.BuildGraph(c.descriptorsLocked())
	var loaded []string
	for _, dep := range g.TransitiveDependents(id) {
		if c.records[dep].state == StateLoaded {
			loaded = append(loaded, dep)
		}
	}
	return g.UnloadOrder(loaded)
}

// pendingDependentsLocked returns in-flight loads that transitively depend on id.
func (c *Controller) pendingDependentsLocked(id string) []pendingLoad {
	g := dependencies.BuildGraph(c.descriptorsLocked())
	var out []pendingLoad
	for _, dep := range g.TransitiveDependents(id) {
		rec := c.records[dep]
		if (rec.state == StateResolving || rec.state == StateLoading) && rec.cancel != nil {
			out = append(out, c.cancelLocked(rec))
		}
	}
	return out
}

func (c *Controller) descriptorsLocked() []*plugins.Descriptor {
	out := make([]*plugins.Descriptor, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec.desc)
	}
	slices.SortFunc(out, func(a, b *plugins.Descriptor) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (c *Controller) setStateLocked(rec *record, next State) {
	if !rec.state.CanTransition(next) {
		c.log.WithFields(logrus.Fields{
			"plugin": rec.desc.ID,
			"from":   rec.state,
			"to":     next,
		}).Error("Illegal plugin state transition")
	}
	rec.state = next
	rec.updatedAt = time.Now()
	c.updateStateMetricsLocked()
}

func (c *Controller) updateStateMetricsLocked() {
	if c.metrics == nil {
		return
	}
	counts := make(map[string]int, len(AllStates))
	for _, s := range AllStates {
		counts[string(s)] = 0
	}
	for _, rec := range c.records {
		counts[string(rec.state)]++
	}
	c.metrics.SetPluginStates(counts)
}

func (c *Controller) publish(ctx context.Context, event, id string) {
	_ = c.bus.Publish(context.WithoutCancel(ctx), event, id)
}

func checkAborted(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return aborted(id, err)
	}
	return nil
}

func aborted(id string, cause error) *plugins.PluginError {
	pe := plugins.NewPluginError(plugins.ErrLoadAborted, id, "cancelled by a concurrent unload or caller")
	pe.Err = cause
	return pe
}

func notFound(id string) *plugins.PluginError {
	return plugins.NewPluginError(plugins.ErrPluginNotFound, id, "no descriptor known")
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
