package injection

import (
	"cmp"
	"slices"
	"sync"

	"github.com/platinummonkey/axle/pkg/capabilities"
	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Setter receives the bound provider, or nil when it goes away.
type Setter func(plugins.Instance)

// Target selects the provider a binding follows.
type Target struct {
	// ID binds to one plugin by id.
	ID string `json:"id,omitempty"`
	// Capability binds to any provider whose capabilities match the pattern.
	Capability string `json:"capability,omitempty"`
	// Single keeps the first matching provider instead of moving to newer ones.
	Single bool `json:"single,omitempty"`
}

// ByID targets a single plugin.
func ByID(id string) Target { return Target{ID: id} }

// ByCapability targets the most recently loaded provider of pattern.
func ByCapability(pattern string) Target { return Target{Capability: pattern} }

// OneProvider returns t restricted to the first provider it binds to.
func (t Target) OneProvider() Target {
	t.Single = true
	return t
}

func (t Target) String() string {
	if t.ID != "" {
		return t.ID
	}
	return "capability:" + t.Capability
}

// FromBinding converts a plugin-declared binding into a target.
func FromBinding(b plugins.Binding) Target {
	if b.ByCapability {
		return Target{Capability: b.Target, Single: b.Single}
	}
	return Target{ID: b.Target, Single: b.Single}
}

func (t Target) accepts(inst plugins.Instance) bool {
	if t.ID != "" {
		return inst.ID() == t.ID
	}
	for _, c := range inst.Descriptor().Capabilities {
		if capabilities.Match(t.Capability, c) {
			return true
		}
	}
	return false
}

// Bound describes a binding and the provider it currently points to.
type Bound struct {
	Target     Target `json:"target"`
	Provider   string `json:"provider,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

type binding struct {
	consumer string
	target   Target
	set      Setter
	current  plugins.Instance
}

type call struct {
	b    *binding
	inst plugins.Instance
}

// Injector keeps consumers' dependency slots pointing at live providers.
// Setters are called outside the injector lock, in ascending consumer id
// order, on the goroutine that reported the provider change.
type Injector struct {
	mu       sync.Mutex
	log      *logrus.Logger
	bindings map[string][]*binding
	// live holds loaded providers, most recently loaded last
	live []plugins.Instance
}

// NewInjector creates an injector with no bindings.
func NewInjector(log *logrus.Logger) *Injector {
	if log == nil {
		log = logrus.New()
	}
	return &Injector{
		log:      log,
		bindings: make(map[string][]*binding),
	}
}

// Bind registers a slot of consumer. If a live provider already satisfies
// target it is set immediately.
func (in *Injector) Bind(consumer string, target Target, set Setter) {
	b := &binding{consumer: consumer, target: target, set: set}

	in.mu.Lock()
	in.bindings[consumer] = append(in.bindings[consumer], b)
	var calls []call
	if inst := in.pickLocked(b); inst != nil {
		b.current = inst
		calls = append(calls, call{b: b, inst: inst})
	}
	in.mu.Unlock()

	in.run(calls)
}

// Loaded reports that inst reached LOADED. Id bindings on it are set and
// capability bindings move to it unless they are single and already bound.
func (in *Injector) Loaded(inst plugins.Instance) {
	in.mu.Lock()
	in.live = slices.DeleteFunc(in.live, func(l plugins.Instance) bool { return l.ID() == inst.ID() })
	in.live = append(in.live, inst)

	var calls []call
	for _, b := range in.sortedLocked() {
		if b.consumer == inst.ID() || !b.target.accepts(inst) {
			continue
		}
		if b.target.Single && b.current != nil {
			continue
		}
		b.current = inst
		calls = append(calls, call{b: b, inst: inst})
	}
	in.mu.Unlock()

	in.run(calls)
}

// Unloading reports that inst is leaving LOADED. Every binding pointing at
// it is set to nil, then capability bindings are rebound to the next most
// recently loaded provider, if any.
func (in *Injector) Unloading(inst plugins.Instance) {
	in.mu.Lock()
	in.live = slices.DeleteFunc(in.live, func(l plugins.Instance) bool {
		return l.InstanceID() == inst.InstanceID()
	})

	var clears, rebinds []call
	for _, b := range in.sortedLocked() {
		if b.current == nil || b.current.InstanceID() != inst.InstanceID() {
			continue
		}
		b.current = nil
		clears = append(clears, call{b: b})
		if b.target.ID != "" {
			continue
		}
		if next := in.pickLocked(b); next != nil {
			b.current = next
			rebinds = append(rebinds, call{b: b, inst: next})
		}
	}
	in.mu.Unlock()

	in.run(clears)
	in.run(rebinds)
}

// Unbind removes every binding of consumer, setting bound slots to nil.
func (in *Injector) Unbind(consumer string) {
	in.mu.Lock()
	var calls []call
	for _, b := range in.bindings[consumer] {
		if b.current != nil {
			b.current = nil
			calls = append(calls, call{b: b})
		}
	}
	delete(in.bindings, consumer)
	in.mu.Unlock()

	in.run(calls)
}

// Current reports the bindings of consumer in registration order.
func (in *Injector) Current(consumer string) []Bound {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]Bound, 0, len(in.bindings[consumer]))
	for _, b := range in.bindings[consumer] {
		bound := Bound{Target: b.target}
		if b.current != nil {
			bound.Provider = b.current.ID()
			bound.InstanceID = b.current.InstanceID()
		}
		out = append(out, bound)
	}
	return out
}

// pickLocked returns the most recently loaded live provider accepted by b.
func (in *Injector) pickLocked(b *binding) plugins.Instance {
	for i := len(in.live) - 1; i >= 0; i-- {
		inst := in.live[i]
		if inst.ID() == b.consumer {
			continue
		}
		if b.target.accepts(inst) {
			return inst
		}
	}
	return nil
}

func (in *Injector) sortedLocked() []*binding {
	consumers := make([]string, 0, len(in.bindings))
	for c := range in.bindings {
		consumers = append(consumers, c)
	}
	slices.SortFunc(consumers, cmp.Compare[string])

	var out []*binding
	for _, c := range consumers {
		out = append(out, in.bindings[c]...)
	}
	return out
}

func (in *Injector) run(calls []call) {
	for _, c := range calls {
		log := in.log.WithFields(logrus.Fields{
			"plugin": c.b.consumer,
			"target": c.b.target.String(),
		})
		err := observability.SafeCall(log, "inject", func() error {
			c.b.set(c.inst)
			return nil
		})
		if err != nil {
			log.WithError(err).Error("Injection setter failed")
		}
	}
}
