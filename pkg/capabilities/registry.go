package capabilities

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Callback is invoked when a matching capability is provided or withdrawn.
type Callback func(ctx context.Context, provider plugins.Instance, capability string) error

// CallbackError records a failed or panicking consumer callback.
type CallbackError struct {
	Consumer   string
	Provider   string
	Capability string
	Withdraw   bool
	Err        error
}

func (e CallbackError) Error() string {
	hook := "load_allowed"
	if e.Withdraw {
		hook = "unload_allowed"
	}
	return fmt.Sprintf("%s of %s for %s from %s: %v", hook, e.Consumer, e.Capability, e.Provider, e.Err)
}

func (e CallbackError) Unwrap() error { return e.Err }

// Provision is a capability currently provided by a live instance.
type Provision struct {
	Capability string
	Provider   plugins.Instance
}

// Link is a delivered (consumer, provider, capability) triple.
type Link struct {
	Consumer   string `json:"consumer"`
	Provider   string `json:"provider"`
	Capability string `json:"capability"`
}

type subscription struct {
	consumer   plugins.Instance
	pattern    string
	onProvide  Callback
	onWithdraw Callback
}

type deliveryKey struct {
	consumer   string // instance id
	provider   string // instance id
	capability string
}

type delivery struct {
	key      deliveryKey
	sub      *subscription
	provider plugins.Instance
	cap      string
}

// Registry maps capability names to the live instances providing them and
// notifies subscribed consumers when that set changes. Callbacks run outside
// the registry lock on the calling goroutine.
type Registry struct {
	mu        sync.Mutex
	log       *logrus.Logger
	metrics   *observability.Metrics
	providers map[string]map[string]plugins.Instance // capability -> instance id -> instance
	subs      map[string][]*subscription             // consumer instance id -> subscriptions
	delivered map[deliveryKey]*subscription
}

// NewRegistry creates an empty capability registry. metrics may be nil.
func NewRegistry(log *logrus.Logger, metrics *observability.Metrics) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		log:       log,
		metrics:   metrics,
		providers: make(map[string]map[string]plugins.Instance),
		subs:      make(map[string][]*subscription),
		delivered: make(map[deliveryKey]*subscription),
	}
}

// Provide registers capability as provided by instance and fires onProvide,
// once, for every subscribed consumer whose pattern matches, in ascending
// consumer id order. Providing the same capability twice is a no-op.
func (r *Registry) Provide(ctx context.Context, instance plugins.Instance, capability string) []CallbackError {
	r.mu.Lock()
	byInstance := r.providers[capability]
	if byInstance == nil {
		byInstance = make(map[string]plugins.Instance)
		r.providers[capability] = byInstance
	}
	if _, ok := byInstance[instance.InstanceID()]; ok {
		r.mu.Unlock()
		return nil
	}
	byInstance[instance.InstanceID()] = instance

	var pending []delivery
	for _, consumerID := range r.consumersLocked() {
		if consumerID == instance.InstanceID() {
			continue
		}
		if d, ok := r.claimLocked(consumerID, instance, capability); ok {
			pending = append(pending, d)
		}
	}
	r.metrics.SetCapabilitiesProvided(r.countLocked())
	r.mu.Unlock()

	return r.fire(ctx, pending, false)
}

// Withdraw removes capability from instance and fires onWithdraw for every
// consumer that received it, in ascending consumer id order.
func (r *Registry) Withdraw(ctx context.Context, instance plugins.Instance, capability string) []CallbackError {
	r.mu.Lock()
	byInstance := r.providers[capability]
	if _, ok := byInstance[instance.InstanceID()]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(byInstance, instance.InstanceID())
	if len(byInstance) == 0 {
		delete(r.providers, capability)
	}

	var pending []delivery
	for key, sub := range r.delivered {
		if key.provider == instance.InstanceID() && key.capability == capability {
			pending = append(pending, delivery{key: key, sub: sub, provider: instance, cap: capability})
			delete(r.delivered, key)
		}
	}
	sortDeliveries(pending)
	r.metrics.SetCapabilitiesProvided(r.countLocked())
	r.mu.Unlock()

	return r.fire(ctx, pending, true)
}

// WithdrawAll withdraws every capability instance provides, in ascending
// capability order.
func (r *Registry) WithdrawAll(ctx context.Context, instance plugins.Instance) []CallbackError {
	var errs []CallbackError
	for _, capability := range r.ProvidedBy(instance.InstanceID()) {
		errs = append(errs, r.Withdraw(ctx, instance, capability)...)
	}
	return errs
}

// Subscribe registers consumer's interest in pattern and replays every
// matching capability already provided by another instance, ordered by
// provider id then capability.
func (r *Registry) Subscribe(ctx context.Context, consumer plugins.Instance, pattern string, onProvide, onWithdraw Callback) []CallbackError {
	sub := &subscription{
		consumer:   consumer,
		pattern:    pattern,
		onProvide:  onProvide,
		onWithdraw: onWithdraw,
	}

	r.mu.Lock()
	r.subs[consumer.InstanceID()] = append(r.subs[consumer.InstanceID()], sub)

	var pending []delivery
	for _, p := range r.provisionsLocked(pattern) {
		if p.Provider.InstanceID() == consumer.InstanceID() {
			continue
		}
		key := deliveryKey{consumer: consumer.InstanceID(), provider: p.Provider.InstanceID(), capability: p.Capability}
		if _, done := r.delivered[key]; done {
			continue
		}
		r.delivered[key] = sub
		pending = append(pending, delivery{key: key, sub: sub, provider: p.Provider, cap: p.Capability})
	}
	r.mu.Unlock()

	return r.fire(ctx, pending, false)
}

// Unsubscribe drops every subscription of consumer along with its delivery
// records. No callbacks fire.
func (r *Registry) Unsubscribe(consumer plugins.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, consumer.InstanceID())
	for key := range r.delivered {
		if key.consumer == consumer.InstanceID() {
			delete(r.delivered, key)
		}
	}
}

// Providers returns every live provision matching pattern, ordered by
// provider id then capability.
func (r *Registry) Providers(pattern string) []Provision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provisionsLocked(pattern)
}

// Capabilities returns every provided capability name, sorted.
func (r *Registry) Capabilities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := make([]string, 0, len(r.providers))
	for c := range r.providers {
		caps = append(caps, c)
	}
	slices.Sort(caps)
	return caps
}

// ProvidedBy returns the capabilities instanceID currently provides, sorted.
func (r *Registry) ProvidedBy(instanceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var caps []string
	for c, byInstance := range r.providers {
		if _, ok := byInstance[instanceID]; ok {
			caps = append(caps, c)
		}
	}
	slices.Sort(caps)
	return caps
}

// Links returns every delivered capability by plugin id, sorted.
func (r *Registry) Links() []Link {
	r.mu.Lock()
	defer r.mu.Unlock()

	links := make([]Link, 0, len(r.delivered))
	seen := make(map[Link]bool, len(r.delivered))
	for key, sub := range r.delivered {
		provider := r.providers[key.capability][key.provider]
		if provider == nil {
			continue
		}
		l := Link{Consumer: sub.consumer.ID(), Provider: provider.ID(), Capability: key.capability}
		if !seen[l] {
			seen[l] = true
			links = append(links, l)
		}
	}
	slices.SortFunc(links, func(a, b Link) int {
		return cmp.Or(
			cmp.Compare(a.Consumer, b.Consumer),
			cmp.Compare(a.Provider, b.Provider),
			cmp.Compare(a.Capability, b.Capability),
		)
	})
	return links
}

// consumersLocked returns subscribed consumer instance ids ordered by plugin id.
func (r *Registry) consumersLocked() []string {
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(r.subs[a][0].consumer.ID(), r.subs[b][0].consumer.ID()),
			cmp.Compare(a, b),
		)
	})
	return ids
}

// claimLocked records a delivery of capability to consumerID through its first
// matching subscription.
func (r *Registry) claimLocked(consumerID string, provider plugins.Instance, capability string) (delivery, bool) {
	key := deliveryKey{consumer: consumerID, provider: provider.InstanceID(), capability: capability}
	if _, done := r.delivered[key]; done {
		return delivery{}, false
	}
	for _, sub := range r.subs[consumerID] {
		if Match(sub.pattern, capability) {
			r.delivered[key] = sub
			return delivery{key: key, sub: sub, provider: provider, cap: capability}, true
		}
	}
	return delivery{}, false
}

func (r *Registry) provisionsLocked(pattern string) []Provision {
	var out []Provision
	for c, byInstance := range r.providers {
		if !Match(pattern, c) {
			continue
		}
		for _, inst := range byInstance {
			out = append(out, Provision{Capability: c, Provider: inst})
		}
	}
	slices.SortFunc(out, func(a, b Provision) int {
		return cmp.Or(
			cmp.Compare(a.Provider.ID(), b.Provider.ID()),
			cmp.Compare(a.Provider.InstanceID(), b.Provider.InstanceID()),
			cmp.Compare(a.Capability, b.Capability),
		)
	})
	return out
}

func (r *Registry) countLocked() int {
	n := 0
	for _, byInstance := range r.providers {
		n += len(byInstance)
	}
	return n
}

func sortDeliveries(ds []delivery) {
	slices.SortFunc(ds, func(a, b delivery) int {
		return cmp.Or(
			cmp.Compare(a.sub.consumer.ID(), b.sub.consumer.ID()),
			cmp.Compare(a.key.consumer, b.key.consumer),
		)
	})
}

// fire runs callbacks in order. Failures are logged and collected; delivery
// continues.
func (r *Registry) fire(ctx context.Context, pending []delivery, withdraw bool) []CallbackError {
	hook := "load_allowed"
	if withdraw {
		hook = "unload_allowed"
	}

	var errs []CallbackError
	for _, d := range pending {
		cb := d.sub.onProvide
		if withdraw {
			cb = d.sub.onWithdraw
		}
		if cb == nil {
			continue
		}

		log := r.log.WithFields(logrus.Fields{
			"plugin":     d.sub.consumer.ID(),
			"hook":       hook,
			"provider":   d.provider.ID(),
			"capability": d.cap,
		})
		err := observability.SafeCall(log, hook, func() error {
			return cb(ctx, d.provider, d.cap)
		})
		r.metrics.ObserveCapabilityCallback(hook, err)
		if err != nil {
			log.WithError(err).Warn("Capability callback failed")
			errs = append(errs, CallbackError{
				Consumer:   d.sub.consumer.ID(),
				Provider:   d.provider.ID(),
				Capability: d.cap,
				Withdraw:   withdraw,
				Err:        err,
			})
		}
	}
	return errs
}
