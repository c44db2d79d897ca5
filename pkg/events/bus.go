package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Lifecycle notifications published by the plugin host. The only argument is
// the plugin id.
const (
	PluginLoaded   = "axle.plugin.loaded"
	PluginUnloaded = "axle.plugin.unloaded"
	PluginInvalid  = "axle.plugin.invalid"
)

// Handler receives a published event.
type Handler func(ctx context.Context, event string, args ...any) error

// Subscription identifies a registered handler.
type Subscription struct {
	ID uint64 `json:"id"`
	// PluginID is empty for subscribers outside the plugin runtime.
	PluginID string `json:"plugin_id,omitempty"`
	Event    string `json:"event"`
}

type entry struct {
	Subscription
	handler Handler
}

// Bus is a synchronous publish/subscribe channel. Handlers run on the
// publishing goroutine in registration order; a failing handler does not
// stop delivery to the rest.
type Bus struct {
	mu       sync.RWMutex
	log      *logrus.Logger
	metrics  *observability.Metrics
	declared map[string]map[string]bool
	subs     map[string][]*entry
	nextID   uint64
}

// NewBus creates an empty bus. metrics may be nil.
func NewBus(log *logrus.Logger, metrics *observability.Metrics) *Bus {
	if log == nil {
		log = logrus.New()
	}
	return &Bus{
		log:      log,
		metrics:  metrics,
		declared: make(map[string]map[string]bool),
		subs:     make(map[string][]*entry),
	}
}

// Declare records the events pluginID is interested in, replacing any
// earlier declaration.
func (b *Bus) Declare(pluginID string, events []string) {
	set := make(map[string]bool, len(events))
	for _, e := range events {
		set[e] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared[pluginID] = set
}

// Subscribe registers handler for event. A plugin subscriber must have
// declared the event; an empty pluginID subscribes from outside the runtime
// and always receives.
func (b *Bus) Subscribe(pluginID, event string, handler Handler) (Subscription, error) {
	if event == "" {
		return Subscription{}, ErrInvalidEvent
	}
	if handler == nil {
		return Subscription{}, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if pluginID != "" && !b.declared[pluginID][event] {
		return Subscription{}, fmt.Errorf("plugin %s subscribing to %s: %w", pluginID, event, ErrUndeclaredEvent)
	}

	b.nextID++
	e := &entry{
		Subscription: Subscription{ID: b.nextID, PluginID: pluginID, Event: event},
		handler:      handler,
	}
	b.subs[event] = append(b.subs[event], e)
	return e.Subscription, nil
}

// Unsubscribe removes a single subscription.
func (b *Bus) Unsubscribe(sub Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.subs[sub.Event]
	i := slices.IndexFunc(entries, func(e *entry) bool { return e.ID == sub.ID })
	if i < 0 {
		return ErrSubscriptionNotFound
	}
	b.subs[sub.Event] = slices.Delete(entries, i, i+1)
	if len(b.subs[sub.Event]) == 0 {
		delete(b.subs, sub.Event)
	}
	return nil
}

// RemovePlugin drops every subscription and the declaration of pluginID.
func (b *Bus) RemovePlugin(pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.declared, pluginID)
	for event, entries := range b.subs {
		entries = slices.DeleteFunc(entries, func(e *entry) bool { return e.PluginID == pluginID })
		if len(entries) == 0 {
			delete(b.subs, event)
		} else {
			b.subs[event] = entries
		}
	}
}

// Publish delivers event to every subscriber in registration order and
// returns the joined handler errors.
func (b *Bus) Publish(ctx context.Context, event string, args ...any) error {
	if event == "" {
		return ErrInvalidEvent
	}

	b.mu.RLock()
	entries := slices.Clone(b.subs[event])
	b.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		log := b.log.WithFields(logrus.Fields{
			"event":        event,
			"plugin":       e.PluginID,
			"subscription": e.ID,
		})
		err := observability.SafeCall(log, "handle_event", func() error {
			return e.handler(ctx, event, args...)
		})
		if err != nil {
			log.WithError(err).Warn("Event handler failed")
			errs = append(errs, &HandlerError{
				SubscriptionID: e.ID,
				PluginID:       e.PluginID,
				Event:          event,
				Err:            err,
			})
		}
	}

	b.metrics.ObserveEvent(event, len(errs))
	return errors.Join(errs...)
}

// Subscriptions returns every subscription to event in delivery order.
func (b *Bus) Subscriptions(event string) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Subscription, 0, len(b.subs[event]))
	for _, e := range b.subs[event] {
		out = append(out, e.Subscription)
	}
	return out
}
