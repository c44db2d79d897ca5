package builtin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// OrderEvent places an order: args are order id, sku and quantity.
const OrderEvent = "order.created"

// ErrInventoryUnavailable is returned for orders placed while no inventory is bound.
var ErrInventoryUnavailable = errors.New("inventory unavailable")

// Order is an accepted order.
type Order struct {
	ID       string
	SKU      string
	Quantity int
}

// Shop accepts orders against the inventory it depends on. The inventory
// reference is kept current by the injector.
type Shop struct {
	log        logrus.FieldLogger
	dependency string

	inventory atomic.Pointer[Inventory]

	mu        sync.Mutex
	orders    []Order
	providers map[string][]string // capability -> provider ids
}

// NewShop creates a shop plugin. It binds to the plugin named by its first
// hard dependency, "inventory" when it declares none.
func NewShop(desc *plugins.Descriptor, log logrus.FieldLogger) *Shop {
	dep := "inventory"
	if len(desc.Dependencies) > 0 {
		dep = desc.Dependencies[0].PluginID
	}
	return &Shop{
		log:        pluginLogger(log, desc),
		dependency: dep,
		providers:  make(map[string][]string),
	}
}

// Bindings implements plugins.Injectable.
func (s *Shop) Bindings() []plugins.Binding {
	return []plugins.Binding{{
		Target: s.dependency,
		Set: func(inst plugins.Instance) {
			if inst == nil {
				s.inventory.Store(nil)
				return
			}
			inv, _ := inst.Plugin().(*Inventory)
			s.inventory.Store(inv)
		},
	}}
}

func (s *Shop) LoadPlugin(ctx context.Context) error { return nil }

// EndLoadPlugin runs after bindings are wired, so the inventory must be set.
func (s *Shop) EndLoadPlugin(ctx context.Context) error {
	if s.inventory.Load() == nil {
		return fmt.Errorf("%w: %s is not bound", ErrInventoryUnavailable, s.dependency)
	}
	s.log.Info("Shop open")
	return nil
}

// UnloadPlugin forgets the capability providers; consumers get no
// unload_allowed for their own unload.
func (s *Shop) UnloadPlugin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.providers)
	return nil
}

func (s *Shop) EndUnloadPlugin(ctx context.Context) error { return nil }

func (s *Shop) DependencyInjected(ctx context.Context, dep plugins.Instance) error {
	s.log.WithField("dependency", dep.ID()).Debug("Dependency injected")
	return nil
}

func (s *Shop) LoadAllowed(ctx context.Context, provider plugins.Instance, capability string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.providers[capability], provider.ID()) {
		s.providers[capability] = append(s.providers[capability], provider.ID())
	}
	return nil
}

func (s *Shop) UnloadAllowed(ctx context.Context, provider plugins.Instance, capability string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[capability] = slices.DeleteFunc(s.providers[capability], func(id string) bool {
		return id == provider.ID()
	})
	if len(s.providers[capability]) == 0 {
		delete(s.providers, capability)
	}
	return nil
}

// HandleEvent places orders.
func (s *Shop) HandleEvent(ctx context.Context, event string, args ...any) error {
	if event != OrderEvent {
		return nil
	}
	if len(args) != 3 {
		return fmt.Errorf("%s expects order id, sku and quantity, got %d args", OrderEvent, len(args))
	}
	id, _ := args[0].(string)
	sku, _ := args[1].(string)
	if id == "" || sku == "" {
		return fmt.Errorf("%s: order id and sku must be non-empty strings", OrderEvent)
	}
	qty, err := quantity(args[2])
	if err != nil {
		return fmt.Errorf("%s: %w", OrderEvent, err)
	}

	inv := s.inventory.Load()
	if inv == nil {
		return ErrInventoryUnavailable
	}
	if err := inv.Reserve(sku, qty); err != nil {
		return fmt.Errorf("order %s: %w", id, err)
	}

	s.mu.Lock()
	s.orders = append(s.orders, Order{ID: id, SKU: sku, Quantity: qty})
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"order": id, "sku": sku, "quantity": qty}).Info("Order accepted")
	return nil
}

// Orders returns the accepted orders in arrival order.
func (s *Shop) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.orders)
}

// Providers returns the providers seen for capability.
func (s *Shop) Providers(capability string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.providers[capability])
}
