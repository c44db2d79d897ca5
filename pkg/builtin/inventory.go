package builtin

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// RestockEvent adds stock: args are sku (string) and quantity (number).
const RestockEvent = "inventory.restock"

// ErrInsufficientStock is returned by Reserve when a sku cannot cover the quantity.
var ErrInsufficientStock = errors.New("insufficient stock")

// Inventory keeps per-sku stock in memory. Initial stock comes from the
// "initial_stock" attribute, e.g. "widget=10,gadget=3".
type Inventory struct {
	log     logrus.FieldLogger
	initial map[string]int

	mu    sync.Mutex
	stock map[string]int
	open  bool
}

// NewInventory creates an inventory plugin.
func NewInventory(desc *plugins.Descriptor, log logrus.FieldLogger) (*Inventory, error) {
	initial, err := parseStock(desc.Attributes["initial_stock"])
	if err != nil {
		return nil, fmt.Errorf("invalid initial_stock attribute: %w", err)
	}
	return &Inventory{
		log:     pluginLogger(log, desc),
		initial: initial,
	}, nil
}

func (inv *Inventory) LoadPlugin(ctx context.Context) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.stock = maps.Clone(inv.initial)
	if inv.stock == nil {
		inv.stock = make(map[string]int)
	}
	return nil
}

func (inv *Inventory) EndLoadPlugin(ctx context.Context) error {
	inv.mu.Lock()
	inv.open = true
	skus := len(inv.stock)
	inv.mu.Unlock()

	inv.log.WithField("skus", skus).Info("Inventory open")
	return nil
}

func (inv *Inventory) UnloadPlugin(ctx context.Context) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.open = false
	return nil
}

func (inv *Inventory) EndUnloadPlugin(ctx context.Context) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.stock = nil
	return nil
}

// HandleEvent applies restock events.
func (inv *Inventory) HandleEvent(ctx context.Context, event string, args ...any) error {
	if event != RestockEvent {
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("%s expects sku and quantity, got %d args", RestockEvent, len(args))
	}
	sku, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("%s: sku must be a string, got %T", RestockEvent, args[0])
	}
	qty, err := quantity(args[1])
	if err != nil {
		return fmt.Errorf("%s: %w", RestockEvent, err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if !inv.open {
		return fmt.Errorf("inventory is closed")
	}
	inv.stock[sku] += qty
	inv.log.WithFields(logrus.Fields{"sku": sku, "added": qty, "stock": inv.stock[sku]}).Debug("Restocked")
	return nil
}

// Reserve takes qty units of sku out of stock.
func (inv *Inventory) Reserve(sku string, qty int) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if !inv.open {
		return fmt.Errorf("inventory is closed")
	}
	if have := inv.stock[sku]; have < qty {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientStock, sku, have, qty)
	}
	inv.stock[sku] -= qty
	return nil
}

// Stock returns the units of sku on hand.
func (inv *Inventory) Stock(sku string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.stock[sku]
}

func parseStock(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		sku, n, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("expected sku=quantity, got %q", item)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("bad quantity for %s: %q", sku, n)
		}
		out[strings.TrimSpace(sku)] = qty
	}
	return out, nil
}

// quantity accepts the numeric types event args arrive as (JSON numbers
// decode to float64).
func quantity(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("quantity must be whole, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("quantity must be a number, got %T", v)
	}
}
