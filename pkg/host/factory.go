package host

import (
	"fmt"
	"slices"
	"sync"

	"github.com/platinummonkey/axle/pkg/plugins"
)

// Factory constructs the implementation of a plugin from its descriptor.
type Factory func(desc *plugins.Descriptor) (plugins.Plugin, error)

// FactoryRegistry maps entry-point factory names to constructors. Plugins are
// registered explicitly at compile time; nothing is looked up by reflection.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// Register adds a constructor under name.
func (r *FactoryRegistry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("factory name and constructor are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("factory %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *FactoryRegistry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the constructor registered under name.
func (r *FactoryRegistry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns every registered factory name, sorted.
func (r *FactoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New instantiates desc using its entry-point factory, falling back to the
// plugin id.
func (r *FactoryRegistry) New(desc *plugins.Descriptor) (plugins.Plugin, error) {
	name := desc.Factory()
	f, ok := r.Lookup(name)
	if !ok && name != desc.ID {
		f, ok = r.Lookup(desc.ID)
	}
	if !ok {
		return nil, plugins.NewPluginError(plugins.ErrFactoryNotFound, desc.ID,
			fmt.Sprintf("no factory registered for %q", name))
	}

	p, err := f(desc)
	if err != nil {
		pe := plugins.NewPluginError(plugins.ErrHookFailure, desc.ID, err.Error())
		pe.Hook = "factory"
		pe.Err = err
		return nil, pe
	}
	if p == nil {
		pe := plugins.NewPluginError(plugins.ErrHookFailure, desc.ID, "factory returned nil plugin")
		pe.Hook = "factory"
		return nil, pe
	}
	return p, nil
}
