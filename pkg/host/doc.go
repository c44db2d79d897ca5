// Package host runs plugins through their lifecycle.
//
// A Manager discovers descriptors from its sources, resolves their hard
// dependencies and drives each plugin through the state machine
//
//	UNLOADED -> RESOLVING -> LOADING -> LOADED -> UNLOADING -> UNLOADED
//
// with INVALID as the resting state of a plugin that failed. Plugin
// implementations are created by constructors registered in a
// FactoryRegistry:
//
//	m := host.NewManager(host.WithSources(dirSource), host.WithLogger(log))
//	m.Factories().MustRegister("inventory", inventory.New)
//	if _, err := m.Discover(ctx); err != nil {
//		return err
//	}
//	report := m.LoadAll(ctx)
//
// While a plugin is loaded its capabilities are visible to consumers whose
// capabilities_allowed patterns match, its declared events are delivered to
// it and the injector keeps dependents' references to it current. Unloading
// clears every reference to the instance before its unload hooks run.
package host
