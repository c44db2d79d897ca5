package plugins

import (
	"context"
)

// Plugin is the contract every hosted plugin implements. On load the runtime
// calls LoadPlugin, registers the plugin's capabilities, injects its
// dependencies and then calls EndLoadPlugin. On unload it calls UnloadPlugin,
// withdraws the capabilities and then calls EndUnloadPlugin.
type Plugin interface {
	LoadPlugin(ctx context.Context) error
	EndLoadPlugin(ctx context.Context) error
	UnloadPlugin(ctx context.Context) error
	EndUnloadPlugin(ctx context.Context) error
}

// Instance is a live plugin as seen by other plugins and runtime components.
type Instance interface {
	// ID is the descriptor id.
	ID() string
	// InstanceID changes every time the plugin is loaded.
	InstanceID() string
	Descriptor() *Descriptor
	Plugin() Plugin
}

// DependencyInjectedHook is implemented by plugins that want to be told about
// each satisfied hard dependency during their own load.
type DependencyInjectedHook interface {
	DependencyInjected(ctx context.Context, dep Instance) error
}

// CapabilityConsumer is implemented by plugins declaring capabilities_allowed.
// LoadAllowed fires once per provider instance and capability; UnloadAllowed
// fires once before that provider instance is destroyed.
type CapabilityConsumer interface {
	LoadAllowed(ctx context.Context, provider Instance, capability string) error
	UnloadAllowed(ctx context.Context, provider Instance, capability string) error
}

// EventHandler is implemented by plugins declaring events_handled.
type EventHandler interface {
	HandleEvent(ctx context.Context, event string, args ...any) error
}

// Injectable is implemented by plugins that want live references kept in
// their own fields. Each binding's Set is called with the provider when it
// becomes available and with nil before it goes away.
type Injectable interface {
	Bindings() []Binding
}

// Binding is one dependency slot of an Injectable plugin.
type Binding struct {
	// Target is a plugin id, or a capability pattern when ByCapability is set.
	Target       string
	ByCapability bool
	// Single keeps the first provider bound instead of rebinding to newer ones.
	Single bool
	Set    func(Instance)
}

// ValidationError represents a manifest validation finding.
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

// Severity levels for ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Base provides no-op lifecycle hooks. Embed it and override what a plugin needs.
type Base struct{}

func (Base) LoadPlugin(context.Context) error      { return nil }
func (Base) EndLoadPlugin(context.Context) error   { return nil }
func (Base) UnloadPlugin(context.Context) error    { return nil }
func (Base) EndUnloadPlugin(context.Context) error { return nil }
