package plugins

import (
	"errors"
	"fmt"
	"strings"
)

// Plugin runtime error kinds. Every error returned by the runtime wraps one of these.
var (
	// ErrMalformedDescriptor is returned when a descriptor has a bad id, version or dependency syntax.
	ErrMalformedDescriptor = errors.New("malformed descriptor")

	// ErrMissingDependency is returned when a hard dependency is not present at all.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrIncompatibleVersion is returned when a hard dependency is present with a version outside the requested range.
	ErrIncompatibleVersion = errors.New("incompatible version")

	// ErrCircularDependency is returned for every plugin that takes part in a hard dependency cycle.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrHookFailure is returned when a plugin's own lifecycle hook fails or panics.
	ErrHookFailure = errors.New("hook failure")

	// ErrDependencyFailed is returned to a dependent when a hard dependency could
	// not be loaded for a reason of its own, such as a failing hook. The
	// dependent is left UNLOADED and can be loaded once the dependency is fixed.
	ErrDependencyFailed = errors.New("dependency failed to load")

	// ErrUnloadBlocked is returned when unloading a plugin that loaded plugins still depend on.
	ErrUnloadBlocked = errors.New("unload blocked by dependents")

	// ErrPluginNotFound is returned when no descriptor is known for an id.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNotLoaded is returned when an operation needs a loaded plugin.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrInvalidState is returned when a plugin is in a state that does not allow the operation.
	ErrInvalidState = errors.New("invalid plugin state")

	// ErrLoadAborted is returned when a pending load is cancelled by a concurrent unload.
	ErrLoadAborted = errors.New("load aborted")

	// ErrUnsupportedPlatform is returned when a descriptor does not list the running platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrMissingPackage is returned when a mandatory package dependency is not installed.
	ErrMissingPackage = errors.New("missing mandatory package")

	// ErrFactoryNotFound is returned when no constructor is registered for a plugin entry point.
	ErrFactoryNotFound = errors.New("plugin factory not found")
)

// PluginError describes why a plugin was rejected or failed a transition.
type PluginError struct {
	Kind     error
	PluginID string
	// Chain lists the dependency path from PluginID to Origin, both included.
	Chain  []string
	Origin string
	Reason string
	Hook   string
	Err    error
}

// NewPluginError creates an error of the given kind for a single plugin.
func NewPluginError(kind error, pluginID, reason string) *PluginError {
	return &PluginError{
		Kind:     kind,
		PluginID: pluginID,
		Chain:    []string{pluginID},
		Origin:   pluginID,
		Reason:   reason,
	}
}

// Error implements error.
func (e *PluginError) Error() string {
	var b strings.Builder
	if e.PluginID != "" {
		fmt.Fprintf(&b, "plugin %s: ", e.PluginID)
	}
	b.WriteString(e.Kind.Error())
	if e.Hook != "" {
		fmt.Fprintf(&b, " in %s", e.Hook)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Chain) > 1 {
		fmt.Fprintf(&b, " (chain: %s)", strings.Join(e.Chain, " -> "))
	}
	if e.Err != nil && e.Reason == "" {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the error kind and the underlying cause.
func (e *PluginError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Propagate returns the error a dependent inherits from this one. The kind and
// the originating reason are kept and the dependent is prepended to the chain.
func (e *PluginError) Propagate(dependent string) *PluginError {
	chain := make([]string, 0, len(e.Chain)+1)
	chain = append(chain, dependent)
	chain = append(chain, e.Chain...)
	return &PluginError{
		Kind:     e.Kind,
		PluginID: dependent,
		Chain:    chain,
		Origin:   e.Origin,
		Reason:   e.Reason,
		Hook:     e.Hook,
		Err:      e.Err,
	}
}

// DependencyFailed returns the error a dependent gets when this error kept one
// of its dependencies from loading. Unlike Propagate it does not carry the
// dependency's kind or hook over, only the reason and the chain.
func (e *PluginError) DependencyFailed(dependent string) *PluginError {
	chain := make([]string, 0, len(e.Chain)+1)
	chain = append(chain, dependent)
	chain = append(chain, e.Chain...)
	reason := fmt.Sprintf("%s: %s", e.PluginID, e.Kind)
	if e.Hook != "" {
		reason += " in " + e.Hook
	}
	return &PluginError{
		Kind:     ErrDependencyFailed,
		PluginID: dependent,
		Chain:    chain,
		Origin:   e.Origin,
		Reason:   reason,
	}
}

// AsPluginError extracts a *PluginError from err.
func AsPluginError(err error) (*PluginError, bool) {
	var pe *PluginError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Kind returns the runtime error kind err wraps, or nil if it wraps none.
func Kind(err error) error {
	for _, kind := range []error{
		ErrMalformedDescriptor,
		ErrMissingDependency,
		ErrIncompatibleVersion,
		ErrCircularDependency,
		ErrHookFailure,
		ErrDependencyFailed,
		ErrUnloadBlocked,
		ErrPluginNotFound,
		ErrNotLoaded,
		ErrInvalidState,
		ErrLoadAborted,
		ErrUnsupportedPlatform,
		ErrMissingPackage,
		ErrFactoryNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
