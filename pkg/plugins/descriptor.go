package plugins

import (
	"maps"
	"slices"
	"strings"
)

// Descriptor is the validated, immutable declaration of a plugin. The runtime
// never mutates a descriptor after the loader produced it; callers receive
// clones.
type Descriptor struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name,omitempty"`
	Description         string              `json:"description,omitempty"`
	Version             Version             `json:"version"`
	Platforms           []string            `json:"platforms,omitempty"`
	Capabilities        []string            `json:"capabilities,omitempty"`
	CapabilitiesAllowed []string            `json:"capabilities_allowed,omitempty"`
	Dependencies        []Dependency        `json:"dependencies,omitempty"`
	PackageDependencies []PackageDependency `json:"package_dependencies,omitempty"`
	EntryPoints         []EntryPoint        `json:"entry_points,omitempty"`
	EventsHandled       []string            `json:"events_handled,omitempty"`
	Attributes          map[string]string   `json:"attributes,omitempty"`
	Source              string              `json:"source,omitempty"`
}

// Dependency is a hard plugin-to-plugin requirement.
type Dependency struct {
	PluginID string       `json:"plugin_id"`
	Range    VersionRange `json:"version_range"`
}

// PackageDependency is an external, non-plugin requirement. It only blocks
// loading when Mandatory is set.
type PackageDependency struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	InstallHint string `yaml:"install_hint,omitempty" json:"install_hint,omitempty"`
	Mandatory   bool   `yaml:"mandatory,omitempty" json:"mandatory,omitempty"`
}

// EntryPoint names a registered constructor to instantiate on load.
type EntryPoint struct {
	Name    string `yaml:"name" json:"name"`
	Factory string `yaml:"factory" json:"factory"`
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Platforms = slices.Clone(d.Platforms)
	c.Capabilities = slices.Clone(d.Capabilities)
	c.CapabilitiesAllowed = slices.Clone(d.CapabilitiesAllowed)
	c.Dependencies = slices.Clone(d.Dependencies)
	c.PackageDependencies = slices.Clone(d.PackageDependencies)
	c.EntryPoints = slices.Clone(d.EntryPoints)
	c.EventsHandled = slices.Clone(d.EventsHandled)
	c.Attributes = maps.Clone(d.Attributes)
	return &c
}

// DependsOn returns the hard dependency on id, if declared.
func (d *Descriptor) DependsOn(id string) (Dependency, bool) {
	for _, dep := range d.Dependencies {
		if dep.PluginID == id {
			return dep, true
		}
	}
	return Dependency{}, false
}

// Provides reports whether capability is declared in Capabilities.
func (d *Descriptor) Provides(capability string) bool {
	return slices.Contains(d.Capabilities, capability)
}

// HandlesEvent reports whether the plugin declared interest in event.
func (d *Descriptor) HandlesEvent(event string) bool {
	return slices.Contains(d.EventsHandled, event)
}

// SupportsPlatform reports whether the plugin runs on platform. An empty
// platform list means every platform.
func (d *Descriptor) SupportsPlatform(platform string) bool {
	if len(d.Platforms) == 0 || platform == "" {
		return true
	}
	for _, p := range d.Platforms {
		if strings.EqualFold(p, platform) || p == "*" {
			return true
		}
	}
	return false
}

// Factory returns the name of the constructor to instantiate: the first entry
// point's factory, or the plugin id when no entry point is declared.
func (d *Descriptor) Factory() string {
	for _, ep := range d.EntryPoints {
		if ep.Factory != "" {
			return ep.Factory
		}
	}
	return d.ID
}
