// Package plugins defines the plugin contract and the descriptor model of the Axle runtime.
//
// # Overview
//
// A plugin is declared by a manifest (plugin.yaml) and implemented by a Go value
// satisfying Plugin. The Loader validates manifests into immutable Descriptors;
// the host package resolves, loads and wires them.
//
// # Descriptors
//
// Manifest: raw YAML/JSON declaration read from a Source
// Descriptor: validated, immutable form handed to the runtime
// Version / VersionRange: semver triples with wildcard segments ("1.x.x")
//
//	id: com.example.inventory
//	version: 1.2.0
//	capabilities: [store.inventory]
//	capabilities_allowed: [store.pricing]
//	dependencies:
//	  - plugin_id: com.example.db
//	    version_range: 2.x.x
//	events_handled: [order.created]
//
// # Sources
//
// DirSource: <dir>/<plugin>/plugin.yaml, cached in an expirable LRU
// SQLSource: plugin_descriptors table (PostgreSQL or SQLite)
// StaticSource: in-memory manifests
// MultiSource: several sources combined
//
// Watcher reports plugin directories that changed on disk so the host can
// hot-deploy them.
//
// # Hooks
//
// Besides the four lifecycle hooks of Plugin, a plugin may implement
// DependencyInjectedHook, CapabilityConsumer, EventHandler and Injectable.
// Base supplies no-op lifecycle hooks for embedding.
//
// # Errors
//
// Every runtime error wraps one of the sentinel kinds (ErrMalformedDescriptor,
// ErrMissingDependency, ...). *PluginError carries the plugin id, the
// dependency chain and the originating reason.
package plugins
