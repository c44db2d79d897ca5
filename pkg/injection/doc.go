// Package injection binds plugin dependency slots to live provider instances.
//
// A slot targets a plugin id or a capability pattern. The injector calls the
// slot's setter with the provider when it becomes LOADED and with nil before
// it is unloaded, so a consumer never holds a reference to an instance that
// is not LOADED. Capability slots follow the most recently loaded matching
// provider unless they are restricted to one provider.
package injection
