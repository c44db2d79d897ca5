// Package contextkeys defines the context keys shared across packages.
//
// All keys live here so their producers and consumers can find each other:
//
//	ctx = contextkeys.WithPluginID(ctx, "inventory")
//	id := contextkeys.GetPluginID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the admin API request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: admin failure logging
	RequestIDKey Key = "request_id"

	// PluginIDKey contains the id of the plugin whose hook is running
	// Set by: host.Controller before every plugin hook
	// Used by: plugin implementations that log or publish on their own behalf
	PluginIDKey Key = "plugin_id"

	// InstanceIDKey contains the instance id of the plugin whose hook is running
	// Set by: host.Controller before every plugin hook
	InstanceIDKey Key = "plugin_instance"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the request ID, or "" if none is set
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithPlugin records the plugin and instance a hook runs for.
func WithPlugin(ctx context.Context, pluginID, instanceID string) context.Context {
	ctx = context.WithValue(ctx, PluginIDKey, pluginID)
	return context.WithValue(ctx, InstanceIDKey, instanceID)
}

// GetPluginID returns the plugin ID, or "" outside a plugin hook
func GetPluginID(ctx context.Context) string {
	id, _ := ctx.Value(PluginIDKey).(string)
	return id
}

// GetInstanceID returns the instance ID, or "" outside a plugin hook
func GetInstanceID(ctx context.Context) string {
	id, _ := ctx.Value(InstanceIDKey).(string)
	return id
}
