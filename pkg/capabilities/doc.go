// Package capabilities maps dotted capability names to the live plugin
// instances providing them and delivers load_allowed / unload_allowed
// callbacks to consumers whose capabilities_allowed patterns match.
//
// Every (consumer, provider instance, capability) triple is delivered at most
// once while the provider instance lives, and the matching withdraw fires
// exactly once when the provider withdraws:
//
//	reg := capabilities.NewRegistry(log, metrics)
//	reg.Subscribe(ctx, consumer, "store.inventory", onProvide, onWithdraw)
//	reg.Provide(ctx, provider, "store.inventory.read") // onProvide fires
//	reg.WithdrawAll(ctx, provider)                     // onWithdraw fires
package capabilities
