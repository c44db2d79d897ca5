// Package builtin contains the plugins compiled into axled.
//
// They double as a worked example of the plugin contract:
//
//   - inventory provides the store.inventory capability and handles
//     inventory.restock events
//   - shop depends on inventory, receives a live reference to it through a
//     binding and places orders on order.created events
//   - audit consumes every capability and the runtime's lifecycle events
//
// The manifests under examples/plugins select these implementations through
// their entry_points factory names.
package builtin
