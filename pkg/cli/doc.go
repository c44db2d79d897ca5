// Package cli implements axlectl, the command-line client of the axled admin API.
//
// # Commands
//
// list: Show every plugin with its version and state
//
//	axlectl list -state INVALID
//
// get: Show one plugin, including the reason it is INVALID and the
// dependency chain the failure propagated through
//
//	axlectl get shop
//
// load, unload, reload: Drive one plugin through its lifecycle
//
//	axlectl load shop
//	axlectl unload -cascade inventory
//	axlectl reload -cascade inventory
//
// discover: Rescan descriptor sources, optionally loading everything
//
//	axlectl discover -load
//
// publish: Publish an event; arguments are a JSON array
//
//	axlectl publish order.created '["o-1", 3]'
//
// capabilities, graph: Inspect the wiring between plugins
//
//	axlectl graph | dot -Tsvg > plugins.svg
//
// Every command accepts -server (default $AXLE_SERVER, then
// http://localhost:8080), -json and -timeout.
package cli
