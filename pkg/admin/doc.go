// Package admin serves the HTTP management API of a plugin host.
//
// Routes:
//
//	GET  /api/v1/plugins[?state=LOADED]
//	GET  /api/v1/plugins/{id}
//	POST /api/v1/plugins/{id}/load
//	POST /api/v1/plugins/{id}/unload[?cascade=true]
//	POST /api/v1/plugins/{id}/reload[?cascade=true]
//	GET  /api/v1/plugins/{id}/dependencies|dependents|impact
//	POST /api/v1/discover[?load=true]
//	POST /api/v1/events/{name}          body: JSON array of arguments
//	GET  /api/v1/events/{name}/subscriptions
//	GET  /api/v1/capabilities
//	GET  /api/v1/graph                  Cytoscape JSON
//	GET  /api/v1/graph.dot              Graphviz
//	GET  /health/live, /health/ready, /metrics
//
// Failed operations return an httputil.ErrorResponse whose kind names the
// runtime error. Unknown plugins map to 404, unload blocked and aborted loads
// to 409, descriptor and dependency problems to 422 and hook failures to 500.
package admin
