// Package async runs background tasks with panic recovery.
//
// The daemon uses it for its long-running goroutines (the admin HTTP server
// and the plugin watcher) so a panic in one of them is logged and reported
// instead of crashing the process:
//
//	watch := async.SafeGo(ctx, log, 0, "plugin watcher", manager.Watch)
//	serve := async.SafeGo(ctx, log, 0, "admin server", srv.Run)
//	err := async.Wait(watch, serve)
//
// A positive timeout bounds the task's context.
package async
