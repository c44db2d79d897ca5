// Package observability provides logrus logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and panic recovery for the plugin host.
//
// # Logging
//
//	logger, err := observability.NewLogger("info", "json", os.Stderr)
//	logger.WithFields(logrus.Fields{"plugin": id, "hook": "load_plugin"}).Error("hook failed")
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveHook("load_plugin", time.Since(start), err)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// A nil *Metrics is valid; every Observe method is then a no-op.
//
// # Panic recovery
//
// Plugin hooks and callbacks run through SafeCall, which converts a panic into
// a *PanicError and logs the stack:
//
//	err := observability.SafeCall(log, "unload_allowed", func() error {
//		return consumer.UnloadAllowed(ctx, provider, capability)
//	})
//
// # Health
//
//	checker := observability.NewHealthChecker(db, manager.States, version)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// Readiness is degraded when any plugin is INVALID and unhealthy when the
// descriptor database cannot be pinged.
package observability
