// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates the axled configuration from environment
// variables with sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	AXLE_HOST="0.0.0.0"
//	AXLE_PORT="8080"
//	AXLE_SHUTDOWN_TIMEOUT="30s"
//
// Plugin settings:
//
//	AXLE_PLUGIN_DIRS="/etc/axle/plugins:./plugins"
//	AXLE_PLATFORMS="go,linux"
//	AXLE_LOAD_CONCURRENCY="4"
//	AXLE_HOOK_TIMEOUT="30s"
//	AXLE_WATCH_ENABLED="true"
//	AXLE_WATCH_DEBOUNCE="500ms"
//	AXLE_RESCAN_SCHEDULE="@every 5m"
//	AXLE_MANIFEST_CACHE_SIZE="256"
//
// Descriptor database (optional):
//
//	AXLE_DB_DRIVER="postgres"  # postgres, sqlite3
//	AXLE_DB_URL="postgres://localhost/axle?sslmode=disable"
//
// Observability settings:
//
//	AXLE_LOG_LEVEL="info"  # debug, info, warn, error
//	AXLE_LOG_FORMAT="text" # text, json
//	AXLE_METRICS_ENABLED="true"
//	AXLE_OTEL_ENABLED="true"
//	AXLE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Listening on %s\n", cfg.Server.Addr())
package config
