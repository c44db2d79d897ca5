package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Plugin runtime configuration
	Plugins PluginsConfig

	// Descriptor database configuration
	Store StoreConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// PluginsConfig holds plugin discovery and lifecycle settings
type PluginsConfig struct {
	Dirs            []string
	Platforms       []string
	LoadConcurrency int
	HookTimeout     time.Duration

	WatchEnabled  bool
	WatchDebounce time.Duration
	// RescanSchedule is a cron spec; empty disables scheduled rescans.
	RescanSchedule string

	ManifestCacheSize int
	ManifestCacheTTL  time.Duration
}

// StoreConfig selects an optional SQL descriptor source
type StoreConfig struct {
	// Driver is "postgres", "sqlite3" or empty for none.
	Driver string
	URL    string
}

// Enabled reports whether a descriptor database is configured.
func (s StoreConfig) Enabled() bool {
	return s.Driver != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Plugins:       loadPluginsConfig(),
		Store:         loadStoreConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("AXLE_HOST", "0.0.0.0"),
		Port:            getEnv("AXLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("AXLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("AXLE_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("AXLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("AXLE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadPluginsConfig loads plugin runtime configuration from environment
func loadPluginsConfig() PluginsConfig {
	return PluginsConfig{
		Dirs:              getEnvList("AXLE_PLUGIN_DIRS", string(os.PathListSeparator), plugins.GetDefaultPluginDirectories()),
		Platforms:         getEnvList("AXLE_PLATFORMS", ",", plugins.DefaultPlatforms()),
		LoadConcurrency:   getEnvInt("AXLE_LOAD_CONCURRENCY", 4),
		HookTimeout:       getEnvDuration("AXLE_HOOK_TIMEOUT", 30*time.Second),
		WatchEnabled:      getEnvBool("AXLE_WATCH_ENABLED", true),
		WatchDebounce:     getEnvDuration("AXLE_WATCH_DEBOUNCE", 500*time.Millisecond),
		RescanSchedule:    getEnv("AXLE_RESCAN_SCHEDULE", ""),
		ManifestCacheSize: getEnvInt("AXLE_MANIFEST_CACHE_SIZE", 256),
		ManifestCacheTTL:  getEnvDuration("AXLE_MANIFEST_CACHE_TTL", 10*time.Minute),
	}
}

// loadStoreConfig loads descriptor database configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Driver: strings.ToLower(getEnv("AXLE_DB_DRIVER", "")),
		URL:    getEnv("AXLE_DB_URL", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("AXLE_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("AXLE_LOG_FORMAT", "text")),
		MetricsEnabled:     getEnvBool("AXLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("AXLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("AXLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("AXLE_OTEL_SERVICE_NAME", "axled"),
		OTelServiceVersion: getEnv("AXLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("AXLE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	// Validate plugin runtime config
	if len(c.Plugins.Dirs) == 0 && !c.Store.Enabled() {
		return fmt.Errorf("at least one plugin directory or a descriptor database is required")
	}
	if c.Plugins.LoadConcurrency < 1 {
		return fmt.Errorf("load concurrency must be at least 1, got %d", c.Plugins.LoadConcurrency)
	}
	if c.Plugins.HookTimeout < 0 {
		return fmt.Errorf("hook timeout must not be negative")
	}
	if c.Plugins.WatchEnabled && c.Plugins.WatchDebounce <= 0 {
		return fmt.Errorf("watch debounce must be positive when watching is enabled")
	}
	if c.Plugins.RescanSchedule != "" {
		if _, err := cron.ParseStandard(c.Plugins.RescanSchedule); err != nil {
			return fmt.Errorf("invalid rescan schedule %q: %w", c.Plugins.RescanSchedule, err)
		}
	}

	// Validate descriptor database config
	switch c.Store.Driver {
	case "":
	case "postgres", "sqlite3":
		if c.Store.URL == "" {
			return fmt.Errorf("database URL is required for the %s descriptor store", c.Store.Driver)
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Store.Driver)
	}

	// Validate logging config
	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Observability.LogFormat != "text" && c.Observability.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits an environment variable on sep, dropping empty items
func getEnvList(key, sep string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
