package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/axle/pkg/admin"
	"github.com/platinummonkey/axle/pkg/async"
	"github.com/platinummonkey/axle/pkg/builtin"
	"github.com/platinummonkey/axle/pkg/config"
	"github.com/platinummonkey/axle/pkg/host"
	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "axled: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		return err
	}
	logger.WithField("version", version).Info("Starting axled")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	var sources []plugins.Source
	if len(cfg.Plugins.Dirs) > 0 {
		sources = append(sources, plugins.NewDirSource(plugins.DirSourceConfig{
			Dirs:      cfg.Plugins.Dirs,
			CacheSize: cfg.Plugins.ManifestCacheSize,
			CacheTTL:  cfg.Plugins.ManifestCacheTTL,
		}, logger))
	}

	var db *sql.DB
	if cfg.Store.Enabled() {
		db, err = connectDatabase(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close()

		sqlSource, err := plugins.NewSQLSource(db, logger)
		if err != nil {
			return err
		}
		if err := sqlSource.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare descriptor table: %w", err)
		}
		sources = append(sources, sqlSource)
	}

	opts := []host.Option{
		host.WithLogger(logger),
		host.WithSources(sources...),
		host.WithConcurrency(cfg.Plugins.LoadConcurrency),
		host.WithHookTimeout(cfg.Plugins.HookTimeout),
		host.WithRescanSchedule(cfg.Plugins.RescanSchedule),
	}
	if metrics != nil {
		opts = append(opts, host.WithMetrics(metrics))
	}
	if len(cfg.Plugins.Platforms) > 0 {
		opts = append(opts, host.WithPlatforms(cfg.Plugins.Platforms...))
	}
	if cfg.Plugins.WatchDebounce > 0 {
		opts = append(opts, host.WithWatchDebounce(cfg.Plugins.WatchDebounce))
	}
	manager := host.NewManager(opts...)

	if err := builtin.Register(manager.Factories(), logger); err != nil {
		return err
	}

	report, err := manager.Discover(ctx)
	if err != nil {
		return err
	}
	for _, f := range report.Rejected {
		logger.WithFields(logrus.Fields{"plugin": f.ID, "kind": f.Kind}).Warn(f.Reason)
	}
	loaded := manager.LoadAll(ctx)
	logger.WithFields(logrus.Fields{
		"loaded": len(loaded.Loaded),
		"failed": len(loaded.Failed),
	}).Info("Initial load complete")

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: admin.NewServer(admin.Config{
			Manager:  manager,
			Log:      logger,
			Metrics:  metrics,
			Registry: registry,
			DB:       db,
			Version:  version,
			Tracing:  tp != nil,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// stop ends the wait for a signal when a background task dies.
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var tasks []<-chan error
	tasks = append(tasks, async.SafeGo(ctx, logger, 0, "admin server", func(ctx context.Context) error {
		logger.Infof("Admin API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	}))

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.Plugins.WatchEnabled {
		tasks = append(tasks, async.SafeGo(watchCtx, logger, 0, "plugin watcher", func(ctx context.Context) error {
			if err := manager.Watch(ctx); err != nil {
				stop()
				return err
			}
			return nil
		}))
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("stop watcher", func(ctx context.Context) error {
		stopWatch()
		return nil
	})
	shutdown.RegisterShutdownFunc("unload plugins", func(ctx context.Context) error {
		report := manager.UnloadAll(ctx)
		for _, f := range report.Failed {
			logger.WithField("plugin", f.ID).Warn("Unload failed: " + f.Reason)
		}
		if !report.OK() {
			return fmt.Errorf("%d plugin(s) failed to unload", len(report.Failed))
		}
		return nil
	})
	if tp != nil {
		shutdown.RegisterShutdownFunc("flush traces", func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp, logger)
		})
	}

	err = shutdown.WaitForShutdown(stopCtx)
	return errors.Join(err, async.Wait(tasks...))
}

// parseFlags applies command-line overrides on top of the environment.
func parseFlags(cfg *config.Config) {
	fs := flag.NewFlagSet("axled", flag.ExitOnError)
	listenHost := fs.String("host", cfg.Server.Host, "Address to listen on")
	port := fs.String("port", cfg.Server.Port, "Port to listen on")
	dirs := fs.String("plugin-dirs", strings.Join(cfg.Plugins.Dirs, string(os.PathListSeparator)), "Plugin directories, separated by the OS path list separator")
	logLevel := fs.String("log-level", cfg.Observability.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", cfg.Observability.LogFormat, "Log format (text, json)")
	watch := fs.Bool("watch", cfg.Plugins.WatchEnabled, "Watch plugin directories for changes")
	concurrency := fs.Int("load-concurrency", cfg.Plugins.LoadConcurrency, "Plugins loaded in parallel per dependency level")
	hookTimeout := fs.Duration("hook-timeout", cfg.Plugins.HookTimeout, "Per-hook timeout, 0 for none")
	fs.Parse(os.Args[1:])

	cfg.Server.Host = *listenHost
	cfg.Server.Port = *port
	cfg.Plugins.Dirs = splitList(*dirs)
	cfg.Observability.LogLevel = *logLevel
	cfg.Observability.LogFormat = *logFormat
	cfg.Plugins.WatchEnabled = *watch
	cfg.Plugins.LoadConcurrency = *concurrency
	cfg.Plugins.HookTimeout = *hookTimeout
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func connectDatabase(ctx context.Context, store config.StoreConfig) (*sql.DB, error) {
	db, err := sql.Open(store.Driver, store.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", store.Driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
