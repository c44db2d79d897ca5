package host

import (
	"time"

	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger shared by every runtime component.
func WithLogger(log *logrus.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithFactories sets the registry plugin constructors are looked up in.
func WithFactories(factories *FactoryRegistry) Option {
	return func(m *Manager) { m.factories = factories }
}

// WithSources adds descriptor sources, consulted in order.
func WithSources(sources ...plugins.Source) Option {
	return func(m *Manager) { m.sources = append(m.sources, sources...) }
}

// WithLoader replaces the descriptor loader. It takes precedence over
// WithPlatforms and WithPackageChecker.
func WithLoader(loader *plugins.Loader) Option {
	return func(m *Manager) { m.loader = loader }
}

// WithPlatforms sets the platform tags descriptors are matched against.
func WithPlatforms(platforms ...string) Option {
	return func(m *Manager) { m.platforms = platforms }
}

// WithPackageChecker sets how package dependencies are verified.
func WithPackageChecker(checker plugins.PackageChecker) Option {
	return func(m *Manager) { m.checker = checker }
}

// WithConcurrency bounds how many plugins of one resolution level LoadAll
// loads at the same time.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithHookTimeout bounds every plugin hook.
func WithHookTimeout(d time.Duration) Option {
	return func(m *Manager) { m.hookTimeout = d }
}

// WithWatchDebounce sets how long Watch waits for file changes to settle.
func WithWatchDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithRescanSchedule makes Watch resynchronize with the sources on a cron
// schedule, e.g. "@every 5m".
func WithRescanSchedule(spec string) Option {
	return func(m *Manager) { m.rescan = spec }
}
