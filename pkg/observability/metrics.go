package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	PluginsByState       *prometheus.GaugeVec
	TransitionsTotal     *prometheus.CounterVec
	TransitionDuration   *prometheus.HistogramVec
	HookDuration         *prometheus.HistogramVec
	HookFailuresTotal    *prometheus.CounterVec
	CapabilityCallbacks  *prometheus.CounterVec
	CapabilitiesProvided prometheus.Gauge

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventHandlerErrors   *prometheus.CounterVec

	// Discovery metrics
	DescriptorsDiscovered *prometheus.CounterVec
	DiscoveryDuration     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axle_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axle_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		PluginsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "axle_plugins",
				Help: "Number of known plugins by lifecycle state",
			},
			[]string{"state"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axle_plugin_transitions_total",
				Help: "Total number of load/unload/reload operations by result",
			},
			[]string{"operation", "result"},
		),
		TransitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axle_plugin_transition_duration_seconds",
				Help:    "Duration of load/unload/reload operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axle_plugin_hook_duration_seconds",
				Help:    "Plugin hook duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"hook"},
		),
		HookFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axle_plugin_hook_failures_total",
				Help: "Total number of failed or panicking plugin hooks",
			},
			[]string{"hook"},
		),
		CapabilityCallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axle_capability_callbacks_total",
				Help: "Total number of load_allowed/unload_allowed callbacks by result",
			},
			[]string{"callback", "result"},
		),
		CapabilitiesProvided: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "axle_capabilities_provided",
				Help: "Number of (provider, capability) pairs currently registered",
			},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axle_events_published_total",
				Help: "Total number of published events",
			},
			[]string{"event"},
		),
		EventHandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axle_event_handler_errors_total",
				Help: "Total number of failed or panicking event handlers",
			},
			[]string{"event"},
		),

		DescriptorsDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axle_descriptors_discovered_total",
				Help: "Total number of descriptors read from sources by result",
			},
			[]string{"result"},
		),
		DiscoveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "axle_discovery_duration_seconds",
				Help:    "Descriptor discovery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PluginsByState,
		m.TransitionsTotal,
		m.TransitionDuration,
		m.HookDuration,
		m.HookFailuresTotal,
		m.CapabilityCallbacks,
		m.CapabilitiesProvided,
		m.EventsPublishedTotal,
		m.EventHandlerErrors,
		m.DescriptorsDiscovered,
		m.DiscoveryDuration,
	)

	return m
}

// ObserveTransition records one load/unload/reload operation.
func (m *Metrics) ObserveTransition(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(operation, result).Inc()
	m.TransitionDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveHook records one hook invocation.
func (m *Metrics) ObserveHook(hook string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.HookDuration.WithLabelValues(hook).Observe(d.Seconds())
	if err != nil {
		m.HookFailuresTotal.WithLabelValues(hook).Inc()
	}
}

// ObserveCapabilityCallback records a load_allowed or unload_allowed delivery.
func (m *Metrics) ObserveCapabilityCallback(callback string, err error) {
	if m == nil {
		return
	}
	m.CapabilityCallbacks.WithLabelValues(callback, resultLabel(err)).Inc()
}

// SetCapabilitiesProvided sets the number of registered provisions.
func (m *Metrics) SetCapabilitiesProvided(n int) {
	if m == nil {
		return
	}
	m.CapabilitiesProvided.Set(float64(n))
}

// ObserveEvent records a published event and the number of failed handlers.
func (m *Metrics) ObserveEvent(event string, handlerErrors int) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(event).Inc()
	if handlerErrors > 0 {
		m.EventHandlerErrors.WithLabelValues(event).Add(float64(handlerErrors))
	}
}

// SetPluginStates replaces the per-state plugin gauge.
func (m *Metrics) SetPluginStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.PluginsByState.Reset()
	for state, n := range counts {
		m.PluginsByState.WithLabelValues(state).Set(float64(n))
	}
}

// ObserveDiscovery records a discovery pass.
func (m *Metrics) ObserveDiscovery(accepted, rejected int, d time.Duration) {
	if m == nil {
		return
	}
	m.DescriptorsDiscovered.WithLabelValues("accepted").Add(float64(accepted))
	m.DescriptorsDiscovered.WithLabelValues("rejected").Add(float64(rejected))
	m.DiscoveryDuration.Observe(d.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
