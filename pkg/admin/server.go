package admin

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/axle/pkg/dependencies"
	"github.com/platinummonkey/axle/pkg/host"
	"github.com/platinummonkey/axle/pkg/httputil"
	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// defaultMaxBodyBytes bounds request bodies; event arguments are the only payload.
const defaultMaxBodyBytes = 1 << 20

// Config configures the admin server.
type Config struct {
	Manager *host.Manager
	Log     logrus.FieldLogger
	// Metrics and Registry are optional. /metrics is served only with a Registry.
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	// DB is the descriptor database checked by the readiness probe, if any.
	DB           *sql.DB
	Version      string
	MaxBodyBytes int64
	// Tracing wraps the router with otelhttp.
	Tracing bool
}

// Server serves the admin API of a plugin manager.
type Server struct {
	manager *host.Manager
	log     logrus.FieldLogger
	router  *mux.Router
	handler http.Handler
}

// NewServer creates the admin server and registers its routes.
func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		manager: cfg.Manager,
		log:     log.WithField("component", "admin"),
		router:  mux.NewRouter(),
	}
	s.setupRoutes()

	health := observability.NewHealthChecker(cfg.DB, cfg.Manager.States, cfg.Version)
	s.router.HandleFunc("/health/live", health.Liveness).Methods("GET")
	s.router.HandleFunc("/health/ready", health.Readiness).Methods("GET")
	if cfg.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(cfg.Registry)).Methods("GET")
	}

	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.log),
		httputil.LoggingMiddleware(s.log),
		observability.HTTPMetricsMiddleware(cfg.Metrics),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)

	s.handler = s.router
	if cfg.Tracing {
		s.handler = otelhttp.NewHandler(s.router, "axle-admin")
	}
	return s
}

// setupRoutes configures the plugin management routes
func (s *Server) setupRoutes() {
	// Plugin routes
	s.router.HandleFunc("/api/v1/plugins", s.listPlugins).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/{id}", s.getPlugin).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/{id}/load", s.loadPlugin).Methods("POST")
	s.router.HandleFunc("/api/v1/plugins/{id}/unload", s.unloadPlugin).Methods("POST")
	s.router.HandleFunc("/api/v1/plugins/{id}/reload", s.reloadPlugin).Methods("POST")

	// Discovery
	s.router.HandleFunc("/api/v1/discover", s.discover).Methods("POST")

	// Events
	s.router.HandleFunc("/api/v1/events/{name}", s.publishEvent).Methods("POST")
	s.router.HandleFunc("/api/v1/events/{name}/subscriptions", s.listSubscriptions).Methods("GET")

	// Capabilities
	s.router.HandleFunc("/api/v1/capabilities", s.listCapabilities).Methods("GET")

	// Graph, dependencies, dependents and impact
	dependencies.NewGraphHandlers(s.manager).RegisterRoutes(s.router)
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
