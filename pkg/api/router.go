// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hsc/registry-server/config"
	"github.com/hsc/registry-server/pkg/api/handlers"
	"github.com/hsc/registry-server/pkg/api/middleware"
	"github.com/hsc/registry-server/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Registry handles registration/deregistration/heartbeat endpoints.
	Registry *handlers.RegistryHandler

	// Discovery handles the read-only discovery endpoints.
	Discovery *handlers.DiscoveryHandler

	// Cluster handles replication and membership endpoints.
	Cluster *handlers.ClusterHandler

	// Events handles the SSE event streams.
	Events *handlers.EventsHandler

	// Health handles health check endpoints.
	Health *handlers.HealthHandler

	// WebSocket handles the /ws/events subscription endpoint.
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder

	// Prometheus, when set, serves the scrape endpoint directly on the
	// main router so it can sit behind the same public-path bypass list
	// as the other actuator/management routes.
	Prometheus http.Handler

	// AuthState, when set, is consulted on every request instead of the
	// static snapshot of cfg.Auth, letting a config reload change the
	// API key or public paths without rebuilding the router.
	AuthState *middleware.AuthState
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))
	if h.AuthState != nil {
		r.Use(middleware.DynamicAuth(h.AuthState))
	} else {
		r.Use(middleware.Auth(cfg.Auth.Enabled, cfg.Auth.APIKey, cfg.Auth.PublicPaths))
	}

	RegisterRoutes(r, h)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if h.Registry != nil {
			r.Route("/registry/services", func(r chi.Router) {
				r.Get("/", h.Registry.GetServices)
				r.Route("/{serviceId}/instances", func(r chi.Router) {
					r.Get("/", h.Registry.GetInstances)
					r.Post("/", h.Registry.Register)
					r.Route("/{instanceId}", func(r chi.Router) {
						r.Get("/", h.Registry.GetInstance)
						r.Delete("/", h.Registry.Deregister)
						r.Put("/heartbeat", h.Registry.Heartbeat)
					})
				})
			})
		}

		if h.Discovery != nil {
			r.Route("/discovery", func(r chi.Router) {
				r.Get("/services", h.Discovery.GetServices)
				r.Get("/catalog", h.Discovery.GetCatalog)
				r.Route("/services/{serviceId}", func(r chi.Router) {
					r.Get("/instances", h.Discovery.GetInstances)
					r.Get("/healthy-instances", h.Discovery.GetHealthyInstances)
				})
			})
		}

		if h.Cluster != nil {
			r.Route("/cluster", func(r chi.Router) {
				r.Post("/events", h.Cluster.HandleEvent)
				r.Get("/events/stream", h.Events.StreamCluster)
				r.Get("/status", h.Cluster.Status)
				r.Get("/nodes", h.Cluster.Nodes)
				r.Get("/current-node", h.Cluster.CurrentNode)
				r.Get("/health", h.Cluster.Health)
				r.Post("/join", h.Cluster.Join)
			})
		}

		if h.Events != nil {
			r.Get("/events/services/{serviceId}/stream", h.Events.StreamService)
		}
	})

	// Health check routes (not versioned)
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)

		// Actuator/management routes: the literal external surface
		// operators built against, bypassed by the default auth
		// public-path list.
		r.Get("/actuator/health", h.Health.Health)
		r.Get("/actuator/info", h.Health.Info)
		r.Get("/management/info", h.Health.Info)
		r.Post("/management/cleanup", h.Health.Cleanup)
	}

	if h.Prometheus != nil {
		r.Handle("/actuator/prometheus", h.Prometheus)
	}

	// Websocket event subscription endpoint
	if h.WebSocket != nil {
		r.Handle("/ws/events", h.WebSocket)
		r.Handle("/ws/services/{serviceId}/events", h.WebSocket)
	}
}
