// Package api exposes the REST and WebSocket surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/savegress/vitalsense/internal/alerts"
	"github.com/savegress/vitalsense/internal/cache"
	"github.com/savegress/vitalsense/internal/config"
	"github.com/savegress/vitalsense/internal/devices"
	"github.com/savegress/vitalsense/internal/monitor"
	"github.com/savegress/vitalsense/internal/realtime"
	"github.com/savegress/vitalsense/internal/storage"
)

// Server represents the API server
type Server struct {
	router   chi.Router
	cfg      *config.Config
	engine   *monitor.Engine
	manager  *alerts.Manager
	readings storage.ReadingStore
	alerts   storage.AlertStore
	registry *devices.Registry
	hub      *realtime.Hub
	cache    *cache.Cache
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	engine *monitor.Engine,
	manager *alerts.Manager,
	readings storage.ReadingStore,
	alertStore storage.AlertStore,
	registry *devices.Registry,
	hub *realtime.Hub,
	c *cache.Cache,
) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		engine:   engine,
		manager:  manager,
		readings: readings,
		alerts:   alertStore,
		registry: registry,
		hub:      hub,
		cache:    c,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(MetricsMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check and metrics
	s.router.Get("/health", s.healthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint for dashboard sessions
	s.router.Get("/ws", s.hub.ServeWS)

	// API v1
	s.router.Route("/api/v1", func(r chi.Router) {
		if s.cfg.Server.JWTSecret != "" {
			r.Use(AuthMiddleware(s.cfg.Server.JWTSecret))
		}

		// Readings
		r.Post("/readings", s.ingestReading)

		// Patients
		r.Route("/patients/{id}", func(r chi.Router) {
			r.Get("/readings", s.listReadings)
			r.Get("/readings/latest", s.latestReading)
			r.Get("/risk", s.predictRisk)
			r.Get("/thresholds", s.getThresholds)
			r.Put("/thresholds", s.putThresholds)
			r.Get("/alerts", s.listPatientAlerts)
		})

		// Alerts
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.listAlerts)
			r.Get("/{id}", s.getAlert)
			r.Post("/{id}/acknowledge", s.acknowledgeAlert)
			r.Post("/{id}/resolve", s.resolveAlert)
			r.Post("/{id}/escalate", s.escalateAlert)
		})

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.listDevices)
			r.Post("/", s.registerDevice)
			r.Get("/{id}", s.getDevice)
			r.Post("/{id}/heartbeat", s.deviceHeartbeat)
		})

		// Stats
		r.Get("/stats", s.getStats)
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}
