// Package gateway is the composition surface binding the lifecycle
// registry, dispatch router, access control layer and realtime multiplexer
// to the network.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"svchub/internal/auth"
	"svchub/internal/config"
	"svchub/internal/realtime"
	"svchub/internal/router"
	"svchub/internal/services"
	"svchub/pkg/logging"
)

// Server is the HTTP front door.
type Server struct {
	http        *http.Server
	registry    *services.Registry
	router      *router.Router
	auth        *auth.Authenticator
	hub         *realtime.Hub
	publicPaths map[string]bool
	started     time.Time
}

// New builds the front door: router, middleware chain and route
// registration. It does not listen until Start.
func New(cfg *config.Config, registry *services.Registry, rt *router.Router, authenticator *auth.Authenticator, hub *realtime.Hub) *Server {
	publicPaths := make(map[string]bool)
	for _, p := range config.DefaultPublicPaths {
		publicPaths[p] = true
	}
	for _, p := range cfg.Auth.PublicPaths {
		publicPaths[p] = true
	}
	// The realtime endpoint authenticates in-band after the upgrade;
	// browsers cannot attach an Authorization header to it.
	publicPaths["/ws"] = true

	s := &Server{
		registry:    registry,
		router:      rt,
		auth:        authenticator,
		hub:         hub,
		publicPaths: publicPaths,
		started:     time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/identity", s.handleIdentity)
		r.Get("/services", s.handleListServices)
		r.Get("/services/{name}", s.handleGetService)
		r.Post("/services/{name}/start", s.handleStartService)
		r.Post("/services/{name}/stop", s.handleStopService)
		r.Post("/services/{name}/restart", s.handleRestartService)
		r.Post("/services/{name}/execute", s.handleExecuteNamed)
		r.Post("/execute", s.handleExecute)
		r.Get("/events", s.handleEvents)
	})
	r.Get("/ws", hub.ServeHTTP)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

// Start runs the HTTP server and blocks until error or shutdown.
func (s *Server) Start() error {
	logging.Info("Gateway", "HTTP server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes all realtime sessions, then gracefully shuts the HTTP server
// down within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	logging.Info("Gateway", "HTTP server shutting down")
	s.hub.Shutdown()
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}
