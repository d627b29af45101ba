// Package server sets up the HTTP router, middleware, and request handlers
// for the demonstration gateway binary (cmd/gateway).
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hnolan/irgateway/internal/bridge"
	"github.com/hnolan/irgateway/internal/config"
)

// Server holds the HTTP router and the Bridge every request is dispatched
// through. Unlike the original single-provider gateway, there is no
// per-model provider map here — the Bridge's Router already owns backend
// selection, fallback, and circuit breaking; the HTTP layer only has to
// get bytes in and bytes out.
type Server struct {
	router chi.Router
	cfg    *config.Config
	bridge *bridge.Bridge
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, b *bridge.Bridge) *Server {
	s := &Server{cfg: cfg, bridge: b}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
