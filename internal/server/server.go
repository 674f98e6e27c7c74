// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/config"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/metrics"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/persona"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/provider"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/secret"
)

// Deps are the collaborators the handlers need. Everything in here is
// read-only after New returns, so handlers share it across goroutines
// without locking.
type Deps struct {
	Personas persona.Registry
	Secrets  secret.Source
	Adapters map[persona.Provider]provider.Adapter

	// Client performs every upstream call. One shared client keeps
	// connections pooled across requests. Nil means http.DefaultClient.
	Client *http.Client

	Metrics *metrics.Metrics // nil gets a fresh private registry
	Logger  *slog.Logger     // nil means slog.Default()
}

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	cfg    *config.Config
	deps   Deps

	upstreamTimeout time.Duration
	limiter         *ipLimiter
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		cfg:             cfg,
		deps:            deps,
		upstreamTimeout: cfg.Upstream.Timeout,
	}
	if cfg.Server.RateLimitPerSecond > 0 {
		s.limiter = newIPLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID and RealIP run first so the request logger and the rate
	// limiter see the final values.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)

	// Recoverer turns a panicking handler into a 500 instead of taking
	// the process down.
	r.Use(middleware.Recoverer)

	// CORS has to sit on the router itself: preflight OPTIONS requests
	// never match a route.
	r.Use(cors(s.cfg.Server.AllowedOrigins))

	// --- Routes ---
	r.Get("/health", s.handleHealth)
	r.Get("/api/personas", s.handlePersonas)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Post("/api/chat", s.handleChat)
	})

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface; main.go
// passes a Server straight to http.Server{Handler: srv}.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
