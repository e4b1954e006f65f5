package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Priya8975/epcis-repository/internal/engine"
	ws "github.com/Priya8975/epcis-repository/internal/websocket"
)

// Deps are the components the HTTP layer serves.
type Deps struct {
	Pipeline      *engine.Pipeline
	Executor      *engine.QueryExecutor
	Subscriptions *engine.SubscriptionManager
	Hub           *ws.Hub
	// Limiter may be nil to disable rate limiting.
	Limiter engine.RateLimiter
	Health  map[string]Pinger
	Logger  *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	limit := func(namespace string) func(http.Handler) http.Handler {
		if d.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return rateLimit(d.Limiter, namespace, d.Logger)
	}

	captureHandler := NewCaptureHandler(d.Pipeline)
	queryHandler := NewQueryHandler(d.Subscriptions, d.Executor, d.Hub)
	subHandler := NewSubscriptionHandler(d.Subscriptions, d.Hub)

	r.Options("/", Discovery)
	r.Get("/", Resources)
	r.Get("/health", HealthHandler(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/capture", func(r chi.Router) {
		r.Use(limit(engine.NamespaceCapture))
		r.Options("/", captureHandler.Options)
		r.Get("/", captureHandler.List)
		r.Post("/", captureHandler.Create)
		r.Get("/{captureID}", captureHandler.Get)
	})

	r.Route("/queries", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limit(engine.NamespaceQuery))
			r.Get("/", queryHandler.List)
			r.Post("/", queryHandler.Create)
			r.Get("/{queryName}", queryHandler.Get)
			r.Put("/{queryName}", queryHandler.Replace)
			r.Delete("/{queryName}", queryHandler.Delete)
			r.Get("/{queryName}/events", queryHandler.Events)
		})

		r.Route("/{queryName}/subscriptions", func(r chi.Router) {
			r.Use(limit(engine.NamespaceSubscription))
			r.Options("/", subHandler.Options)
			r.Get("/", subHandler.List)
			r.Post("/", subHandler.Create)
			r.Get("/{subscriptionID}", subHandler.Get)
			r.Patch("/{subscriptionID}", subHandler.Update)
			r.Delete("/{subscriptionID}", subHandler.Delete)
		})
	})

	return r
}

// corsMiddleware adds CORS headers and answers preflight requests. Plain
// OPTIONS requests fall through to the discovery handlers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, GS1-Capture-Error-Behaviour, GS1-EPCIS-Version")
		w.Header().Set("Access-Control-Expose-Headers", "Location, Link, GS1-Next-Page-Token, RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
