/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for the dashboard
  4. metrics:    Per-route counters and latency histograms
  5. RequireAuth (inside /api): JWT bearer -> Actor
  6. rate limit (write routes): per-actor fixed window

ROUTE GROUPS:
  /api/transactions/*   Ledger operations
  /api/settlements/*    Batching and lifecycle
  /api/orders/*         Mechanic orders
  /api/vendors/*        Directory + stats
  /api/mechanics/*      Directory + stats
  /healthz              Liveness probe (unauthenticated)
  /metrics              Prometheus scrape endpoint (unauthenticated)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Bearer token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gearlink/commission-engine/metrics"
	"github.com/gearlink/commission-engine/ratelimit"
)

// RouterConfig carries the router's cross-cutting dependencies.
type RouterConfig struct {
	JWTSecret      []byte
	AllowedOrigins []string
	WriteLimiter   ratelimit.Limiter // applied to mutating routes
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.WriteLimiter == nil {
		cfg.WriteLimiter = ratelimit.Unlimited{}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "x-idempotency-key"},
		AllowCredentials: true,
	}))
	r.Use(observeRequests)

	// Unauthenticated surfaces
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAuth(cfg.JWTSecret))

		limited := rateLimited(cfg.WriteLimiter)

		r.Route("/transactions", func(r chi.Router) {
			r.With(limited).Post("/", h.CreateTransaction)
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
		})

		r.Route("/settlements", func(r chi.Router) {
			r.With(limited).Post("/", h.CreateSettlement)
			r.Get("/preview", h.PreviewSettlement)
			r.Get("/", h.ListSettlements)
			r.Get("/{id}", h.GetSettlement)
			r.With(limited).Post("/{id}/mark-paid", h.MarkSettlementPaid)
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(limited).Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{code}", h.GetOrder)
		})

		r.Route("/vendors", func(r chi.Router) {
			r.Get("/", h.ListVendors)
			r.Post("/", h.CreateVendor)
			r.Get("/{id}/stats", h.VendorStats)
		})

		r.Route("/mechanics", func(r chi.Router) {
			r.Get("/", h.ListMechanics)
			r.Post("/", h.CreateMechanic)
			r.Get("/{id}/stats", h.MechanicStats)
		})
	})

	return r
}

// rateLimited rejects with 429 when the actor exhausts its write
// budget. The key is the authenticated identity, never the IP, so
// vendors behind one NAT don't starve each other.
func rateLimited(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated", nil)
				return
			}

			key := fmt.Sprintf("%s:%d", actor.Role, actor.ID)
			allowed, retryAfter := limiter.Allow(key)
			if !allowed {
				metrics.IncRateLimitReject()
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observeRequests records one counter tick and latency sample per
// request, labelled by chi route pattern.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		status := strconv.Itoa(ww.Status())
		metrics.ObserveHTTPRequest(route, status, time.Since(start))
	})
}
