/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, copied into the obs context
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    http_requests_total by route pattern and status
  5. CORS:       Cross-origin requests for the review frontend

ROUTE GROUPS:
  /api/tariffs/*        Tariff table
  /api/facilities/*     Directory lookups
  /api/assign, /cost    Pricing
  /api/runs/*           Reconciliation runs
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - obs/metrics.go: Collectors
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/tariff-engine/obs"
)

// DefaultAllowedOrigins are used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(countRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Run-ID"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", obs.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Tariff table routes
		r.Route("/tariffs", func(r chi.Router) {
			r.Get("/", h.GetTariffs)
			r.Put("/", h.PutTariffs)
		})

		// Facility routes
		r.Route("/facilities", func(r chi.Router) {
			r.Get("/", h.ListFacilities)
			r.Get("/nearby", h.NearbyFacilities)
			r.Get("/{id}", h.GetFacility)
		})

		// Pricing routes
		r.Post("/assign", h.Assign)
		r.Post("/cost", h.Cost)

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.CreateRun)
			r.Get("/{id}", h.GetRun)
			r.Get("/{id}/assignments", h.GetRunAssignments)
			r.Get("/{id}/savings", h.GetRunSavings)
			r.Get("/{id}/duplicates", h.GetRunDuplicates)
			r.Get("/{id}/zero-outs", h.GetRunZeroOuts)
			r.Get("/{id}/itineraries", h.GetRunItineraries)
			r.Get("/{id}/capillarity", h.GetRunCapillarity)
			r.Get("/{id}/same-city", h.GetRunSameCity)
			r.Get("/{id}/revisits", h.GetRunRevisits)
			r.Get("/{id}/caveats", h.GetRunCaveats)
			r.Get("/{id}/caveats/counts", h.GetRunCaveatCounts)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestContext copies chi's request id into the context key read by
// obs.Time.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(obs.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// countRequests records one request per route pattern and status code.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		obs.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
