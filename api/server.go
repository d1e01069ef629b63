/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Structured request log (zerolog)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters, labelled by route pattern
  6. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint
  /api/products/*       Product catalog and receipts
  /api/resellers/*      Reseller registry
  /api/allocations/*    Deliveries (central -> reseller)
  /api/sales/*          Sales
  /api/returns          Returns (reseller -> central)
  /api/stock            Current reseller stock
  /api/reports/*        Sales, deliveries, admin reports
  /api/entries/*        Ledger audit
  /api/reconcile/*      Balance verification and repair
  /api/scenarios/*      Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/warp/stock-ledger/metrics"
)

// RouterOptions carries the cross-cutting dependencies of the router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics // nil disables /metrics and HTTP metrics
	Log         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Log))
	r.Use(middleware.Recoverer)
	r.Use(opts.Metrics.Middleware(routePattern))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
			r.Post("/{id}/receipts", h.ReceiveStock)
		})

		r.Route("/resellers", func(r chi.Router) {
			r.Get("/", h.ListResellers)
			r.Post("/", h.CreateReseller)
			r.Get("/{id}", h.GetReseller)
			r.Put("/{id}", h.UpdateReseller)
			r.Delete("/{id}", h.DeleteReseller)
		})

		// Movement routes
		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", h.Allocate)
			r.Put("/{id}", h.EditDelivery)
			r.Delete("/{id}", h.DeleteDelivery)
		})
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.RecordSale)
			r.Put("/{id}", h.EditSale)
			r.Delete("/{id}", h.DeleteSale)
		})
		r.Post("/returns", h.ReturnStock)

		// Read side
		r.Get("/stock", h.CurrentStock)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/sales", h.SalesReport)
			r.Get("/sales/by-product", h.SalesByProduct)
			r.Get("/deliveries/{resellerID}", h.DeliveriesReport)
			r.Get("/admin", h.AdminReport)
			r.Get("/resellers", h.ResellerSummaries)
			r.Get("/dashboard", h.Dashboard)
		})
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Get("/{id}/history", h.EntryHistory)
		})

		r.Route("/reconcile", func(r chi.Router) {
			r.Get("/", h.VerifyBalances)
			r.Post("/", h.ReconcileBalances)
			r.Post("/rebuild", h.RebuildBalances)
			r.Get("/runs", h.ListReconcileRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// routePattern returns the matched chi pattern, e.g. /api/sales/{id}.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// requestLogger logs one line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			switch {
			case status >= 500:
				ev = log.Error()
			case status >= 400:
				ev = log.Warn()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("actor", r.Header.Get(HeaderActorID)).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
