/**
 * @description
 * This file sets up the HTTP router for the settlement-service: vendor webhooks, the
 * transaction query API, quoting, withdrawals and payroll funding links.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Router and standard middleware.
 * - github.com/go-chi/cors: CORS for browser clients of the query API.
 * - internal/metrics: Latency middleware and the /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/settlement-service/internal/metrics"
)

// RouterConfig collects what the router needs beyond the handlers.
type RouterConfig struct {
	Auth           Auth
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// Routes creates and returns the service router.
func Routes(h *Handlers, webhooks http.Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cfg.Metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Vendors authenticate with their own signatures, checked by the webhook handler.
	r.Post("/webhooks/{vendor}", webhooks.ServeHTTP)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.ConsumerOrSignedMiddleware)

			r.Get("/transactions", h.ListTransactionsHandler)
			r.Get("/transactions/{id}", h.GetTransactionHandler)
			r.Get("/transactions/{id}/events", h.GetTransactionEventsHandler)
			r.Post("/quotes", h.QuoteHandler)
			r.Post("/withdrawals", h.WithdrawalHandler)
		})

		// Internal-only writes.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.SignedRequestMiddleware)

			r.Post("/transactions", h.CreateTransactionHandler)
			r.Post("/payrolls", h.CreatePayrollHandler)
			r.Post("/payrolls/{id}/collection-link", h.CreatePayrollCollectionLinkHandler)
		})
	})

	return r
}
