/**
 * @description
 * This file sets up the HTTP router for the transfer engine. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the dashboard and browser SDKs.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineRoutes creates and returns the router for the transfer engine.
func EngineRoutes(h *EngineHandlers, projectAuthSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Project-authenticated API surface.
	r.Group(func(r chi.Router) {
		r.Use(ProjectAuthMiddleware(projectAuthSecret))

		r.Post("/accounts", h.CreateAccountHandler)
		r.Get("/accounts/{accountID}", h.GetAccountHandler)
		r.Get("/accounts/{accountID}/balance", h.GetBalanceHandler)

		r.Post("/transfers", h.CreateTransferHandler)
		r.Get("/transfers/{transferID}", h.GetTransferHandler)
		r.Post("/transfers/{transferID}/cancel", h.CancelTransferHandler)

		r.Get("/analytics/flows", h.QueryFlowsHandler)
	})

	// Operator-only surface: compliance mutations, hold release, review queue,
	// and aggregate rebuild.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/accounts/{accountID}/kyc-tier", h.SetKYCTierHandler)
		r.Post("/internal/accounts/{accountID}/suspend", h.SuspendAccountHandler)
		r.Post("/internal/accounts/{accountID}/close", h.CloseAccountHandler)
		r.Post("/internal/transfers/{transferID}/release", h.ReleaseTransferHandler)
		r.Get("/internal/transfers/review-required", h.ListReviewRequiredHandler)
		r.Post("/internal/analytics/flows/rebuild", h.RebuildFlowsHandler)
	})

	return r
}
