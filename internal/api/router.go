/**
 * @description
 * This file sets up the HTTP router for the entitlement service. It defines the
 * API endpoints, associates them with their corresponding handlers, and applies
 * middleware for logging, panic recovery, CORS, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs from configuration.
type RouterConfig struct {
	FirebaseProjectID string
	AuthCertsURL      string
	AllowedOrigins    []string
}

// NewRouter creates and returns the service's router.
func NewRouter(h *Handlers, webhook http.Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", h.HealthHandler)

	// Provider webhooks authenticate by signature, not by user token.
	r.Post("/api/webhook/stripe", webhook.ServeHTTP)

	// Routes that require an authenticated user.
	r.Group(func(r chi.Router) {
		r.Use(FirebaseAuthMiddleware(cfg.FirebaseProjectID, cfg.AuthCertsURL))

		r.Post("/api/create-checkout-session", h.CreateCheckoutSessionHandler)
		r.Get("/api/verify-session/{sessionId}", h.VerifySessionHandler)

		r.Get("/api/entitlements", h.EntitlementsHandler)
		r.Post("/api/entitlements/refresh", h.RefreshEntitlementsHandler)
		r.Get("/api/entitlements/books/{bookId}", h.BookAccessHandler)

		r.Post("/api/progress/{bookId}/answers", h.RecordAnswerHandler)
		r.Get("/api/progress", h.ListProgressHandler)
		r.Get("/api/progress/{bookId}", h.GetProgressHandler)

		r.Post("/api/streak/practice", h.RecordPracticeHandler)
		r.Get("/api/streak", h.GetStreakHandler)

		r.Post("/api/reflections", h.AddReflectionHandler)
		r.Get("/api/reflections/{bookId}", h.ListReflectionsHandler)
	})

	return r
}
