package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/owlette/server/internal/auth"
	"github.com/owlette/server/internal/http/handlers"
	"github.com/owlette/server/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	registrationHandler *handlers.RegistrationHandler,
	tokenHandler *handlers.TokenHandler,
	mfaHandler *handlers.MfaHandler,
	sessions *auth.SessionService,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		// Agent-facing routes: the registration code / refresh token is
		// the credential, no session required.
		r.Post("/registration/exchange", registrationHandler.HandleExchange)
		r.Post("/agent/refresh", tokenHandler.HandleRefresh)

		// Operator routes (session required)
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionMiddleware(sessions))

			r.Post("/registration/code", registrationHandler.HandleGenerateCode)

			r.Post("/mfa/setup", mfaHandler.HandleSetup)
			r.Post("/mfa/verify-setup", mfaHandler.HandleVerifySetup)
			r.Post("/mfa/verify-login", mfaHandler.HandleVerifyLogin)

			// Admin-only token management
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/tokens", tokenHandler.HandleList)
				r.Post("/tokens/revoke", tokenHandler.HandleRevoke)
			})
		})
	})

	return r
}
