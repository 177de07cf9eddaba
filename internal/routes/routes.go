package routes

import (
	"github.com/bulwark-auth/bulwark/internal/auth"
	"github.com/bulwark-auth/bulwark/internal/handlers"
	"github.com/bulwark-auth/bulwark/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	securityHandler *handlers.SecurityHandler,
	tokenManager *auth.TokenManager,
) {
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/verify-device", authHandler.VerifyDevice)
		r.Post("/auth/resend-code", authHandler.ResendCode)
	})

	// Admin-only security surface
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(auth.RequireRole("admin"))

		r.Get("/security/blocked-ips", securityHandler.ListBlockedIPs)
		r.Post("/security/blocked-ips", securityHandler.BlockIP)
		r.Delete("/security/blocked-ips/{ip}", securityHandler.UnblockIP)

		r.Get("/security/events", securityHandler.ListUnresolvedEvents)
		r.Post("/security/events/{id}/resolve", securityHandler.ResolveEvent)
		r.Get("/security/events/ip/{ip}", securityHandler.ListEventsByIP)
		r.Get("/security/suspicious-actors", securityHandler.ListSuspiciousActors)
	})
}
