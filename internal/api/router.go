package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/config"
	"github.com/oneclicktag/server/internal/integration"
	"github.com/oneclicktag/server/internal/websocket"
)

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, db *gorm.DB, hub *websocket.Hub, svc *integration.Service) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	apiLimiter := NewRateLimiter(rate.Limit(20), 40)
	apiLimiter.CleanupOldLimiters()
	authLimiter := NewRateLimiter(rate.Limit(1), 5)
	authLimiter.CleanupOldLimiters()

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimitMiddleware(apiLimiter))

		// Auth routes
		r.Group(func(r chi.Router) {
			r.Use(StrictRateLimitMiddleware(authLimiter))
			r.Post("/auth/login", HandleLogin(db, cfg))
			r.Post("/auth/logout", HandleLogout())
			r.Post("/auth/setup", HandleSetup(db, cfg))
			r.Get("/auth/setup-status", HandleGetSetupStatus(db))
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret, db))

			// User routes
			r.Get("/user/me", HandleGetCurrentUser(db))

			// Customer routes
			r.Get("/customers", HandleGetCustomers(db))
			r.Post("/customers", HandleCreateCustomer(db))
			r.Get("/customers/{id}", HandleGetCustomer(db))
			r.Put("/customers/{id}", HandleUpdateCustomer(db))
			r.Delete("/customers/{id}", HandleDeleteCustomer(db))

			// Integration routes
			r.Get("/customers/{id}/integration/auth-url", HandleGetAuthURL(db, svc))
			r.Post("/customers/{id}/integration/connect", HandleConnect(db, svc))
			r.Post("/customers/{id}/integration/disconnect", HandleDisconnect(db, svc))
			r.Get("/customers/{id}/integration/status", HandleGetConnectionStatus(db, svc))
			r.Get("/customers/{id}/integration/progress", HandleProgressStream(db, svc))
			r.Get("/customers/{id}/ads-accounts", HandleGetAdsAccounts(db, svc))
			r.Put("/customers/{id}/ads-accounts/active", HandleSelectAdsAccount(db))

			// Tracking routes
			r.Get("/customers/{id}/trackings", HandleGetTrackings(db))
			r.Post("/customers/{id}/trackings", HandleCreateTracking(db, svc))
			r.Get("/customers/{id}/trackings/{trackingId}", HandleGetTracking(db))
			r.Delete("/customers/{id}/trackings/{trackingId}", HandleDeleteTracking(db, svc))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWebSocket)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
