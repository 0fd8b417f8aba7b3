package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/auth"
	"github.com/frahmantamala/restaurant-pos/internal/guard"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/transport/middleware"
	"github.com/frahmantamala/restaurant-pos/internal/transport/swagger"
	"github.com/go-chi/chi"
)

type RouterDeps struct {
	Guard          middleware.Evaluator
	Store          middleware.SessionReader
	AuthHandler    *auth.Handler
	Notices        NoticeSource
	OwnerAccess    func(*session.Session) bool
	Health         map[string]Pinger
	Metrics        http.Handler
	MetricsPath    string
	AllowedOrigins string
	LoginPerMinute int
	TrustedProxies []string
	Logger         *slog.Logger
}

func RegisterAllRoutes(router chi.Router, deps RouterDeps) {
	logger := deps.Logger
	healthHandler := NewHealthHandler(deps.Health)
	viewHandler := NewViewHandler(deps.Notices, deps.OwnerAccess, logger)
	trusted, err := middleware.ParseTrustedProxies(deps.TrustedProxies)
	if err != nil {
		if logger != nil {
			logger.Warn("Ignoring trusted proxies", "error", err)
		}
		trusted = nil
	}
	loginLimiter := middleware.NewLoginLimiter(deps.LoginPerMinute, middleware.WithTrustedProxies(trusted...))

	requireAccess := func(req guard.Requirement) func(http.Handler) http.Handler {
		return middleware.RequireAccess(deps.Guard, deps.Store, req, logger)
	}

	// Apply global middleware
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		status, body := internal.NewNotFoundError("Route not found", internal.ErrCodeNotFound).ToHTTPResponse()
		viewHandler.WriteJSON(w, status, body)
	})

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get(swagger.SpecPath, swagger.SpecHandler)
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	if deps.Metrics != nil {
		router.Handle(deps.MetricsPath, deps.Metrics)
	}

	router.Get(middleware.LoginPath, viewHandler.Login)
	for _, view := range Views() {
		router.With(requireAccess(view.Requirement)).Get(view.Path, viewHandler.Page(view.Name))
	}

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)
		r.Get("/notices", viewHandler.Notices)

		r.Route("/auth", func(sr chi.Router) {
			sr.With(loginLimiter.Handler).Post("/login", deps.AuthHandler.Login)
			sr.Post("/logout", deps.AuthHandler.Logout)
		})
		r.Get("/session", deps.AuthHandler.Session)

		// Shift flows are cashier-only; opening one must not require one.
		r.Group(func(cr chi.Router) {
			cr.Use(requireAccess(guard.Requirement{Roles: []session.Role{session.RoleCashier}}))
			cr.Post("/shifts/open", deps.AuthHandler.OpenShift)
			cr.Post("/shifts/close", deps.AuthHandler.CloseShift)
		})
	})
}
