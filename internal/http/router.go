package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/auth"
	"github.com/signalix/phoneauth/internal/http/handlers"
	"github.com/signalix/phoneauth/internal/middleware"
	"github.com/signalix/phoneauth/internal/repo"
)

// RouterDeps holds everything the routes need.
type RouterDeps struct {
	Logger *zap.Logger

	OTP    *handlers.OtpHandler
	Auth   *handlers.AuthHandler
	Health *handlers.HealthHandler
	// Admin routes are mounted only when both Admin and AdminToken are set.
	Admin      *handlers.AdminHandler
	AdminToken string

	JWT   *auth.JWTService
	Users repo.UserRepo

	// IPLimiter guards the code endpoints per client address. Nil disables it.
	IPLimiter *middleware.RateLimiter

	CORSAllowedOrigins []string

	// RequestTimeout cancels handlers that run longer; zero means defaultRequestTimeout.
	// Keep it below the server WriteTimeout so the 504 still reaches the client.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 30 * time.Second

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.AdminTokenHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]any{"success": false, "error": "not_found", "message": "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, map[string]any{"success": false, "error": "method_not_allowed", "message": "method not allowed"})
	})

	r.Get("/health", d.Health.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.IPLimiter != nil {
				r.Use(middleware.RateLimitMiddleware(d.IPLimiter, middleware.GetIPKey))
			}
			r.Post("/request_otp", d.OTP.HandleRequestOTP)
			r.Post("/verify_otp", d.OTP.HandleVerifyOTP)
		})
		r.Post("/refresh", d.Auth.HandleRefresh)
		r.Post("/logout", d.Auth.HandleLogout)
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.JWT, d.Users))
		r.Get("/me", d.Auth.HandleMe)
	})

	if d.Admin != nil && d.AdminToken != "" {
		r.Route("/admin/otp", func(r chi.Router) {
			r.Use(middleware.AdminOnly(d.AdminToken))
			r.Post("/sweep", d.Admin.HandleSweep)
			r.Get("/stats", d.Admin.HandleStats)
		})
	}

	return r
}
