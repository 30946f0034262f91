package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/taskmanager-auth/internal/health"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/apierror"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/handler"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/middleware"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/response"
)

const (
	RoutePolicyRegister = "register"
	RoutePolicyLogin    = "login"
	RoutePolicyRefresh  = "refresh"
)

// RouteRateLimitPolicies overrides the throttle for a named route group.
type RouteRateLimitPolicies map[string]func(http.Handler) http.Handler

var defaultRoutePolicies = map[string]middleware.RateLimitPolicy{
	RoutePolicyRegister: {Limit: 5, Window: 15 * time.Minute},
	RoutePolicyLogin:    {Limit: 10, Window: 15 * time.Minute},
	RoutePolicyRefresh:  {Limit: 30, Window: 15 * time.Minute},
}

type Dependencies struct {
	AuthHandler            *handler.AuthHandler
	AdminHandler           *handler.AdminHandler
	Gate                   middleware.Authenticator
	Errors                 *apierror.Writer
	RouteRateLimitPolicies RouteRateLimitPolicies
	Readiness              *health.ReadinessRunner
	// StoreAvailable is false when the service started without a database;
	// store-backed routes then answer 503.
	StoreAvailable bool
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	if dep.Logger == nil {
		dep.Logger = slog.Default()
	}
	if dep.Errors == nil {
		dep.Errors = apierror.NewWriter(dep.Logger, false)
	}
	if dep.RequestTimeout <= 0 {
		dep.RequestTimeout = 30 * time.Second
	}
	if dep.MaxBodyBytes <= 0 {
		dep.MaxBodyBytes = 1 << 20
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(dep.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(dep.MaxBodyBytes))
	r.Use(chimiddleware.Timeout(dep.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	if !dep.StoreAvailable {
		r.With(middleware.StoreUnavailable).HandleFunc("/auth/*", http.NotFound)
		r.With(middleware.StoreUnavailable).HandleFunc("/admin/*", http.NotFound)
	} else {
		mountAuth(r, dep)
		mountAdmin(r, dep)
	}

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func mountAuth(r chi.Router, dep Dependencies) {
	authn := middleware.AuthMiddleware(dep.Gate, dep.Errors)
	ah := dep.AuthHandler

	r.Route("/auth", func(r chi.Router) {
		r.With(routePolicy(dep, RoutePolicyRegister)).Post("/register", ah.Register)
		r.With(routePolicy(dep, RoutePolicyLogin)).Post("/login", ah.Login)
		r.With(routePolicy(dep, RoutePolicyRefresh)).Post("/refresh", ah.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Post("/logout", ah.Logout)
			r.Post("/logout-all", ah.LogoutAll)
			r.Get("/me", ah.Me)
			r.Get("/sessions", ah.Sessions)
			r.Delete("/sessions/{sessionId}", ah.RevokeSession)
			r.Put("/change-password", ah.ChangePassword)
		})
	})
}

func mountAdmin(r chi.Router, dep Dependencies) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(dep.Gate, dep.Errors))
		r.Use(middleware.RequireAdmin)
		r.Post("/users/{userId}/unlock", dep.AdminHandler.UnlockUser)
		r.Get("/sessions/suspicious", dep.AdminHandler.SuspiciousSessions)
	})
}

func routePolicy(dep Dependencies, name string) func(http.Handler) http.Handler {
	if mw, ok := dep.RouteRateLimitPolicies[name]; ok && mw != nil {
		return mw
	}
	return middleware.NewRateLimiter(middleware.NewLocalFixedWindowLimiter(), defaultRoutePolicies[name], middleware.FailClosed, name).
		WithLogger(dep.Logger).
		Middleware()
}
