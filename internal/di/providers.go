package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/taskmanager-auth/internal/app"
	"github.com/sandeepkv93/taskmanager-auth/internal/config"
	"github.com/sandeepkv93/taskmanager-auth/internal/database"
	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/health"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/apierror"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/handler"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/middleware"
	"github.com/sandeepkv93/taskmanager-auth/internal/http/router"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

// Store is the opened database, or an unavailable marker when a
// non-production process started without one.
type Store struct {
	DB        *gorm.DB
	Available bool
}

var observabilitySet = wire.NewSet(provideRuntime, provideLogger)

var storeSet = wire.NewSet(provideStore, provideRedis, provideUserRepository, provideSessionRepository)

var serviceSet = wire.NewSet(
	provideJWTManager,
	provideTokenService,
	provideHasher,
	provideAuthService,
	provideGateService,
	provideSessionService,
	provideAdminService,
	provideSessionReaper,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
	wire.Bind(new(service.SessionServiceInterface), new(*service.SessionService)),
	wire.Bind(new(service.AdminServiceInterface), new(*service.AdminService)),
)

var httpSet = wire.NewSet(
	provideErrorWriter,
	handler.NewAuthHandler,
	handler.NewAdminHandler,
	provideRateLimitPolicies,
	provideReadiness,
	provideRouter,
	app.NewHTTPServer,
	app.New,
)

func provideRuntime(ctx context.Context, cfg *config.Config) (*observability.Runtime, func(), error) {
	bootstrap := observability.NewLogger(cfg, nil)
	rt, err := observability.InitRuntime(ctx, cfg, bootstrap)
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			bootstrap.Warn("observability shutdown failed", "error", err)
		}
	}
	return rt, cleanup, nil
}

func provideLogger(cfg *config.Config, rt *observability.Runtime) *slog.Logger {
	logger := observability.NewLogger(cfg, rt.LoggerProvider)
	slog.SetDefault(logger)
	return logger
}

// provideStore opens and migrates the database. Outside production a failed
// connection degrades to an unavailable store so health routes still answer.
func provideStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, func(), error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		if cfg.IsProduction() {
			return nil, nil, err
		}
		logger.Error("store unavailable, serving health routes only", "error", err)
		return &Store{}, func() {}, nil
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			logger.Warn("database close failed", "error", err)
		}
	}
	if err := database.Migrate(db); err != nil {
		cleanup()
		return nil, nil, err
	}
	return &Store{DB: db, Available: true}, cleanup, nil
}

// provideRedis returns nil when Redis is disabled, or when it is unreachable
// outside production.
func provideRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, func(), error) {
	client, err := database.NewRedisClient(ctx, cfg)
	if err != nil {
		if cfg.IsProduction() {
			return nil, nil, err
		}
		logger.Warn("redis unavailable, using local rate limiting", "error", err)
		return nil, func() {}, nil
	}
	if client == nil {
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

func provideUserRepository(store *Store) repository.UserRepository {
	return repository.NewUserRepository(store.DB)
}

func provideSessionRepository(store *Store) repository.SessionRepository {
	return repository.NewSessionRepository(store.DB)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func provideTokenService(cfg *config.Config, jwtMgr *security.JWTManager) *service.TokenService {
	return service.NewTokenService(jwtMgr, cfg.RefreshTokenPepper, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, cfg.JWTRefreshRememberTTL)
}

func provideHasher(cfg *config.Config) *security.Hasher {
	return security.NewHasher(cfg.BcryptCost)
}

func provideAuthService(
	cfg *config.Config,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *service.TokenService,
	hasher *security.Hasher,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(users, sessions, tokens, hasher, service.AuthConfig{
		Lockout:               domain.LockoutPolicy{MaxAttempts: cfg.LoginMaxAttempts, LockDuration: cfg.LoginLockDuration},
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
	}, logger)
}

func provideGateService(users repository.UserRepository, sessions repository.SessionRepository, tokens *service.TokenService, logger *slog.Logger) *service.GateService {
	return service.NewGateService(users, sessions, tokens, logger)
}

func provideSessionService(users repository.UserRepository, sessions repository.SessionRepository, logger *slog.Logger) *service.SessionService {
	return service.NewSessionService(users, sessions, logger)
}

func provideAdminService(users repository.UserRepository, sessions repository.SessionRepository, logger *slog.Logger) *service.AdminService {
	return service.NewAdminService(users, sessions, logger)
}

// provideSessionReaper returns nil without a store; App skips a nil reaper.
func provideSessionReaper(cfg *config.Config, store *Store, sessions repository.SessionRepository, logger *slog.Logger) *service.SessionReaper {
	if !store.Available {
		return nil
	}
	return service.NewSessionReaper(sessions, cfg.SessionCleanupInterval, cfg.SessionRetention, logger)
}

func provideErrorWriter(cfg *config.Config, logger *slog.Logger) *apierror.Writer {
	return apierror.NewWriter(logger, !cfg.IsProduction())
}

func provideRateLimitPolicies(cfg *config.Config, client *redis.Client, logger *slog.Logger) router.RouteRateLimitPolicies {
	var limiter middleware.Limiter = middleware.NewLocalFixedWindowLimiter()
	if cfg.RateLimitBackend == config.RateLimitBackendRedis && client != nil {
		limiter = middleware.NewRedisFixedWindowLimiter(client, cfg.RedisKeyPrefix+":throttle")
	}
	mode := middleware.FailureMode(cfg.RateLimitFailureMode)
	build := func(scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
		return middleware.NewRateLimiter(limiter, middleware.RateLimitPolicy{Limit: limit, Window: window}, mode, scope).
			WithLogger(logger).
			Middleware()
	}
	return router.RouteRateLimitPolicies{
		router.RoutePolicyRegister: build(router.RoutePolicyRegister, cfg.RateLimitRegister, cfg.RateLimitRegisterWindow),
		router.RoutePolicyLogin:    build(router.RoutePolicyLogin, cfg.RateLimitLogin, cfg.RateLimitLoginWindow),
		router.RoutePolicyRefresh:  build(router.RoutePolicyRefresh, cfg.RateLimitRefresh, cfg.RateLimitRefreshWindow),
	}
}

func provideReadiness(store *Store, client *redis.Client) *health.ReadinessRunner {
	var checkers []health.Checker
	if store.Available {
		checkers = append(checkers, health.DBChecker(store.DB))
	} else {
		checkers = append(checkers, health.CheckerFunc(func(context.Context) health.CheckResult {
			return health.CheckResult{Name: "db", Healthy: false, Error: "store unavailable"}
		}))
	}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewReadinessRunner(2*time.Second, time.Second, checkers...)
}

func provideRouter(
	cfg *config.Config,
	store *Store,
	authHandler *handler.AuthHandler,
	adminHandler *handler.AdminHandler,
	gate *service.GateService,
	errs *apierror.Writer,
	policies router.RouteRateLimitPolicies,
	readiness *health.ReadinessRunner,
	logger *slog.Logger,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:            authHandler,
		AdminHandler:           adminHandler,
		Gate:                   gate,
		Errors:                 errs,
		RouteRateLimitPolicies: policies,
		Readiness:              readiness,
		StoreAvailable:         store.Available,
		RequestTimeout:         cfg.RequestTimeout,
		Logger:                 logger,
		EnableOTelHTTP:         cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	})
}
