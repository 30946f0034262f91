// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	RateLimitBackendLocal = "local"
	RateLimitBackendRedis = "redis"
)

type Config struct {
	AppEnv string `mapstructure:"APP_ENV"`

	HTTPAddr              string        `mapstructure:"HTTP_ADDR"`
	HTTPReadHeaderTimeout time.Duration `mapstructure:"HTTP_READ_HEADER_TIMEOUT"`
	HTTPReadTimeout       time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout      time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	HTTPIdleTimeout       time.Duration `mapstructure:"HTTP_IDLE_TIMEOUT"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout       time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	DatabaseDriver         string        `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DatabaseConnectTimeout time.Duration `mapstructure:"DATABASE_CONNECT_TIMEOUT"`
	DatabaseIdleTimeout    time.Duration `mapstructure:"DATABASE_IDLE_TIMEOUT"`
	DatabaseMaxOpenConns   int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	DatabaseMaxIdleConns   int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`

	RedisEnabled     bool          `mapstructure:"REDIS_ENABLED"`
	RedisAddr        string        `mapstructure:"REDIS_ADDR"`
	RedisPassword    string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int           `mapstructure:"REDIS_DB"`
	RedisDialTimeout time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	RedisReadTimeout time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	RedisKeyPrefix   string        `mapstructure:"REDIS_KEY_PREFIX"`

	JWTIssuer             string        `mapstructure:"JWT_ISSUER"`
	JWTAudience           string        `mapstructure:"JWT_AUDIENCE"`
	JWTAccessSecret       string        `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret      string        `mapstructure:"JWT_REFRESH_SECRET"`
	JWTAccessTTL          time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL         time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	JWTRefreshRememberTTL time.Duration `mapstructure:"JWT_REFRESH_REMEMBER_TTL"`
	RefreshTokenPepper    string        `mapstructure:"REFRESH_TOKEN_PEPPER"`
	BcryptCost            int           `mapstructure:"BCRYPT_COST"`

	LoginMaxAttempts       int           `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginLockDuration      time.Duration `mapstructure:"LOGIN_LOCK_DURATION"`
	MaxConcurrentSessions  int           `mapstructure:"MAX_CONCURRENT_SESSIONS"`
	SessionCleanupInterval time.Duration `mapstructure:"SESSION_CLEANUP_INTERVAL"`
	SessionRetention       time.Duration `mapstructure:"SESSION_RETENTION"`

	RateLimitBackend        string        `mapstructure:"RATE_LIMIT_BACKEND"`
	RateLimitFailureMode    string        `mapstructure:"RATE_LIMIT_FAILURE_MODE"`
	RateLimitRegister       int           `mapstructure:"RATE_LIMIT_REGISTER"`
	RateLimitRegisterWindow time.Duration `mapstructure:"RATE_LIMIT_REGISTER_WINDOW"`
	RateLimitLogin          int           `mapstructure:"RATE_LIMIT_LOGIN"`
	RateLimitLoginWindow    time.Duration `mapstructure:"RATE_LIMIT_LOGIN_WINDOW"`
	RateLimitRefresh        int           `mapstructure:"RATE_LIMIT_REFRESH"`
	RateLimitRefreshWindow  time.Duration `mapstructure:"RATE_LIMIT_REFRESH_WINDOW"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELMetricsEnabled        bool          `mapstructure:"OTEL_METRICS_ENABLED"`
	OTELTracingEnabled        bool          `mapstructure:"OTEL_TRACING_ENABLED"`
	OTELLogsEnabled           bool          `mapstructure:"OTEL_LOGS_ENABLED"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`
	OTELTraceSampleRatio      float64       `mapstructure:"OTEL_TRACE_SAMPLE_RATIO"`
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), EnvProduction)
}

var defaults = map[string]any{
	"APP_ENV":                      EnvDevelopment,
	"HTTP_ADDR":                    ":8080",
	"HTTP_READ_HEADER_TIMEOUT":     "5s",
	"HTTP_READ_TIMEOUT":            "15s",
	"HTTP_WRITE_TIMEOUT":           "30s",
	"HTTP_IDLE_TIMEOUT":            "60s",
	"REQUEST_TIMEOUT":              "30s",
	"SHUTDOWN_TIMEOUT":             "15s",
	"DATABASE_DRIVER":              DriverPostgres,
	"DATABASE_URL":                 "",
	"DATABASE_CONNECT_TIMEOUT":     "5s",
	"DATABASE_IDLE_TIMEOUT":        "45s",
	"DATABASE_MAX_OPEN_CONNS":      20,
	"DATABASE_MAX_IDLE_CONNS":      5,
	"REDIS_ENABLED":                false,
	"REDIS_ADDR":                   "localhost:6379",
	"REDIS_PASSWORD":               "",
	"REDIS_DB":                     0,
	"REDIS_DIAL_TIMEOUT":           "5s",
	"REDIS_READ_TIMEOUT":           "3s",
	"REDIS_KEY_PREFIX":             "taskauth",
	"JWT_ISSUER":                   "taskmanager-auth",
	"JWT_AUDIENCE":                 "taskmanager-api",
	"JWT_ACCESS_SECRET":            "",
	"JWT_REFRESH_SECRET":           "",
	"JWT_ACCESS_TTL":               "30m",
	"JWT_REFRESH_TTL":              "168h",
	"JWT_REFRESH_REMEMBER_TTL":     "720h",
	"REFRESH_TOKEN_PEPPER":         "",
	"BCRYPT_COST":                  12,
	"LOGIN_MAX_ATTEMPTS":           5,
	"LOGIN_LOCK_DURATION":          "30m",
	"MAX_CONCURRENT_SESSIONS":      5,
	"SESSION_CLEANUP_INTERVAL":     "15m",
	"SESSION_RETENTION":            "24h",
	"RATE_LIMIT_BACKEND":           RateLimitBackendLocal,
	"RATE_LIMIT_FAILURE_MODE":      "fail_open",
	"RATE_LIMIT_REGISTER":          5,
	"RATE_LIMIT_REGISTER_WINDOW":   "15m",
	"RATE_LIMIT_LOGIN":             10,
	"RATE_LIMIT_LOGIN_WINDOW":      "15m",
	"RATE_LIMIT_REFRESH":           30,
	"RATE_LIMIT_REFRESH_WINDOW":    "15m",
	"LOG_LEVEL":                    "info",
	"LOG_FORMAT":                   "json",
	"OTEL_SERVICE_NAME":            "taskmanager-auth",
	"OTEL_ENVIRONMENT":             "",
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":  true,
	"OTEL_METRICS_ENABLED":         false,
	"OTEL_TRACING_ENABLED":         false,
	"OTEL_LOGS_ENABLED":            false,
	"OTEL_METRICS_EXPORT_INTERVAL": "30s",
	"OTEL_TRACE_SAMPLE_RATIO":      1.0,
}

// Load reads .env (if present) and the process environment. Env vars
// override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is ignored; a
// file that exists but cannot be read or parsed is an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !configFileMissing(err) {
		err = fmt.Errorf("parse config %s: %w", path, err)
		recordConfigValidationEvent(context.Background(), os.Getenv("APP_ENV"), "failure", classifyConfigLoadError(err))
		return nil, err
	}
	return load(v)
}

func configFileMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		err = fmt.Errorf("parse config: %w", err)
		recordConfigValidationEvent(context.Background(), v.GetString("APP_ENV"), "failure", classifyConfigLoadError(err))
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.AppEnv, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.AppEnv, "success", classifyConfigLoadError(nil))
	return &cfg, nil
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	c.RateLimitFailureMode = strings.ToLower(strings.TrimSpace(c.RateLimitFailureMode))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.OTELEnvironment == "" {
		c.OTELEnvironment = c.AppEnv
	}
}

// Validate reports every problem at once, joined.
// Validation classes, reported on config.validation.events.
const (
	ClassServer     = "server"
	ClassDatabase   = "database"
	ClassSecret     = "secret"
	ClassLimits     = "limits"
	ClassDependency = "dependency"
)

// ValidationError is one failed check. Validate joins every failure.
type ValidationError struct {
	Class string
	Msg   string
}

func (e *ValidationError) Error() string { return "validate config: " + e.Msg }

func (c *Config) Validate() error {
	var errs []error
	add := func(class, format string, args ...any) {
		errs = append(errs, &ValidationError{Class: class, Msg: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		add(ClassServer, "HTTP_ADDR is required")
	}
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		add(ClassDatabase, "DATABASE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		add(ClassDatabase, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		add(ClassSecret, "JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if len(c.JWTRefreshSecret) < 32 {
		add(ClassSecret, "JWT_REFRESH_SECRET must be at least 32 bytes")
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		add(ClassSecret, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if len(c.RefreshTokenPepper) < 16 {
		add(ClassSecret, "REFRESH_TOKEN_PEPPER must be at least 16 bytes")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		add(ClassSecret, "BCRYPT_COST must be between 4 and 31")
	}

	positive := map[string]time.Duration{
		"JWT_ACCESS_TTL":             c.JWTAccessTTL,
		"JWT_REFRESH_TTL":            c.JWTRefreshTTL,
		"JWT_REFRESH_REMEMBER_TTL":   c.JWTRefreshRememberTTL,
		"LOGIN_LOCK_DURATION":        c.LoginLockDuration,
		"SESSION_CLEANUP_INTERVAL":   c.SessionCleanupInterval,
		"SESSION_RETENTION":          c.SessionRetention,
		"RATE_LIMIT_REGISTER_WINDOW": c.RateLimitRegisterWindow,
		"RATE_LIMIT_LOGIN_WINDOW":    c.RateLimitLoginWindow,
		"RATE_LIMIT_REFRESH_WINDOW":  c.RateLimitRefreshWindow,
		"REQUEST_TIMEOUT":            c.RequestTimeout,
		"SHUTDOWN_TIMEOUT":           c.ShutdownTimeout,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			add(ClassLimits, "%s must be positive", key)
		}
	}
	if c.JWTRefreshRememberTTL > 0 && c.JWTRefreshRememberTTL < c.JWTRefreshTTL {
		add(ClassLimits, "JWT_REFRESH_REMEMBER_TTL must not be shorter than JWT_REFRESH_TTL")
	}

	counts := map[string]int{
		"LOGIN_MAX_ATTEMPTS":      c.LoginMaxAttempts,
		"MAX_CONCURRENT_SESSIONS": c.MaxConcurrentSessions,
		"RATE_LIMIT_REGISTER":     c.RateLimitRegister,
		"RATE_LIMIT_LOGIN":        c.RateLimitLogin,
		"RATE_LIMIT_REFRESH":      c.RateLimitRefresh,
	}
	for _, key := range slices.Sorted(maps.Keys(counts)) {
		if counts[key] <= 0 {
			add(ClassLimits, "%s must be positive", key)
		}
	}

	switch c.RateLimitBackend {
	case RateLimitBackendLocal:
	case RateLimitBackendRedis:
		if !c.RedisEnabled {
			add(ClassDependency, "RATE_LIMIT_BACKEND=redis requires REDIS_ENABLED=true")
		}
	default:
		add(ClassLimits, "RATE_LIMIT_BACKEND must be %q or %q", RateLimitBackendLocal, RateLimitBackendRedis)
	}
	switch c.RateLimitFailureMode {
	case "fail_open", "fail_closed":
	default:
		add(ClassLimits, "RATE_LIMIT_FAILURE_MODE must be fail_open or fail_closed")
	}
	if c.RedisEnabled && strings.TrimSpace(c.RedisAddr) == "" {
		add(ClassDependency, "REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	if c.OTELTraceSampleRatio < 0 || c.OTELTraceSampleRatio > 1 {
		add(ClassServer, "OTEL_TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	return errors.Join(errs...)
}
