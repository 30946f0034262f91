package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"
	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
)

// Open connects to the configured store and verifies it answers a ping
// within the connect timeout.
func Open(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DatabaseURL)
	case config.DriverPostgres, "":
		dialector = postgres.Open(withConnectTimeout(cfg.DatabaseURL, cfg.DatabaseConnectTimeout))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	logLevel := logger.Warn
	if cfg.IsProduction() {
		logLevel = logger.Error
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.DatabaseMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	}
	if cfg.DatabaseMaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	}
	if cfg.DatabaseIdleTimeout > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.DatabaseIdleTimeout)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingTimeout := cfg.DatabaseConnectTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables owned by this service.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.RotatedToken{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withConnectTimeout adds connect_timeout to a postgres DSN in either URL or
// key=value form unless the caller already set one.
func withConnectTimeout(dsn string, timeout time.Duration) string {
	if timeout <= 0 || strings.Contains(dsn, "connect_timeout") {
		return dsn
	}
	secs := int(timeout.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("connect_timeout", fmt.Sprintf("%d", secs))
		u.RawQuery = q.Encode()
		return u.String()
	}
	return strings.TrimSpace(dsn) + fmt.Sprintf(" connect_timeout=%d", secs)
}
