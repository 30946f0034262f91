package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "taskmanager-auth"

type AppMetrics struct {
	authRegisterCounter    metric.Int64Counter
	authLoginCounter       metric.Int64Counter
	authRefreshCounter     metric.Int64Counter
	authLogoutCounter      metric.Int64Counter
	tokenReuseCounter      metric.Int64Counter
	accountLockoutCounter  metric.Int64Counter
	accessTokenValidations metric.Int64Counter
	repositoryOperations   metric.Int64Counter
	rateLimitDecisions     metric.Int64Counter
	sessionCleanupDeleted  metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.register.attempts", &m.authRegisterCounter},
		{"auth.login.attempts", &m.authLoginCounter},
		{"auth.refresh.attempts", &m.authRefreshCounter},
		{"auth.logout.attempts", &m.authLogoutCounter},
		{"auth.token_reuse.detections", &m.tokenReuseCounter},
		{"auth.account.lockouts", &m.accountLockoutCounter},
		{"auth.access_token.validations", &m.accessTokenValidations},
		{"repository.operations", &m.repositoryOperations},
		{"rate_limit.decisions", &m.rateLimitDecisions},
		{"session.cleanup.deleted", &m.sessionCleanupDeleted},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}
	return &m, nil
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthRegister(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authRegisterCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogin(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(ctx context.Context, scope, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("status", status),
	))
}

func RecordTokenReuseDetected(ctx context.Context, source string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.tokenReuseCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func RecordAccountLockout(ctx context.Context) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.accountLockoutCounter.Add(ctx, 1)
}

func RecordAccessTokenValidation(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.accessTokenValidations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

func RecordSessionCleanup(ctx context.Context, kind string, deleted int64) {
	m := currentMetrics()
	if m == nil || deleted <= 0 {
		return
	}
	m.sessionCleanupDeleted.Add(ctx, deleted, metric.WithAttributes(attribute.String("kind", kind)))
}
