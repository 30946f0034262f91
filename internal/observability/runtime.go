package observability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

// InitRuntime starts the metric, trace and log pipelines. Providers created
// before a failure are shut down again.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.MeterProvider = mp
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	rt.TracerProvider = tp
	lp, err := InitLogs(ctx, cfg, logger)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	rt.LoggerProvider = lp
	return rt, nil
}

func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.LoggerProvider != nil {
		if err := r.LoggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.MeterProvider != nil {
		if err := r.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.TracerProvider != nil {
		if err := r.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
