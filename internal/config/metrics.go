package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	configCounter     metric.Int64Counter
)

// recordConfigValidationEvent counts load outcomes. The counter is bound
// lazily so it lands on whatever meter provider is global at first use.
func recordConfigValidationEvent(ctx context.Context, profile, outcome, errorClass string) {
	configMetricsOnce.Do(func() {
		counter, err := otel.Meter("taskmanager-auth/config").Int64Counter(
			"config.validation.events",
			metric.WithDescription("Configuration load attempts by outcome and failure class"),
		)
		if err == nil {
			configCounter = counter
		}
	})
	if configCounter == nil {
		return
	}
	configCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

// normalizeConfigProfile keeps the profile attribute to a fixed set.
func normalizeConfigProfile(profile string) string {
	switch v := strings.ToLower(strings.TrimSpace(profile)); v {
	case "":
		return "unknown"
	case EnvProduction, EnvDevelopment, "test":
		return v
	default:
		return "other"
	}
}

// classifyConfigLoadError reports the class of the first failed check when
// err comes from Validate, otherwise whether reading or decoding failed.
func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Class
	}
	if strings.HasPrefix(err.Error(), "parse config") {
		return "parse"
	}
	return "load"
}
