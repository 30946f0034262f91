package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestClassifyConfigLoadErrorUsesFirstFailedCheck(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"short secret", map[string]string{"JWT_ACCESS_SECRET": "short"}, ClassSecret},
		{"short pepper", map[string]string{"REFRESH_TOKEN_PEPPER": "x"}, ClassSecret},
		{"redis backend without redis", map[string]string{"RATE_LIMIT_BACKEND": "redis"}, ClassDependency},
		{"redis without address", map[string]string{"REDIS_ENABLED": "true", "REDIS_ADDR": " "}, ClassDependency},
		{"bad driver", map[string]string{"DATABASE_DRIVER": "mysql"}, ClassDatabase},
		{"zero window", map[string]string{"RATE_LIMIT_LOGIN_WINDOW": "0s"}, ClassLimits},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setValidEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := load(viper.New())
			if got := classifyConfigLoadError(err); got != tc.want {
				t.Fatalf("expected class %q, got %q (%v)", tc.want, got, err)
			}
		})
	}

	if got := classifyConfigLoadError(nil); got != "none" {
		t.Fatalf("expected none, got %q", got)
	}
	if got := classifyConfigLoadError(errors.New("dial tcp: refused")); got != "load" {
		t.Fatalf("expected load, got %q", got)
	}
	wrapped := fmt.Errorf("startup: %w", &ValidationError{Class: ClassServer, Msg: "HTTP_ADDR is required"})
	if got := classifyConfigLoadError(wrapped); got != ClassServer {
		t.Fatalf("wrapped validation errors keep their class, got %q", got)
	}
}

func TestNormalizeConfigProfile(t *testing.T) {
	cases := map[string]string{
		"  Production ": EnvProduction,
		"development":   EnvDevelopment,
		"TEST":          "test",
		"staging":       "other",
		"   ":           "unknown",
	}
	for in, want := range cases {
		if got := normalizeConfigProfile(in); got != want {
			t.Fatalf("normalizeConfigProfile(%q)=%q want %q", in, got, want)
		}
	}
}

func TestLoadFileIgnoresMissingFile(t *testing.T) {
	setValidEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
	if cfg.DatabaseDriver != DriverSQLite {
		t.Fatalf("env vars must still apply, got driver %q", cfg.DatabaseDriver)
	}
}

func TestLoadFileReadsValuesAndRejectsMalformedFile(t *testing.T) {
	setValidEnv(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.env")
	if err := os.WriteFile(good, []byte("LOGIN_MAX_ATTEMPTS=7\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	cfg, err := LoadFile(good)
	if err != nil {
		t.Fatalf("load good file: %v", err)
	}
	if cfg.LoginMaxAttempts != 7 {
		t.Fatalf("env file value not applied, got %d", cfg.LoginMaxAttempts)
	}

	bad := filepath.Join(dir, "bad.env")
	if err := os.WriteFile(bad, []byte("LOGIN_MAX_ATTEMPTS=7\nthis line is not an assignment\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	_, err = LoadFile(bad)
	if err == nil {
		t.Fatal("malformed env file must fail")
	}
	if got := classifyConfigLoadError(err); got != "parse" {
		t.Fatalf("expected parse class, got %q (%v)", got, err)
	}
}
