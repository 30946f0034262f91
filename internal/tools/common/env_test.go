package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv unsets keys for the duration of the test and restores them after.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoadEnvFileExportsAuthSettings(t *testing.T) {
	clearEnv(t, "HTTP_ADDR", "JWT_ACCESS_SECRET", "JWT_ISSUER")
	t.Setenv("JWT_AUDIENCE", "from-shell")

	path := writeEnvFile(t, strings.Join([]string{
		"# local overrides",
		"HTTP_ADDR=127.0.0.1:8080",
		`JWT_ACCESS_SECRET="access secret with spaces"`,
		"export JWT_ISSUER=taskmanager-auth",
		"JWT_AUDIENCE=from-file",
		"",
	}, "\n"))

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	want := map[string]string{
		"HTTP_ADDR":         "127.0.0.1:8080",
		"JWT_ACCESS_SECRET": "access secret with spaces",
		"JWT_ISSUER":        "taskmanager-auth",
		"JWT_AUDIENCE":      "from-shell",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestLoadEnvFileKeepsEmptyShellValue(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "")
	path := writeEnvFile(t, "REDIS_PASSWORD=from-file\n")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got, ok := os.LookupEnv("REDIS_PASSWORD"); !ok || got != "" {
		t.Fatalf("explicitly empty variable was overwritten: %q", got)
	}
}

func TestLoadEnvFileErrors(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("absent env file should be skipped, got %v", err)
	}

	err := LoadEnvFile(t.TempDir())
	if err == nil || !strings.HasPrefix(err.Error(), "read env file:") {
		t.Fatalf("expected read error for a directory, got %v", err)
	}
}
