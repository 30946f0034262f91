package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"
	"github.com/sandeepkv93/taskmanager-auth/internal/di"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (e apiEnvelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

type tokenData struct {
	User struct {
		ID uint `json:"id"`
	} `json:"user"`
	Tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"tokens"`
	Session struct {
		SessionID string `json:"sessionId"`
	} `json:"session"`
}

// newAuthTestServer boots the fully wired service on a temporary SQLite file,
// configured through the environment like a real deployment.
func newAuthTestServer(t *testing.T, env map[string]string) (string, *http.Client, func()) {
	t.Helper()
	base := map[string]string{
		"APP_ENV":                 "test",
		"HTTP_ADDR":               "127.0.0.1:0",
		"DATABASE_DRIVER":         "sqlite",
		"DATABASE_URL":            filepath.Join(t.TempDir(), "auth.db") + "?_busy_timeout=5000",
		"DATABASE_MAX_OPEN_CONNS": "1",
		"JWT_ACCESS_SECRET":       strings.Repeat("a", 32),
		"JWT_REFRESH_SECRET":      strings.Repeat("b", 32),
		"REFRESH_TOKEN_PEPPER":    "integration-pepper-123",
		"BCRYPT_COST":             "4",
		"LOG_LEVEL":               "error",
	}
	for k, v := range env {
		base[k] = v
	}
	for k, v := range base {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, cleanup, err := di.InitializeApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	return srv.URL, srv.Client(), func() {
		srv.Close()
		cleanup()
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, string(raw))
		}
	}
	return resp, env
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeTokens(t *testing.T, env apiEnvelope) tokenData {
	t.Helper()
	var d tokenData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		t.Fatalf("decode token data: %v", err)
	}
	if d.Tokens.AccessToken == "" {
		t.Fatalf("expected tokens in %s", string(env.Data))
	}
	return d
}

func registerUser(t *testing.T, client *http.Client, baseURL, username string) tokenData {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "Valid1Pass",
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register %s failed: status=%d code=%s", username, resp.StatusCode, env.code())
	}
	return decodeTokens(t, env)
}

func loginUser(t *testing.T, client *http.Client, baseURL, username, userAgent string) tokenData {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/auth/login", map[string]string{
		"username": username,
		"password": "Valid1Pass",
	}, map[string]string{"User-Agent": userAgent})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login %s failed: status=%d code=%s", username, resp.StatusCode, env.code())
	}
	return decodeTokens(t, env)
}
