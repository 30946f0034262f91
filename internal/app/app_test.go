package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

type stubSessions struct {
	repository.SessionRepository
}

func (stubSessions) CleanupExpired(context.Context, time.Time, time.Duration) (repository.CleanupResult, error) {
	return repository.CleanupResult{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: 10 * time.Second}
	logger := testLogger()
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}

	a := New(cfg, logger, server, nil)
	if a.Config != cfg || a.Logger != logger || a.Server != server {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout {
		t.Fatalf("expected shutdown timeout from config, got %s", a.ShutdownTimeout)
	}
	if got := New(&config.Config{}, nil, server, nil).ShutdownTimeout; got != 15*time.Second {
		t.Fatalf("expected default shutdown timeout, got %s", got)
	}
}

func TestNewHTTPServerCopiesTimeouts(t *testing.T) {
	cfg := &config.Config{
		HTTPAddr:              ":9999",
		HTTPReadHeaderTimeout: time.Second,
		HTTPReadTimeout:       2 * time.Second,
		HTTPWriteTimeout:      3 * time.Second,
		HTTPIdleTimeout:       4 * time.Second,
	}
	srv := NewHTTPServer(cfg, http.NotFoundHandler())
	if srv.Addr != ":9999" || srv.ReadHeaderTimeout != time.Second || srv.ReadTimeout != 2*time.Second ||
		srv.WriteTimeout != 3*time.Second || srv.IdleTimeout != 4*time.Second {
		t.Fatalf("unexpected server config %+v", srv)
	}
}

func TestServeShutsDownServerAndReaperOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	reaper := service.NewSessionReaper(stubSessions{}, time.Hour, 0, testLogger())
	a := New(&config.Config{ShutdownTimeout: time.Second}, testLogger(), server, reaper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestRunReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	a := New(&config.Config{ShutdownTimeout: time.Second}, testLogger(), &http.Server{Addr: ln.Addr().String()}, nil)
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected listen error for an address in use")
	}
}
