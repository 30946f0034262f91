package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

// App owns the long-running pieces of the API process. Stores and telemetry
// pipelines are released by the injector cleanup once Run returns.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Reaper          *service.SessionReaper
	ShutdownTimeout time.Duration
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, reaper *service.SessionReaper) *App {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := 15 * time.Second
	if cfg != nil && cfg.ShutdownTimeout > 0 {
		timeout = cfg.ShutdownTimeout
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Reaper:          reaper,
		ShutdownTimeout: timeout,
	}
}

func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
}

// Run serves until ctx is cancelled or the server fails, then drains in-flight
// requests within ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", ln.Addr().String())
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.Reaper != nil {
		g.Go(func() error { return a.Reaper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down http server", "timeout", a.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
