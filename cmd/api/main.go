package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"
	"github.com/sandeepkv93/taskmanager-auth/internal/database"
	"github.com/sandeepkv93/taskmanager-auth/internal/di"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
	"github.com/sandeepkv93/taskmanager-auth/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	root := &cobra.Command{
		Use:           "api",
		Short:         "Task manager authentication and session service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newMigrateCommand(), newReapSessionsCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := di.InitializeApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg, nil)
			db, err := database.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.Migrate(db); err != nil {
				return err
			}
			logger.Info("database migrated", "driver", cfg.DatabaseDriver)
			return nil
		},
	}
}

func newReapSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reap-sessions",
		Short: "Delete expired sessions and stale rotated tokens once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg, nil)
			db, err := database.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()

			reaper := service.NewSessionReaper(repository.NewSessionRepository(db), cfg.SessionCleanupInterval, cfg.SessionRetention, logger)
			res, err := reaper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired_sessions=%d inactive_sessions=%d rotated_tokens=%d\n",
				res.ExpiredSessions, res.InactiveSessions, res.RotatedTokens)
			return nil
		},
	}
}
