// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/web"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the HTTP authentication service which handles registration,
login, logout and session resolution, plus an observability endpoint
for metrics and health probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	cmd.Flags().String("http.addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("observability.addr", "", "observability listen address (overrides config)")
	cmd.Flags().String("log.format", "", "log format: json or text (overrides config)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url or DATABASE_URL is required")
	}

	logging.SetDefault("gatehouse", version, cfg.Log.Format)

	slog.Info("starting gatehouse",
		"http_addr", cfg.HTTP.Addr,
		"log_format", cfg.Log.Format,
		"registration_open", cfg.Auth.RegistrationOpen,
	)

	st, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer st.Close()

	slog.Info("connected to database")

	accounts := authpg.NewAccountRepository(st.Pool())
	sessions := authpg.NewSessionRepository(st.Pool())

	hasher := auth.NewArgon2idHasher()
	svc, err := auth.NewServiceWithLogger(accounts, sessions, hasher, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}
	svc.SetRegistrationOpen(cfg.Auth.RegistrationOpen)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Observability server; ready once the database connection is up.
	obsServer := observability.NewServer(cfg.Obs.Addr, func() bool { return true })
	obsErrChan, err := obsServer.Start()
	if err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	slog.Info("observability server started", "addr", obsServer.Addr())

	handler, err := web.NewHandlerWithLogger(svc, obsServer.Metrics(), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create HTTP handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	go purgeLoop(ctx, svc, obsServer.Metrics(), cfg.Auth.PurgeInterval)

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Gatehouse started")
	slog.Info("gatehouse ready", "http_addr", cfg.HTTP.Addr)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping HTTP server", "error", err)
	}
	if err := obsServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// purgeLoop periodically removes expired sessions until ctx is cancelled.
func purgeLoop(ctx context.Context, svc *auth.Service, metrics *observability.Metrics, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := svc.PurgeExpiredSessions(ctx)
			if err != nil {
				slog.Warn("session purge failed", "error", err)
				continue
			}
			if purged > 0 {
				metrics.SessionsPurged.Add(float64(purged))
				slog.Debug("purged expired sessions", "count", purged)
			}
		}
	}
}

// monitorServerErrors watches a server error channel and cancels the
// run context when a server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, name string) {
	select {
	case <-ctx.Done():
	case err, ok := <-errChan:
		if ok && err != nil {
			slog.Error("server error", "server", name, "error", err)
			cancel()
		}
	}
}
