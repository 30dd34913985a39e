// Package main provides the entry point for the filtered video server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/filteredvideo/internal/bootstrap"
	"github.com/maauso/filteredvideo/internal/config"
	"github.com/maauso/filteredvideo/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting filtered video server",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("inbox_enabled", cfg.InboxEnabled()),
		slog.Bool("preview_realtime", cfg.PreviewRealtime),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to release dependencies", slog.String("error", err.Error()))
		}
	}()

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- deps.Session.Run(ctx)
	}()

	if deps.Picker != nil {
		go func() {
			if err := deps.Picker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("inbox picker stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Session, logger,
		server.WithStorage(deps.Storage),
		server.WithLibrary(deps.Library),
		server.WithPreview(deps.Preview),
		server.WithEvents(deps.Events),
	)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	// Create HTTP server. Streams end when ctx is cancelled, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errCh:
	case err := <-sessionDone:
		runErr = fmt.Errorf("session stopped: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down server...")
	if err := deps.Session.Close(shutdownCtx); err != nil {
		logger.Warn("session did not close cleanly", slog.String("error", err.Error()))
	}
	// Ends preview streams and the picker.
	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown failed: %w", err))
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("server stopped gracefully")
	return nil
}
