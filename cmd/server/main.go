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

	"github.com/joho/godotenv"

	"github.com/sumire/proposals/internal/app"
	"github.com/sumire/proposals/internal/config"
	"github.com/sumire/proposals/internal/handler"
	"github.com/sumire/proposals/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.Error("close stores", "error", err)
		}
	}()

	// Nothing is running yet, so every processing record is left over from a previous process.
	recovered, err := a.Coordinator.RecoverOrphans(ctx, 0)
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		slog.Warn("marked interrupted jobs as failed", "count", recovered)
	}

	sweeper, err := service.NewSweeper(a.Coordinator, cfg.StaleSweepSchedule, logger)
	if err != nil {
		return err
	}
	sweeper.Start()

	e := handler.NewRouter(handler.RouterConfig{
		Auth:           a.Auth,
		Proposals:      a.Proposals,
		FrontendURL:    cfg.FrontendURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "database", cfg.DatabaseDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		slog.Warn("sweeper stop", "error", err)
	}
	if err := a.Coordinator.Shutdown(shutdownCtx); err != nil {
		slog.Warn("coordinator shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
