// Package app assembles stores and services from configuration for the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sumire/proposals/internal/analysis"
	"github.com/sumire/proposals/internal/config"
	"github.com/sumire/proposals/internal/extract"
	"github.com/sumire/proposals/internal/repository"
	"github.com/sumire/proposals/internal/service"
)

// App holds the wired services of one process.
type App struct {
	Proposals   *service.ProposalService
	Auth        *service.AuthService
	Coordinator *service.Coordinator
	Store       service.ProposalStore
	Users       service.UserStore

	closers []func(context.Context) error
}

// NewLogger returns a slog logger for level (debug|info|warn|error) and format (text|json).
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", format)
	}
}

// New opens the configured stores and builds the service graph.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}
	if err := a.openStores(ctx, cfg); err != nil {
		return nil, err
	}

	demo := service.DefaultDemoAccounts()
	if cfg.DemoAccountsFile != "" {
		loaded, err := service.LoadDemoAccounts(cfg.DemoAccountsFile)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		demo = loaded
	}

	a.Auth = service.NewAuthService(a.Users, demo, service.AuthConfig{
		JWTSecret:        cfg.JWTSecret,
		DemoLoginEnabled: cfg.DemoLoginEnabled,
	})

	if cfg.LLMAPIKey == "" {
		logger.Warn("LLM_API_KEY is not set; analysis requests will be sent without credentials")
	}
	analyzer, err := analysis.NewClient(analysis.Config{
		APIURL:         cfg.LLMAPIURL,
		APIKey:         cfg.LLMAPIKey,
		Model:          cfg.LLMModel,
		Temperature:    cfg.LLMTemperature,
		Timeout:        cfg.LLMTimeout,
		MaxPromptChars: cfg.MaxPromptChars,
	}, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Coordinator = service.NewCoordinator(a.Store, extract.NewPDFExtractor(), analyzer, service.CoordinatorConfig{
		MinContentChars: cfg.MinContentChars,
		ClusteringDelay: cfg.ClusteringDelay,
		MaxConcurrent:   cfg.MaxConcurrentJobs,
		StaleTimeout:    cfg.StaleJobTimeout,
		DetectLanguage:  extract.DetectLanguage,
	}, logger)

	a.Proposals = service.NewProposalService(a.Store, a.Coordinator, a.Auth.Directory(), service.ProposalConfig{
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config) error {
	switch cfg.DatabaseDriver {
	case "mongo":
		client, db, err := repository.ConnectMongo(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Disconnect)

		proposals := repository.NewMongoProposalRepository(db)
		users := repository.NewMongoUserRepository(db)
		if err := proposals.EnsureIndexes(ctx); err != nil {
			_ = a.Close(ctx)
			return err
		}
		if err := users.EnsureIndexes(ctx); err != nil {
			_ = a.Close(ctx)
			return err
		}
		a.Store, a.Users = proposals, users
	default:
		db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })

		if err := repository.Migrate(ctx, db); err != nil {
			_ = a.Close(ctx)
			return fmt.Errorf("migrate: %w", err)
		}
		a.Store, a.Users = repository.NewProposalRepository(db), repository.NewUserRepository(db)
	}
	slog.Info("database connected", "driver", cfg.DatabaseDriver)
	return nil
}

// Close releases the stores in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
