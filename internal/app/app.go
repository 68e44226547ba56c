// Package app is the main orchestrator that ties all pixelmint components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pixelmint-ai/pixelmint/internal/api"
	"github.com/pixelmint-ai/pixelmint/internal/auth"
	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/ledger"
	"github.com/pixelmint-ai/pixelmint/internal/metered"
	"github.com/pixelmint-ai/pixelmint/internal/payment"
	"github.com/pixelmint-ai/pixelmint/internal/provider"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// App is the main pixelmint process.
type App struct {
	cfg    *config.Config
	store  store.Store
	api    *api.Server
	logger *slog.Logger
}

// New creates a new app from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Create auth provider based on config.
	authProvider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	var loginProvider auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		loginProvider = lp
	}

	// Ledger and metered services.
	ldg := ledger.New(db)
	genClient := provider.NewGenerationClient(cfg.Providers.Generation)
	modClient := provider.NewModerationClient(cfg.Providers.Moderation)
	meteredSvc := metered.NewService(db, ldg, genClient, modClient, "Sightengine", logger)

	// Payments.
	processor := payment.NewHostedProcessor(cfg.Payments.CheckoutURL)
	checkout := payment.NewCheckout(db, processor, cfg.Payments.Currency, cfg.Payments.ReturnURL)
	reconciler := payment.NewReconciler(db, logger)

	apiSrv := api.NewServer(db, authProvider, loginProvider, ldg, meteredSvc, checkout, reconciler, cfg, logger)

	a := &App{
		cfg:    cfg,
		store:  db,
		api:    apiSrv,
		logger: logger.With("component", "app"),
	}

	// Startup validation warnings.
	if cfg.Providers.Generation.APIKey == "" {
		logger.Warn("generation api_key is empty, image generation will be rejected upstream")
	}
	if cfg.Providers.Moderation.APIUser == "" || cfg.Providers.Moderation.APISecret == "" {
		logger.Warn("moderation credentials are empty, moderation will be rejected upstream")
	}
	if cfg.Payments.CheckoutURL == "" {
		logger.Warn("payments checkout_url is empty, checkout redirects will be unusable")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.api.Handler(),
	}

	// Start rate limiter cleanup tasks.
	a.api.StartBackgroundTasks(ctx)

	// Start usage retention purger.
	if a.cfg.Storage.UsageRetention.Duration > 0 {
		go a.runRetentionPurger(ctx, a.cfg.Storage.UsageRetention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("pixelmint listening", "addr", a.cfg.Server.Addr)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		a.logger.Info("closing store")
		_ = a.store.Close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = a.store.Close()
		return err
	}
}

func (a *App) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := a.store.PurgeOldUsageEvents(ctx, cutoff); err != nil {
				a.logger.Warn("retention purge: usage events failed", "error", err)
			} else if n > 0 {
				a.logger.Info("retention purge: deleted old usage events", "count", n)
			}
		}
	}
}
