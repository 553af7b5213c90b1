package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"skygen/internal/docstore"
	httpapi "skygen/internal/http"
	"skygen/internal/http/handlers"
	"skygen/internal/infra"
	"skygen/internal/orchestrator"
	"skygen/internal/providers/asset"
	"skygen/internal/providers/environment"
	"skygen/internal/quota"
	"skygen/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	sessions := session.NewPGStore(pool, cfg.SessionTTL)
	documents := docstore.NewPGStore(pool)
	ledger := quota.NewPGLedger(pool, cfg.DefaultQuota)
	for _, ensure := range []func(context.Context) error{
		sessions.EnsureSchema,
		documents.EnsureSchema,
		ledger.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare database schema")
		}
	}

	envClient, err := environment.NewClient(environment.Options{
		APIKey:  cfg.EnvironmentAPIKey,
		BaseURL: cfg.EnvironmentAPIBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure environment client")
	}
	assetClient := asset.NewClient(asset.Options{
		APIKey:  cfg.AssetAPIKey,
		BaseURL: cfg.AssetAPIBaseURL,
		Logger:  &logger,
	})
	if !assetClient.Configured() {
		logger.Warn().Msg("asset service not configured, 3D asset pipeline disabled")
	}

	svc := orchestrator.NewService(orchestrator.Options{
		Env:          envClient,
		Assets:       assetClient,
		Store:        sessions,
		Docs:         documents,
		Quota:        ledger,
		Logger:       logger,
		SessionTTL:   cfg.SessionTTL,
		SaveDebounce: cfg.SaveDebounce,
		ClearGrace:   cfg.ClearGrace,
		MaxAttempts:  cfg.PollMaxAttempts,
		BaseInterval: cfg.PollBaseInterval,
	})

	app := handlers.NewApp(svc, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
