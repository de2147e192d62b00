package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tryon/internal/http/handlers"
	httpapi "tryon/internal/http/httpapi"
	"tryon/internal/infra"
	"tryon/internal/providers"
	"tryon/internal/quota"
)

func main() {
	if err := infra.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Provider problems are fatal before the listener opens.
	gen, err := providers.NewRegistry().Build(cfg.VisionProvider, providers.Settings{
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIOrg:     cfg.OpenAIOrg,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.VisionProvider).Msg("provider configuration invalid")
	}
	dispatcher := providers.NewDispatcher(cfg.VisionProvider, gen, cfg.ProviderMaxRPS, logger)

	store, closeStore, err := newQuotaStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.RateLimitStore).Msg("rate limit store unavailable")
	}
	defer closeStore()

	app := handlers.NewApp(dispatcher, cfg.VisionProvider, cfg.IsDevelopment(), cfg.MaxBodyBytes, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Quota:          store,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
		Logger:         logger,
	})

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().
		Str("addr", server.Addr()).
		Str("provider", cfg.VisionProvider).
		Str("rate_limit_store", cfg.RateLimitStore).
		Int("daily_quota", cfg.DailyQuota).
		Msg("API listening")

	if err := server.Run(ctx, nil); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}

func newQuotaStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (quota.Store, func(), error) {
	noop := func() {}
	switch cfg.RateLimitStore {
	case infra.StoreRedis:
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		store, err := quota.NewRedisStore(rdb, cfg.DailyQuota, cfg.RateLimitWindow)
		if err != nil {
			_ = rdb.Close()
			return nil, noop, err
		}
		return store, func() { _ = rdb.Close() }, nil

	case infra.StorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		if err := infra.EnsureQuotaSchema(ctx, runner); err != nil {
			pool.Close()
			return nil, noop, err
		}
		store, err := quota.NewPostgresStore(runner, cfg.DailyQuota, cfg.RateLimitWindow)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		return store, pool.Close, nil

	default:
		store, err := quota.NewMemoryStore(cfg.DailyQuota, cfg.RateLimitWindow)
		return store, noop, err
	}
}
