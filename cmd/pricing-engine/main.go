package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/tkoinhq/pricing-engine/internal/api"
	"github.com/tkoinhq/pricing-engine/internal/config"
	"github.com/tkoinhq/pricing-engine/internal/currency"
	"github.com/tkoinhq/pricing-engine/internal/fxprovider"
	"github.com/tkoinhq/pricing-engine/internal/jobs"
	"github.com/tkoinhq/pricing-engine/internal/pricing"
	"github.com/tkoinhq/pricing-engine/internal/publicrates"
	"github.com/tkoinhq/pricing-engine/internal/publisher"
	"github.com/tkoinhq/pricing-engine/internal/rate"
	"github.com/tkoinhq/pricing-engine/internal/ratecache"
	internalsecrets "github.com/tkoinhq/pricing-engine/internal/secrets"
	"github.com/tkoinhq/pricing-engine/internal/settings"
	"github.com/tkoinhq/pricing-engine/internal/store"
	"github.com/tkoinhq/pricing-engine/pkg/logger"
	"github.com/tkoinhq/pricing-engine/pkg/secrets"
	"github.com/tkoinhq/pricing-engine/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [pricing-engine]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- FX provider config resolver (AWS Secrets Manager, env fallback) ---
	var awsProvider secrets.Provider
	if cfg.SecretsEnabled {
		p, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		awsProvider = p
	}

	configCache := secrets.NewCache[fxprovider.ProviderConfig](cfg.SecretsCacheTTL)
	stopCleaner := make(chan struct{})
	go configCache.StartCleaner(cfg.SecretsCleanFreq, stopCleaner)
	defer close(stopCleaner)

	fallback := &fxprovider.ProviderConfig{
		BaseURL: cfg.FXProviderBaseURL,
		APIKey:  cfg.FXProviderAPIKey,
		Source:  cfg.FXProviderSource,
	}
	resolver := internalsecrets.NewResolver(logg.Desugar(), cfg.Env, awsProvider, configCache, fallback)

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}
	defer nc.Close()

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.OutboundSubject, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Rate limiter for outbound provider calls ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: 5,
		Burst:             10,
		Cooldown:          1 * time.Second,
	})

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	defer func() { _ = st.Close() }()

	// --- FX provider client + rate cache ---
	fxClient := fxprovider.NewClient(logg.Desugar(), rateMgr, cfg.ProviderTimeout, cfg.ProviderRetryMax)
	supported := currency.Default()
	rateCache := ratecache.New(logg.Desugar(), st, fxClient, resolver, supported, cfg.RateTTL)

	// --- Settings resolver + quote engine ---
	settingsResolver := settings.NewResolver(logg.Desugar(), st)
	engine := pricing.NewEngine(logg.Desugar(), st, rateCache, settingsResolver, pub,
		cfg.BaseCurrency,
		pricing.WithDriftTolerance(int64(cfg.DriftToleranceBps)))

	// --- Public rate board ---
	publicBoard := publicrates.New(logg.Desugar(), rateCache, cfg.BaseCurrency,
		int64(cfg.PublicSpreadBps), int64(cfg.PublicFxBufferBps))

	// --- Background refresh + retention GC ---
	refresher := jobs.NewRateRefresher(logg.Desugar(), rateCache, st, pub,
		cfg.BaseCurrency, cfg.FXProviderSource, cfg.RefreshInterval, cfg.RateRetention)
	go refresher.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewPricingHandler(logg.Desugar(), engine, rateCache, publicBoard, cfg.BaseCurrency)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[pricing-engine] running",
		"base", cfg.BaseCurrency,
		"currencies", supported.Len(),
		"rate_ttl", cfg.RateTTL.String())

	<-ctx.Done()
	logg.Info("shutting down [pricing-engine]...")
	refresher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
}
