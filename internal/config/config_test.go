package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"SERVICE_NAME", "ENV", "DATABASE_URL", "NATS_URL", "REDIS_ADDR",
		"REDIS_DB", "AWS_REGION", "LOG_LEVEL", "PRICING_PORT",
		"BASE_CURRENCY", "RATE_TTL", "RATE_RETENTION", "RATE_REFRESH_INTERVAL",
		"PROVIDER_TIMEOUT", "PROVIDER_RETRY_MAX",
		"PUBLIC_SPREAD_BPS", "PUBLIC_FX_BUFFER_BPS", "DRIFT_TOLERANCE_BPS",
		"FX_PROVIDER_BASE_URL", "SECRETS_ENABLED", "OUTBOUND_SUBJECT",
		"PG_MAX_CONNS",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ServiceName != "pricing-engine" {
		t.Errorf("expected ServiceName=pricing-engine, got %s", cfg.ServiceName)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %s", cfg.Env)
	}
	if cfg.Port != 9040 {
		t.Errorf("expected Port=9040, got %d", cfg.Port)
	}
	if cfg.BaseCurrency != "USD" {
		t.Errorf("expected BaseCurrency=USD, got %s", cfg.BaseCurrency)
	}
	if cfg.RateTTL != 24*time.Hour {
		t.Errorf("expected RateTTL=24h, got %v", cfg.RateTTL)
	}
	if cfg.RateRetention != 7*24*time.Hour {
		t.Errorf("expected RateRetention=168h, got %v", cfg.RateRetention)
	}
	if cfg.RefreshInterval != time.Hour {
		t.Errorf("expected RefreshInterval=1h, got %v", cfg.RefreshInterval)
	}
	if cfg.ProviderRetryMax != 3 {
		t.Errorf("expected ProviderRetryMax=3, got %d", cfg.ProviderRetryMax)
	}
	if cfg.PublicSpreadBps != 200 {
		t.Errorf("expected PublicSpreadBps=200, got %d", cfg.PublicSpreadBps)
	}
	if cfg.PublicFxBufferBps != 50 {
		t.Errorf("expected PublicFxBufferBps=50, got %d", cfg.PublicFxBufferBps)
	}
	if cfg.DriftToleranceBps != 100 {
		t.Errorf("expected DriftToleranceBps=100, got %d", cfg.DriftToleranceBps)
	}
	if cfg.SecretsEnabled {
		t.Error("expected SecretsEnabled=false by default")
	}
	if cfg.OutboundSubject != "evt.pricing" {
		t.Errorf("expected OutboundSubject=evt.pricing, got %s", cfg.OutboundSubject)
	}
	if cfg.PGMaxConns != 10 {
		t.Errorf("expected PGMaxConns=10, got %d", cfg.PGMaxConns)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "test-service")
	t.Setenv("ENV", "prod")
	t.Setenv("PRICING_PORT", "8080")
	t.Setenv("BASE_CURRENCY", "EUR")
	t.Setenv("RATE_TTL", "12h")
	t.Setenv("RATE_REFRESH_INTERVAL", "30m")
	t.Setenv("PROVIDER_RETRY_MAX", "5")
	t.Setenv("PUBLIC_SPREAD_BPS", "300")
	t.Setenv("DRIFT_TOLERANCE_BPS", "150")
	t.Setenv("SECRETS_ENABLED", "1")
	t.Setenv("PG_MAX_CONNS", "25")

	cfg := Load()

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName=test-service, got %s", cfg.ServiceName)
	}
	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %s", cfg.Env)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected Port=8080, got %d", cfg.Port)
	}
	if cfg.BaseCurrency != "EUR" {
		t.Errorf("expected BaseCurrency=EUR, got %s", cfg.BaseCurrency)
	}
	if cfg.RateTTL != 12*time.Hour {
		t.Errorf("expected RateTTL=12h, got %v", cfg.RateTTL)
	}
	if cfg.RefreshInterval != 30*time.Minute {
		t.Errorf("expected RefreshInterval=30m, got %v", cfg.RefreshInterval)
	}
	if cfg.ProviderRetryMax != 5 {
		t.Errorf("expected ProviderRetryMax=5, got %d", cfg.ProviderRetryMax)
	}
	if cfg.PublicSpreadBps != 300 {
		t.Errorf("expected PublicSpreadBps=300, got %d", cfg.PublicSpreadBps)
	}
	if cfg.DriftToleranceBps != 150 {
		t.Errorf("expected DriftToleranceBps=150, got %d", cfg.DriftToleranceBps)
	}
	if !cfg.SecretsEnabled {
		t.Error("expected SecretsEnabled=true")
	}
	if cfg.PGMaxConns != 25 {
		t.Errorf("expected PGMaxConns=25, got %d", cfg.PGMaxConns)
	}
}
