package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/fxprovider"
	pkgsecrets "github.com/tkoinhq/pricing-engine/pkg/secrets"
)

// Resolver resolves the FX provider configuration from AWS Secrets Manager,
// with an in-memory TTL cache and a static fallback for environments without
// a secrets backend (local dev, tests).
//
// Secret naming convention: {env}/pricing-engine/fxprovider
// Secret JSON format:       {"api_key": "...", "base_url": "https://...", "source": "openfx"}
type Resolver struct {
	logger    *zap.Logger
	provider  pkgsecrets.Provider
	cache     *pkgsecrets.Cache[fxprovider.ProviderConfig]
	secretKey string
	fallback  *fxprovider.ProviderConfig
}

// NewResolver constructs the config resolver. provider may be nil when a
// static fallback config is supplied.
func NewResolver(
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[fxprovider.ProviderConfig],
	fallback *fxprovider.ProviderConfig,
) *Resolver {
	return &Resolver{
		logger:    logger,
		provider:  provider,
		cache:     cache,
		secretKey: env + "/pricing-engine/fxprovider",
		fallback:  fallback,
	}
}

// Resolve returns the provider config, preferring the cache, then the
// secrets backend, then the static fallback.
func (r *Resolver) Resolve(ctx context.Context) (*fxprovider.ProviderConfig, error) {
	if r.cache != nil {
		if cfg, ok := r.cache.Get(r.secretKey); ok {
			return &cfg, nil
		}
	}

	if r.provider != nil {
		raw, err := r.provider.GetSecret(ctx, r.secretKey)
		if err == nil {
			cfg, perr := parseProviderConfig(raw)
			if perr != nil {
				return nil, fmt.Errorf("secret [%s]: %w", r.secretKey, perr)
			}
			if r.cache != nil {
				r.cache.Put(r.secretKey, cfg)
			}
			return &cfg, nil
		}
		r.logger.Warn("secrets.fx_config_fetch_failed",
			zap.String("key", r.secretKey),
			zap.Error(err))
	}

	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no FX provider configuration available")
}

func parseProviderConfig(m map[string]string) (fxprovider.ProviderConfig, error) {
	cfg := fxprovider.ProviderConfig{
		APIKey:  m["api_key"],
		BaseURL: m["base_url"],
		Source:  m["source"],
	}
	if cfg.BaseURL == "" {
		return fxprovider.ProviderConfig{}, fmt.Errorf("missing required field 'base_url'")
	}
	if cfg.Source == "" {
		cfg.Source = "fxprovider"
	}
	return cfg, nil
}
