package ratecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/currency"
	"github.com/tkoinhq/pricing-engine/internal/fxprovider"
	"github.com/tkoinhq/pricing-engine/internal/metrics"
	"github.com/tkoinhq/pricing-engine/internal/store"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// ErrRateUnavailable means no usable FX sample exists and a live refresh
// failed. It is never silently defaulted: a wrong rate is worse than no rate.
var ErrRateUnavailable = errors.New("fx rate unavailable")

// ErrUnsupportedCurrency means the requested quote currency is not in the
// administratively curated supported set.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Provider fetches a full batch of rates for a base currency.
type Provider interface {
	FetchLatest(ctx context.Context, cfg *fxprovider.ProviderConfig, base string, expected []string) (map[string]decimal.Decimal, time.Time, error)
}

// ConfigResolver supplies provider credentials at call time so rotation does
// not require a restart.
type ConfigResolver interface {
	Resolve(ctx context.Context) (*fxprovider.ProviderConfig, error)
}

// Clock is injectable for tests.
type Clock func() time.Time

// Cache is the staleness-aware FX rate cache. Reads classify the most recent
// sample into one of three tiers:
//
//	fresh       age < TTL              served directly
//	stale       TTL <= age < 2*TTL    refresh attempted; on failure the stale
//	                                   sample is served with IsStale=true
//	unusable    age >= 2*TTL           refresh attempted; on failure the call
//	                                   fails with ErrRateUnavailable
//
// The middle tier keeps pricing available through short provider outages;
// the hard 2*TTL ceiling stops the engine from pricing off data older than
// the FX safety buffer can plausibly absorb.
type Cache struct {
	logger     *zap.Logger
	store      store.Store
	provider   Provider
	resolver   ConfigResolver
	currencies *currency.Set
	ttl        time.Duration
	now        Clock

	refreshMu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock substitutes the time source (tests).
func WithClock(now Clock) Option {
	return func(c *Cache) { c.now = now }
}

// New constructs a rate cache. ttl is the freshness window; the hard
// tolerance ceiling is fixed at twice the ttl.
func New(logger *zap.Logger, st store.Store, provider Provider, resolver ConfigResolver,
	currencies *currency.Set, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		logger:     logger,
		store:      st,
		provider:   provider,
		resolver:   resolver,
		currencies: currencies,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Currencies returns the supported set this cache serves.
func (c *Cache) Currencies() *currency.Set { return c.currencies }

// GetRate returns the most recent applicable sample for base/quote with its
// staleness classification. Fails with ErrRateUnavailable only when no
// cached sample inside the hard tolerance exists and a live refresh failed.
func (c *Cache) GetRate(ctx context.Context, base, quote string) (*model.RateWithMetadata, error) {
	refresh := func() error { return c.Refresh(ctx, base) }
	return c.rateWithPolicy(ctx, base, quote, refresh)
}

// GetAllRates returns the full supported set for a base currency. The same
// per-currency staleness contract applies; the call fails if any supported
// currency is still unusable after the refresh attempt. The refresh is
// attempted at most once for the whole batch since a single fetch covers
// every currency.
func (c *Cache) GetAllRates(ctx context.Context, base string) (map[string]model.RateWithMetadata, error) {
	var (
		refreshed  bool
		refreshErr error
	)
	refresh := func() error {
		if !refreshed {
			refreshed = true
			refreshErr = c.Refresh(ctx, base)
		}
		return refreshErr
	}

	out := make(map[string]model.RateWithMetadata, c.currencies.Len())
	for _, quote := range c.currencies.Codes() {
		md, err := c.rateWithPolicy(ctx, base, quote, refresh)
		if err != nil {
			return nil, fmt.Errorf("all rates for %s: %w", base, err)
		}
		out[quote] = *md
	}
	return out, nil
}

func (c *Cache) rateWithPolicy(ctx context.Context, base, quote string, refresh func() error) (*model.RateWithMetadata, error) {
	if !c.currencies.Contains(quote) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, quote)
	}

	sample, err := c.store.LatestRateSample(ctx, base, quote)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("rate lookup %s/%s: %w", base, quote, err)
	}

	if sample != nil {
		age := c.now().Sub(sample.CapturedAt)
		if age < c.ttl {
			metrics.IncRateServed("fresh")
			return c.meta(sample, false), nil
		}
	}

	// Stale or missing: try to refresh the whole base before answering.
	refreshErr := refresh()
	if refreshErr == nil {
		fresh, err := c.store.LatestRateSample(ctx, base, quote)
		if err != nil {
			return nil, fmt.Errorf("rate lookup after refresh %s/%s: %w", base, quote, err)
		}
		metrics.IncRateServed("refreshed")
		return c.meta(fresh, false), nil
	}

	if sample == nil {
		metrics.IncRateServed("unavailable")
		return nil, fmt.Errorf("%w: no cached sample for %s/%s and refresh failed: %v",
			ErrRateUnavailable, base, quote, refreshErr)
	}

	age := c.now().Sub(sample.CapturedAt)
	if age < 2*c.ttl {
		// Within the hard tolerance ceiling: serve last known good, flagged.
		c.logger.Warn("ratecache.serving_stale",
			zap.String("base", base),
			zap.String("quote", quote),
			zap.Float64("age_hours", age.Hours()),
			zap.Error(refreshErr))
		metrics.IncRateServed("stale")
		return c.meta(sample, true), nil
	}

	metrics.IncRateServed("unavailable")
	return nil, fmt.Errorf("%w: %s/%s sample is %.1fh old (ceiling %.1fh) and refresh failed: %v",
		ErrRateUnavailable, base, quote, age.Hours(), (2 * c.ttl).Hours(), refreshErr)
}

// Refresh fetches the entire supported set for base from the provider and
// replaces the cached samples atomically. A partial provider response never
// overwrites anything: validation rejects the whole batch first. Retry and
// backoff against the provider live in the HTTP executor; an explicit
// rate-limit signal aborts without further attempts.
func (c *Cache) Refresh(ctx context.Context, base string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	cfg, err := c.resolver.Resolve(ctx)
	if err != nil {
		metrics.IncRefresh(base, "config_error")
		return fmt.Errorf("resolve provider config: %w", err)
	}

	expected := c.currencies.Codes()
	rates, capturedAt, err := c.provider.FetchLatest(ctx, cfg, base, expected)
	if err != nil {
		metrics.IncRefresh(base, "fetch_error")
		c.logger.Warn("ratecache.refresh_failed",
			zap.String("base", base),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("fetch %s rates: %w", base, err)
	}

	samples := make([]model.FxRateSample, 0, len(expected))
	for _, quote := range expected {
		samples = append(samples, model.FxRateSample{
			Base:       base,
			Quote:      quote,
			Rate:       rates[quote],
			Source:     cfg.Source,
			CapturedAt: capturedAt,
		})
	}

	if err := c.store.ReplaceRateSamples(ctx, base, samples); err != nil {
		metrics.IncRefresh(base, "store_error")
		return fmt.Errorf("replace %s rates: %w", base, err)
	}

	metrics.IncRefresh(base, "ok")
	metrics.ObserveRefreshDuration(base, start)
	c.logger.Info("ratecache.refreshed",
		zap.String("base", base),
		zap.Int("currencies", len(samples)),
		zap.String("source", cfg.Source))
	return nil
}

func (c *Cache) meta(sample *model.FxRateSample, stale bool) *model.RateWithMetadata {
	return &model.RateWithMetadata{
		Rate:       sample.Rate,
		AgeHours:   c.now().Sub(sample.CapturedAt).Hours(),
		IsStale:    stale,
		CapturedAt: sample.CapturedAt,
		Source:     sample.Source,
	}
}
