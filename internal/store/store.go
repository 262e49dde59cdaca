package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStatusConflict is returned when a conditional quote status transition
// matched no row, meaning the quote moved to another state concurrently.
var ErrStatusConflict = errors.New("quote status conflict")

// RawPricingDefaults carries the global defaults record exactly as stored.
// Fields are strings on purpose: the settings resolver owns schema
// validation and the fallback to hardcoded constants, the store does not
// interpret the values.
type RawPricingDefaults struct {
	BidSpreadBps    string
	AskSpreadBps    string
	FxBufferBps     string
	MinOrderUSD     string
	MaxOrderUSD     string
	DailyLimitUSD   string
	QuoteTTLSeconds string
}

// Store defines the persistence contract for the pricing engine.
type Store interface {
	// ReplaceRateSamples atomically persists a full batch of samples for one
	// base currency. Appends to the durable history and swaps the hot cache
	// in one shot; a partial batch never becomes visible.
	ReplaceRateSamples(ctx context.Context, base string, samples []model.FxRateSample) error
	// LatestRateSample returns the most recently captured sample for a pair.
	LatestRateSample(ctx context.Context, base, quote string) (*model.FxRateSample, error)
	// PruneRateSamples deletes superseded samples captured before cutoff.
	PruneRateSamples(ctx context.Context, cutoff time.Time) (int64, error)

	GetAgent(ctx context.Context, agentID string) (*model.Agent, error)
	GetCurrencySettings(ctx context.Context, agentID, currency string) (*model.CurrencyPricingSettings, error)
	GetPricingDefaults(ctx context.Context) (*RawPricingDefaults, error)

	InsertQuote(ctx context.Context, q model.Quote) error
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	// TransitionQuoteStatus moves a quote from one status to another. Returns
	// ErrStatusConflict if the quote is no longer in the from status.
	TransitionQuoteStatus(ctx context.Context, id string, from, to model.QuoteStatus) error

	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore is a Redis-first, Postgres-backed store: reads hit the hot
// Redis cache and fall through to Postgres, writes go to both.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store.
func NewHybrid(redisAddr string, redisDB int, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

func rateKey(base, quote string) string {
	return "fxrate:" + base + ":" + quote
}

func quoteKey(id string) string {
	return "quote:" + id
}

// ReplaceRateSamples appends the batch to pricing.fx_rate_sample inside one
// transaction, then swaps every Redis key for the base in one MULTI/EXEC
// pipeline. Readers never observe a half-replaced batch: the Postgres insert
// is transactional and the Redis swap is a single atomic exec.
func (s *HybridStore) ReplaceRateSamples(ctx context.Context, base string, samples []model.FxRateSample) error {
	if len(samples) == 0 {
		return fmt.Errorf("refusing to replace %s rates with empty batch", base)
	}

	if s.PG != nil {
		tx, err := s.PG.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin rate batch tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, sm := range samples {
			_, err := tx.Exec(ctx, `
				INSERT INTO pricing.fx_rate_sample (base, quote, rate, source, captured_at)
				VALUES ($1, $2, $3, $4, $5)
			`, sm.Base, sm.Quote, sm.Rate.String(), sm.Source, sm.CapturedAt)
			if err != nil {
				return fmt.Errorf("insert sample %s/%s: %w", sm.Base, sm.Quote, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit rate batch: %w", err)
		}
	}

	pipe := s.redis.TxPipeline()
	for _, sm := range samples {
		data, err := json.Marshal(sm)
		if err != nil {
			return fmt.Errorf("marshal sample %s/%s: %w", sm.Base, sm.Quote, err)
		}
		// No Redis TTL: staleness is a read-side policy and the
		// last-known-good sample must survive provider outages.
		pipe.Set(ctx, rateKey(sm.Base, sm.Quote), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("store.redis.rate_swap_failed",
			zap.String("base", base),
			zap.Error(err))
		return fmt.Errorf("redis rate swap: %w", err)
	}
	return nil
}

func (s *HybridStore) LatestRateSample(ctx context.Context, base, quote string) (*model.FxRateSample, error) {
	var sample model.FxRateSample
	data, err := s.redis.Get(ctx, rateKey(base, quote)).Bytes()
	if err == nil {
		if jerr := json.Unmarshal(data, &sample); jerr == nil {
			return &sample, nil
		}
		s.logger.Warn("store.redis.rate_decode_failed",
			zap.String("base", base),
			zap.String("quote", quote))
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("store.redis.rate_get_failed", zap.Error(err))
	}

	if s.PG == nil {
		return nil, ErrNotFound
	}
	row := s.PG.QueryRow(ctx, `
		SELECT id, base, quote, rate::text, source, captured_at
		FROM pricing.fx_rate_sample
		WHERE base = $1 AND quote = $2
		ORDER BY captured_at DESC
		LIMIT 1
	`, base, quote)

	sm, err := scanSample(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sm, nil
}

func (s *HybridStore) PruneRateSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.PG == nil {
		return 0, nil
	}
	// Keep the newest sample per pair regardless of age: the last-known-good
	// fallback depends on it.
	tag, err := s.PG.Exec(ctx, `
		DELETE FROM pricing.fx_rate_sample s
		WHERE s.captured_at < $1
		  AND EXISTS (
			SELECT 1 FROM pricing.fx_rate_sample newer
			WHERE newer.base = s.base AND newer.quote = s.quote
			  AND newer.captured_at > s.captured_at
		  )
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *HybridStore) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	var (
		a           model.Agent
		balanceStr  string
		dailyLimStr string
	)
	err := s.PG.QueryRow(ctx, `
		SELECT agent_id, status, tkoin_balance::text, daily_limit_usd::text
		FROM pricing.agent
		WHERE agent_id = $1
	`, agentID).Scan(&a.AgentID, &a.Status, &balanceStr, &dailyLimStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if a.TkoinBalance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("malformed tkoin balance for agent %s: %w", agentID, err)
	}
	if a.DailyLimitUSD, err = decimal.NewFromString(dailyLimStr); err != nil {
		return nil, fmt.Errorf("malformed daily limit for agent %s: %w", agentID, err)
	}
	return &a, nil
}

func (s *HybridStore) GetCurrencySettings(ctx context.Context, agentID, currency string) (*model.CurrencyPricingSettings, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	var (
		cs                                 model.CurrencyPricingSettings
		bid, ask, buf, minOrd, maxOrd, lim *string
	)
	err := s.PG.QueryRow(ctx, `
		SELECT agent_id, currency,
			bid_spread_bps::text, ask_spread_bps::text, fx_buffer_bps::text,
			min_order_usd::text, max_order_usd::text, daily_limit_usd::text,
			active, updated_at
		FROM pricing.currency_settings
		WHERE agent_id = $1 AND currency = $2
	`, agentID, currency).Scan(&cs.AgentID, &cs.Currency,
		&bid, &ask, &buf, &minOrd, &maxOrd, &lim, &cs.Active, &cs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	for _, f := range []struct {
		raw  *string
		dest **decimal.Decimal
	}{
		{bid, &cs.BidSpreadBps},
		{ask, &cs.AskSpreadBps},
		{buf, &cs.FxBufferBps},
		{minOrd, &cs.MinOrderUSD},
		{maxOrd, &cs.MaxOrderUSD},
		{lim, &cs.DailyLimitUSD},
	} {
		if f.raw == nil {
			continue
		}
		d, perr := decimal.NewFromString(*f.raw)
		if perr != nil {
			// Leave the field nil; the resolver treats it as absent.
			s.logger.Warn("store.settings.malformed_field",
				zap.String("agent_id", agentID),
				zap.String("currency", currency),
				zap.String("value", *f.raw))
			continue
		}
		*f.dest = &d
	}
	return &cs, nil
}

func (s *HybridStore) GetPricingDefaults(ctx context.Context) (*RawPricingDefaults, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	var raw RawPricingDefaults
	err := s.PG.QueryRow(ctx, `
		SELECT bid_spread_bps::text, ask_spread_bps::text, fx_buffer_bps::text,
			min_order_usd::text, max_order_usd::text, daily_limit_usd::text,
			quote_ttl_seconds::text
		FROM pricing.defaults
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(&raw.BidSpreadBps, &raw.AskSpreadBps, &raw.FxBufferBps,
		&raw.MinOrderUSD, &raw.MaxOrderUSD, &raw.DailyLimitUSD,
		&raw.QuoteTTLSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &raw, nil
}

func (s *HybridStore) InsertQuote(ctx context.Context, q model.Quote) error {
	if s.PG != nil {
		_, err := s.PG.Exec(ctx, `
			INSERT INTO pricing.quote (
				quote_id, agent_id, currency, quote_type,
				token_amount, fiat_amount, effective_rate, anchor_rate,
				fx_base_rate, spread_bps, fx_buffer_bps,
				expires_at, status, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, q.ID, q.AgentID, q.Currency, q.Type,
			q.TokenAmount.String(), q.FiatAmount.String(), q.EffectiveRate.String(), q.AnchorRate.String(),
			q.FxBaseRate.String(), q.SpreadBps.String(), q.FxBufferBps.String(),
			q.ExpiresAt, q.Status, q.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert quote %s: %w", q.ID, err)
		}
	}

	ttl := time.Until(q.ExpiresAt) + time.Hour
	if err := s.SetJSON(ctx, quoteKey(q.ID), q, ttl); err != nil {
		s.logger.Warn("store.redis.quote_cache_failed",
			zap.String("quote_id", q.ID),
			zap.Error(err))
	}
	return nil
}

func (s *HybridStore) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	var q model.Quote
	if err := s.GetJSON(ctx, quoteKey(id), &q); err == nil && q.ID == id {
		return &q, nil
	}

	if s.PG == nil {
		return nil, ErrNotFound
	}
	var (
		token, fiat, eff, anchor, fx, spread, buf string
	)
	err := s.PG.QueryRow(ctx, `
		SELECT quote_id, agent_id, currency, quote_type,
			token_amount::text, fiat_amount::text, effective_rate::text, anchor_rate::text,
			fx_base_rate::text, spread_bps::text, fx_buffer_bps::text,
			expires_at, status, created_at
		FROM pricing.quote
		WHERE quote_id = $1
	`, id).Scan(&q.ID, &q.AgentID, &q.Currency, &q.Type,
		&token, &fiat, &eff, &anchor, &fx, &spread, &buf,
		&q.ExpiresAt, &q.Status, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	fields := []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{token, &q.TokenAmount}, {fiat, &q.FiatAmount}, {eff, &q.EffectiveRate},
		{anchor, &q.AnchorRate}, {fx, &q.FxBaseRate}, {spread, &q.SpreadBps},
		{buf, &q.FxBufferBps},
	}
	for _, f := range fields {
		d, perr := decimal.NewFromString(f.raw)
		if perr != nil {
			return nil, fmt.Errorf("malformed numeric on quote %s: %w", id, perr)
		}
		*f.dest = d
	}
	return &q, nil
}

func (s *HybridStore) TransitionQuoteStatus(ctx context.Context, id string, from, to model.QuoteStatus) error {
	if s.PG == nil {
		var q model.Quote
		if err := s.GetJSON(ctx, quoteKey(id), &q); err != nil {
			return err
		}
		if q.Status != from {
			return ErrStatusConflict
		}
		q.Status = to
		return s.SetJSON(ctx, quoteKey(id), q, time.Hour)
	}

	tag, err := s.PG.Exec(ctx, `
		UPDATE pricing.quote SET status = $3
		WHERE quote_id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("transition quote %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}

	// Refresh the cached copy so reads observe the transition.
	var q model.Quote
	if err := s.GetJSON(ctx, quoteKey(id), &q); err == nil && q.ID == id {
		q.Status = to
		_ = s.SetJSON(ctx, quoteKey(id), q, time.Hour)
	}
	return nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	return s.redis.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (*model.FxRateSample, error) {
	var (
		sm      model.FxRateSample
		rateStr string
	)
	if err := row.Scan(&sm.ID, &sm.Base, &sm.Quote, &rateStr, &sm.Source, &sm.CapturedAt); err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return nil, fmt.Errorf("malformed rate for %s/%s: %w", sm.Base, sm.Quote, err)
	}
	sm.Rate = rate
	return &sm, nil
}
