package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/metrics"
	"github.com/tkoinhq/pricing-engine/internal/ratecache"
	"github.com/tkoinhq/pricing-engine/internal/settings"
	"github.com/tkoinhq/pricing-engine/internal/store"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// EventSink receives pricing lifecycle events. Publishing is best-effort:
// a sink failure never fails the pricing call.
type EventSink interface {
	QuoteCreated(ctx context.Context, ev model.QuoteCreatedEvent)
	QuoteExpired(ctx context.Context, ev model.QuoteExpiredEvent)
}

// Clock is injectable for tests.
type Clock func() time.Time

// Engine orchestrates rate lookup, settings resolution, price computation
// and quote persistence.
type Engine struct {
	logger   *zap.Logger
	store    store.Store
	rates    *ratecache.Cache
	settings *settings.Resolver
	events   EventSink

	base              string
	driftToleranceBps decimal.Decimal
	now               Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source (tests).
func WithClock(now Clock) Option {
	return func(e *Engine) { e.now = now }
}

// WithDriftTolerance overrides the FX drift warning threshold in basis points.
func WithDriftTolerance(bps int64) Option {
	return func(e *Engine) { e.driftToleranceBps = decimal.NewFromInt(bps) }
}

// NewEngine constructs the quote engine. events may be nil.
func NewEngine(logger *zap.Logger, st store.Store, rates *ratecache.Cache,
	resolver *settings.Resolver, events EventSink, base string, opts ...Option) *Engine {
	e := &Engine{
		logger:            logger,
		store:             st,
		rates:             rates,
		settings:          resolver,
		events:            events,
		base:              base,
		driftToleranceBps: decimal.NewFromInt(100),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetAgentPricing returns the live bid/ask view for one agent and currency.
// Pricing is computed even when the currency is inactive for the agent (for
// display); only order creation rejects inactive currencies.
func (e *Engine) GetAgentPricing(ctx context.Context, agentID, cur string) (*model.AgentPricing, error) {
	agent, err := e.loadActiveAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	rs, err := e.settings.Resolve(ctx, agentID, cur)
	if err != nil {
		if errors.Is(err, settings.ErrAgentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return nil, err
	}

	rate, err := e.rates.GetRate(ctx, e.base, cur)
	if err != nil {
		return nil, err
	}

	bid := BidPer1K(rate.Rate, rs.BidSpreadBps, rs.FxBufferBps)
	ask := AskPer1K(rate.Rate, rs.AskSpreadBps, rs.FxBufferBps)

	return &model.AgentPricing{
		Currency:           cur,
		IsActive:           rs.Active,
		BidPricePer1K:      bid,
		AskPricePer1K:      ask,
		Margin:             ask.Sub(bid),
		FxRate:             rate.Rate,
		FxRateAgeHours:     rate.AgeHours,
		FxRateStale:        rate.IsStale,
		BidSpreadBps:       rs.BidSpreadBps,
		AskSpreadBps:       rs.AskSpreadBps,
		FxBufferBps:        rs.FxBufferBps,
		MinOrderUSD:        rs.MinOrderUSD,
		MaxOrderUSD:        rs.MaxOrderUSD,
		DailyLimitUSD:      rs.DailyLimitUSD,
		AgentDailyLimitUSD: agent.DailyLimitUSD,
	}, nil
}

// CreateQuoteParams are the inputs to CreateQuote. Exactly one of FiatAmount
// and TokenAmount must be set.
type CreateQuoteParams struct {
	AgentID     string
	Currency    string
	Type        model.QuoteType
	FiatAmount  *decimal.Decimal
	TokenAmount *decimal.Decimal
}

// CreateQuote computes and persists a time-locked quote. Validation gates
// run in a fixed order, each a distinct failure mode; no partial quote is
// ever created.
func (e *Engine) CreateQuote(ctx context.Context, p CreateQuoteParams) (*model.Quote, error) {
	if p.Type != model.QuoteBuyFromAgent && p.Type != model.QuoteSellToAgent {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuoteType, p.Type)
	}
	if (p.FiatAmount == nil) == (p.TokenAmount == nil) {
		return nil, ErrAmountInput
	}

	// Gate 1: agent exists and is active.
	agent, err := e.loadActiveAgent(ctx, p.AgentID)
	if err != nil {
		metrics.IncQuote(string(p.Type), "agent_rejected")
		return nil, err
	}

	// Gate 2: currency is active for this agent.
	rs, err := e.settings.Resolve(ctx, p.AgentID, p.Currency)
	if err != nil {
		return nil, err
	}
	if !rs.Active {
		metrics.IncQuote(string(p.Type), "currency_inactive")
		return nil, fmt.Errorf("%w: %s for agent %s", ErrCurrencyInactive, p.Currency, p.AgentID)
	}

	// Gate 3: effective rate, decimal-safe throughout. The user-facing
	// per-1k price is the canonical rounded figure; the per-token effective
	// rate derives from it exactly.
	rate, err := e.rates.GetRate(ctx, e.base, p.Currency)
	if err != nil {
		return nil, err
	}

	var spreadBps, per1k decimal.Decimal
	switch p.Type {
	case model.QuoteBuyFromAgent:
		// User buys from the agent: ask side.
		spreadBps = rs.AskSpreadBps
		per1k = AskPer1K(rate.Rate, rs.AskSpreadBps, rs.FxBufferBps)
	case model.QuoteSellToAgent:
		// User sells to the agent: bid side.
		spreadBps = rs.BidSpreadBps
		per1k = BidPer1K(rate.Rate, rs.BidSpreadBps, rs.FxBufferBps)
	}
	effRate := per1k.Shift(-3) // exact per-token rate

	// Gate 4: derive the missing amount and enforce precision bounds.
	tokenAmount, fiatAmount, err := e.deriveAmounts(p, effRate)
	if err != nil {
		metrics.IncQuote(string(p.Type), "precision_rejected")
		return nil, err
	}
	if !tokenAmount.IsPositive() || !fiatAmount.IsPositive() {
		metrics.IncQuote(string(p.Type), "non_positive")
		return nil, &OrderBoundsError{Reason: BoundNonPositiveAmount, Actual: tokenAmount}
	}

	// Gate 5: implied USD order value within [min, max]. One token anchors
	// at 1.0 USD, so the token amount is the USD value.
	usdValue := tokenAmount.Mul(Anchor)
	if usdValue.LessThan(rs.MinOrderUSD) {
		metrics.IncQuote(string(p.Type), "below_minimum")
		return nil, &OrderBoundsError{Reason: BoundBelowMinimum, Actual: usdValue, Limit: rs.MinOrderUSD}
	}
	if usdValue.GreaterThan(rs.MaxOrderUSD) {
		metrics.IncQuote(string(p.Type), "above_maximum")
		return nil, &OrderBoundsError{Reason: BoundAboveMaximum, Actual: usdValue, Limit: rs.MaxOrderUSD}
	}

	// Gate 6: inventory. Only applies when the agent's tokens flow out.
	// Quotes reserve nothing; settlement makes the final balance check.
	if p.Type == model.QuoteBuyFromAgent && tokenAmount.GreaterThan(agent.TkoinBalance) {
		metrics.IncQuote(string(p.Type), "insufficient_inventory")
		return nil, &OrderBoundsError{
			Reason: BoundInsufficientInventory,
			Actual: tokenAmount,
			Limit:  agent.TkoinBalance,
		}
	}

	// Gate 7: persist with status active.
	now := e.now().UTC()
	q := model.Quote{
		ID:            uuid.NewString(),
		AgentID:       p.AgentID,
		Currency:      p.Currency,
		Type:          p.Type,
		TokenAmount:   tokenAmount,
		FiatAmount:    fiatAmount,
		EffectiveRate: effRate,
		AnchorRate:    Anchor,
		FxBaseRate:    rate.Rate,
		SpreadBps:     spreadBps,
		FxBufferBps:   rs.FxBufferBps,
		ExpiresAt:     now.Add(rs.QuoteTTL),
		Status:        model.QuoteActive,
		CreatedAt:     now,
	}
	if err := e.store.InsertQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("persist quote: %w", err)
	}

	metrics.IncQuote(string(p.Type), "created")
	e.logger.Info("quote.created",
		zap.String("quote_id", q.ID),
		zap.String("agent_id", q.AgentID),
		zap.String("currency", q.Currency),
		zap.String("type", string(q.Type)),
		zap.String("token_amount", q.TokenAmount.String()),
		zap.String("fiat_amount", q.FiatAmount.String()),
		zap.Time("expires_at", q.ExpiresAt))

	if e.events != nil {
		e.events.QuoteCreated(ctx, model.QuoteCreatedEvent{
			QuoteID:       q.ID,
			AgentID:       q.AgentID,
			Currency:      q.Currency,
			Type:          q.Type,
			TokenAmount:   q.TokenAmount,
			FiatAmount:    q.FiatAmount,
			EffectiveRate: q.EffectiveRate,
			ExpiresAt:     q.ExpiresAt,
			Timestamp:     now,
		})
	}
	return &q, nil
}

// deriveAmounts fills in whichever of the two amounts was not supplied.
// Rounding direction always favours the platform: token payouts round down,
// fiat charges round up, and vice versa.
func (e *Engine) deriveAmounts(p CreateQuoteParams, effRate decimal.Decimal) (token, fiat decimal.Decimal, err error) {
	if err := CheckTokenPrecision("effective_rate", effRate); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	switch {
	case p.FiatAmount != nil:
		fiat = *p.FiatAmount
		raw := fiat.DivRound(effRate, TokenFracDigits+4)
		if p.Type == model.QuoteBuyFromAgent {
			// Tokens leaving the platform round down.
			token = floorToPlaces(raw, TokenFracDigits)
		} else {
			// Tokens owed to the platform round up.
			token = ceilToPlaces(raw, TokenFracDigits)
		}
	default:
		token = *p.TokenAmount
		raw := token.Mul(effRate)
		if p.Type == model.QuoteBuyFromAgent {
			// Fiat owed to the platform rounds up.
			fiat = CeilToCents(raw)
		} else {
			// Fiat leaving the platform rounds down.
			fiat = FloorToCents(raw)
		}
	}

	if err := CheckTokenPrecision("token_amount", token); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	if err := CheckFiatPrecision("fiat_amount", fiat); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return token, fiat, nil
}

// ValidateQuote checks a quote immediately before redemption. Not-found is a
// hard failure; every other non-redeemable state returns false. Expiry is
// lazy: the first read past the deadline transitions the quote to expired.
// FX drift beyond tolerance is logged for TTL/buffer tuning but does not by
// itself invalidate the quote; the TTL is the sole hard expiry mechanism.
func (e *Engine) ValidateQuote(ctx context.Context, id string) (bool, error) {
	q, err := e.store.GetQuote(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.IncQuoteValidation("not_found")
			return false, fmt.Errorf("%w: %s", ErrQuoteNotFound, id)
		}
		return false, fmt.Errorf("load quote %s: %w", id, err)
	}

	if q.Status != model.QuoteActive {
		metrics.IncQuoteValidation("not_active")
		return false, nil
	}

	now := e.now().UTC()
	if now.After(q.ExpiresAt) {
		if err := e.store.TransitionQuoteStatus(ctx, id, model.QuoteActive, model.QuoteExpired); err != nil {
			if !errors.Is(err, store.ErrStatusConflict) {
				return false, fmt.Errorf("expire quote %s: %w", id, err)
			}
			// Lost the race to another transition; either way not active.
		}
		metrics.IncQuoteValidation("expired")
		e.logger.Info("quote.expired",
			zap.String("quote_id", id),
			zap.Time("expires_at", q.ExpiresAt))
		if e.events != nil {
			e.events.QuoteExpired(ctx, model.QuoteExpiredEvent{
				QuoteID:   id,
				AgentID:   q.AgentID,
				ExpiredAt: q.ExpiresAt,
				Timestamp: now,
			})
		}
		return false, nil
	}

	if !q.FxBaseRate.IsZero() {
		e.checkDrift(ctx, q)
	}

	metrics.IncQuoteValidation("valid")
	return true, nil
}

// checkDrift compares the quote's FX snapshot against the current rate.
// Purely an observability signal.
func (e *Engine) checkDrift(ctx context.Context, q *model.Quote) {
	rate, err := e.rates.GetRate(ctx, e.base, q.Currency)
	if err != nil {
		e.logger.Warn("quote.drift_check_skipped",
			zap.String("quote_id", q.ID),
			zap.Error(err))
		return
	}

	driftBps := rate.Rate.Sub(q.FxBaseRate).Abs().
		Div(q.FxBaseRate).
		Shift(4)
	driftFloat, _ := driftBps.Float64()
	metrics.ObserveQuoteDrift(driftFloat)

	if driftBps.GreaterThan(e.driftToleranceBps) {
		e.logger.Warn("quote.fx_drift_exceeded",
			zap.String("quote_id", q.ID),
			zap.String("currency", q.Currency),
			zap.String("snapshot_rate", q.FxBaseRate.String()),
			zap.String("current_rate", rate.Rate.String()),
			zap.String("drift_bps", driftBps.StringFixed(1)),
			zap.String("tolerance_bps", e.driftToleranceBps.String()))
	}
}

func (e *Engine) loadActiveAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return nil, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if agent.Status != model.AgentActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrAgentInactive, agentID, agent.Status)
	}
	return agent, nil
}
