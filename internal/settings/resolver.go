package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/metrics"
	"github.com/tkoinhq/pricing-engine/internal/store"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// ErrAgentNotFound is returned when the agent record does not exist.
var ErrAgentNotFound = errors.New("agent not found")

// Hardcoded constants used when the stored defaults record is missing or
// fails schema validation. These are the floor of the fallback tree; they
// are deliberately conservative.
var (
	constBidSpreadBps  = decimal.NewFromInt(200)
	constAskSpreadBps  = decimal.NewFromInt(200)
	constFxBufferBps   = decimal.NewFromInt(100)
	constMinOrderUSD   = decimal.NewFromInt(10)
	constMaxOrderUSD   = decimal.NewFromInt(5000)
	constDailyLimitUSD = decimal.NewFromInt(10000)
)

const constQuoteTTL = 5 * time.Minute

// Administratively fixed validation ranges for basis-point fields. Any value
// outside them is treated as malformed.
var (
	maxSpreadBps = decimal.NewFromInt(1000)
	maxBufferBps = decimal.NewFromInt(500)
)

const (
	minQuoteTTL = 30 * time.Second
	maxQuoteTTL = time.Hour
)

// Resolver merges per-agent currency overrides with validated global
// defaults and the agent's own global daily limit into one fully populated
// settings object. It never returns partial or missing numeric fields;
// downstream code never branches on shape.
type Resolver struct {
	logger *zap.Logger
	store  store.Store
}

// NewResolver creates a settings resolver backed by the given store.
func NewResolver(logger *zap.Logger, st store.Store) *Resolver {
	return &Resolver{logger: logger, store: st}
}

// Defaults returns the validated global defaults. Each stored field that is
// missing, malformed or out of range falls back to its hardcoded constant
// and the anomaly is logged for operator visibility; the caller never sees
// an error from malformed configuration.
func (r *Resolver) Defaults(ctx context.Context) model.PricingDefaults {
	d := model.PricingDefaults{
		BidSpreadBps:  constBidSpreadBps,
		AskSpreadBps:  constAskSpreadBps,
		FxBufferBps:   constFxBufferBps,
		MinOrderUSD:   constMinOrderUSD,
		MaxOrderUSD:   constMaxOrderUSD,
		DailyLimitUSD: constDailyLimitUSD,
		QuoteTTL:      constQuoteTTL,
	}

	raw, err := r.store.GetPricingDefaults(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("settings.defaults_read_failed", zap.Error(err))
		}
		metrics.IncSettingsFallback("defaults_missing")
		return d
	}

	d.BidSpreadBps = r.defaultField("bid_spread_bps", raw.BidSpreadBps, constBidSpreadBps, decimal.Zero, maxSpreadBps)
	d.AskSpreadBps = r.defaultField("ask_spread_bps", raw.AskSpreadBps, constAskSpreadBps, decimal.Zero, maxSpreadBps)
	d.FxBufferBps = r.defaultField("fx_buffer_bps", raw.FxBufferBps, constFxBufferBps, decimal.Zero, maxBufferBps)
	d.MinOrderUSD = r.defaultField("min_order_usd", raw.MinOrderUSD, constMinOrderUSD, decimal.Zero, decimal.Decimal{})
	d.MaxOrderUSD = r.defaultField("max_order_usd", raw.MaxOrderUSD, constMaxOrderUSD, decimal.Zero, decimal.Decimal{})
	d.DailyLimitUSD = r.defaultField("daily_limit_usd", raw.DailyLimitUSD, constDailyLimitUSD, decimal.Zero, decimal.Decimal{})

	if ttlSecs, perr := strconv.ParseInt(raw.QuoteTTLSeconds, 10, 64); perr == nil {
		ttl := time.Duration(ttlSecs) * time.Second
		if ttl >= minQuoteTTL && ttl <= maxQuoteTTL {
			d.QuoteTTL = ttl
		} else {
			r.anomaly("quote_ttl_seconds", raw.QuoteTTLSeconds)
		}
	} else {
		r.anomaly("quote_ttl_seconds", raw.QuoteTTLSeconds)
	}

	if d.MinOrderUSD.GreaterThan(d.MaxOrderUSD) {
		r.anomaly("min_gt_max", d.MinOrderUSD.String()+">"+d.MaxOrderUSD.String())
		d.MinOrderUSD = constMinOrderUSD
		d.MaxOrderUSD = constMaxOrderUSD
	}

	return d
}

// defaultField validates one stored default. hi may be the zero Decimal to
// skip the upper bound check.
func (r *Resolver) defaultField(name, raw string, fallback, lo, hi decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		r.anomaly(name, raw)
		return fallback
	}
	if d.LessThan(lo) || (!hi.IsZero() && d.GreaterThan(hi)) {
		r.anomaly(name, raw)
		return fallback
	}
	return d
}

func (r *Resolver) anomaly(field, value string) {
	r.logger.Warn("settings.defaults_invalid_field",
		zap.String("field", field),
		zap.String("value", value))
	metrics.IncSettingsFallback("defaults_" + field)
}

// Resolve returns a fully populated, validated settings object for one
// (agent, currency) pair. Resolution order per field: agent override if
// present, then validated default. An agent with no override row at all gets
// the defaults with the currency marked inactive, so display pricing still
// works but order creation is rejected.
func (r *Resolver) Resolve(ctx context.Context, agentID, cur string) (*model.ResolvedSettings, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return nil, fmt.Errorf("load agent %s: %w", agentID, err)
	}

	defaults := r.Defaults(ctx)

	override, err := r.store.GetCurrencySettings(ctx, agentID, cur)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load settings %s/%s: %w", agentID, cur, err)
	}

	resolved := fromDefaults(agentID, cur, defaults)
	if override == nil {
		// No row: currency is inactive for this agent regardless of defaults.
		resolved.Active = false
	} else {
		resolved.Active = override.Active
		applyOverride(resolved, override)

		if reason := violation(resolved); reason != "" {
			// Any failed check discards the override branch as a unit and
			// recomputes entirely from defaults.
			r.logger.Warn("settings.override_discarded",
				zap.String("agent_id", agentID),
				zap.String("currency", cur),
				zap.String("reason", reason))
			metrics.IncSettingsFallback("override_" + reason)
			active := resolved.Active
			resolved = fromDefaults(agentID, cur, defaults)
			resolved.Active = active
		}
	}

	// The agent's global daily limit is a hard ceiling no override can widen.
	if resolved.DailyLimitUSD.GreaterThan(agent.DailyLimitUSD) {
		resolved.DailyLimitUSD = agent.DailyLimitUSD
	}
	// Clamp rather than fail: a max above the capped daily limit is
	// meaningless, not malformed.
	if resolved.MaxOrderUSD.GreaterThan(resolved.DailyLimitUSD) {
		resolved.MaxOrderUSD = resolved.DailyLimitUSD
	}
	if resolved.MinOrderUSD.GreaterThan(resolved.MaxOrderUSD) {
		resolved.MinOrderUSD = resolved.MaxOrderUSD
	}

	return resolved, nil
}

func fromDefaults(agentID, cur string, d model.PricingDefaults) *model.ResolvedSettings {
	return &model.ResolvedSettings{
		AgentID:       agentID,
		Currency:      cur,
		Active:        true,
		BidSpreadBps:  d.BidSpreadBps,
		AskSpreadBps:  d.AskSpreadBps,
		FxBufferBps:   d.FxBufferBps,
		MinOrderUSD:   d.MinOrderUSD,
		MaxOrderUSD:   d.MaxOrderUSD,
		DailyLimitUSD: d.DailyLimitUSD,
		QuoteTTL:      d.QuoteTTL,
	}
}

func applyOverride(rs *model.ResolvedSettings, ov *model.CurrencyPricingSettings) {
	if ov.BidSpreadBps != nil {
		rs.BidSpreadBps = *ov.BidSpreadBps
	}
	if ov.AskSpreadBps != nil {
		rs.AskSpreadBps = *ov.AskSpreadBps
	}
	if ov.FxBufferBps != nil {
		rs.FxBufferBps = *ov.FxBufferBps
	}
	if ov.MinOrderUSD != nil {
		rs.MinOrderUSD = *ov.MinOrderUSD
	}
	if ov.MaxOrderUSD != nil {
		rs.MaxOrderUSD = *ov.MaxOrderUSD
	}
	if ov.DailyLimitUSD != nil {
		rs.DailyLimitUSD = *ov.DailyLimitUSD
	}
}

// violation returns a non-empty reason if the resolved values fail the
// post-resolution checks that guard against a bad override row.
func violation(rs *model.ResolvedSettings) string {
	switch {
	case rs.BidSpreadBps.IsNegative() || rs.BidSpreadBps.GreaterThan(maxSpreadBps):
		return "bid_spread_out_of_range"
	case rs.AskSpreadBps.IsNegative() || rs.AskSpreadBps.GreaterThan(maxSpreadBps):
		return "ask_spread_out_of_range"
	case rs.FxBufferBps.IsNegative() || rs.FxBufferBps.GreaterThan(maxBufferBps):
		return "fx_buffer_out_of_range"
	case rs.MinOrderUSD.IsNegative() || rs.MaxOrderUSD.IsNegative() || rs.DailyLimitUSD.IsNegative():
		return "negative_order_bound"
	case rs.MinOrderUSD.GreaterThan(rs.MaxOrderUSD):
		return "min_exceeds_max"
	}
	return ""
}
