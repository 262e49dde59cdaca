package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FxRateSample is one cached observation of an exchange rate for a currency
// pair. Samples are append-only: a newer capture supersedes an older one, it
// never mutates it. Only the most recently captured sample per pair is
// authoritative.
type FxRateSample struct {
	ID         int64           `json:"id,omitempty"`
	Base       string          `json:"base"`
	Quote      string          `json:"quote"`
	Rate       decimal.Decimal `json:"rate"`
	Source     string          `json:"source"`
	CapturedAt time.Time       `json:"captured_at"`
}

// RateWithMetadata is the read-side view of a sample as served by the rate
// cache, including its staleness classification.
type RateWithMetadata struct {
	Rate       decimal.Decimal `json:"rate"`
	AgeHours   float64         `json:"age_hours"`
	IsStale    bool            `json:"is_stale"`
	CapturedAt time.Time       `json:"captured_at"`
	Source     string          `json:"source"`
}

// AgentStatus is the lifecycle status of an exchange agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
	AgentPending   AgentStatus = "pending"
)

// Agent is the subset of the agent record the pricing engine reads from
// storage: identity, status, token inventory and the global daily limit that
// caps every per-currency limit.
type Agent struct {
	AgentID       string          `json:"agent_id"`
	Status        AgentStatus     `json:"status"`
	TkoinBalance  decimal.Decimal `json:"tkoin_balance"`
	DailyLimitUSD decimal.Decimal `json:"daily_limit_usd"`
}

// CurrencyPricingSettings is the per (agent, currency) override row. Numeric
// fields are pointers because any of them may be absent; the settings
// resolver substitutes validated defaults for missing values.
type CurrencyPricingSettings struct {
	AgentID       string           `json:"agent_id"`
	Currency      string           `json:"currency"`
	BidSpreadBps  *decimal.Decimal `json:"bid_spread_bps,omitempty"`
	AskSpreadBps  *decimal.Decimal `json:"ask_spread_bps,omitempty"`
	FxBufferBps   *decimal.Decimal `json:"fx_buffer_bps,omitempty"`
	MinOrderUSD   *decimal.Decimal `json:"min_order_usd,omitempty"`
	MaxOrderUSD   *decimal.Decimal `json:"max_order_usd,omitempty"`
	DailyLimitUSD *decimal.Decimal `json:"daily_limit_usd,omitempty"`
	Active        bool             `json:"active"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// PricingDefaults is the single global defaults record. Schema-validated on
// every read; malformed values fall back to hardcoded constants.
type PricingDefaults struct {
	BidSpreadBps  decimal.Decimal `json:"bid_spread_bps"`
	AskSpreadBps  decimal.Decimal `json:"ask_spread_bps"`
	FxBufferBps   decimal.Decimal `json:"fx_buffer_bps"`
	MinOrderUSD   decimal.Decimal `json:"min_order_usd"`
	MaxOrderUSD   decimal.Decimal `json:"max_order_usd"`
	DailyLimitUSD decimal.Decimal `json:"daily_limit_usd"`
	QuoteTTL      time.Duration   `json:"quote_ttl"`
}

// ResolvedSettings is the fully-populated output of the settings resolver.
// No field is ever missing or NaN; min <= max <= dailyLimit always holds.
type ResolvedSettings struct {
	AgentID       string          `json:"agent_id"`
	Currency      string          `json:"currency"`
	Active        bool            `json:"active"`
	BidSpreadBps  decimal.Decimal `json:"bid_spread_bps"`
	AskSpreadBps  decimal.Decimal `json:"ask_spread_bps"`
	FxBufferBps   decimal.Decimal `json:"fx_buffer_bps"`
	MinOrderUSD   decimal.Decimal `json:"min_order_usd"`
	MaxOrderUSD   decimal.Decimal `json:"max_order_usd"`
	DailyLimitUSD decimal.Decimal `json:"daily_limit_usd"`
	QuoteTTL      time.Duration   `json:"quote_ttl"`
}

// QuoteType distinguishes the direction of a quote from the counterparty's
// point of view.
type QuoteType string

const (
	// QuoteBuyFromAgent: the user buys tokens from the agent. The agent's
	// inventory is drawn down, so the ask price applies.
	QuoteBuyFromAgent QuoteType = "buy_from_agent"
	// QuoteSellToAgent: the user sells tokens to the agent. The bid price
	// applies; no inventory check.
	QuoteSellToAgent QuoteType = "sell_to_agent"
)

// QuoteStatus is the quote lifecycle state. Expired and used are terminal.
type QuoteStatus string

const (
	QuoteActive  QuoteStatus = "active"
	QuoteExpired QuoteStatus = "expired"
	QuoteUsed    QuoteStatus = "used"
)

// Quote is a frozen, time-locked, single-use price offer. EffectiveRate is
// derived from the FX base rate, the anchor and the spread snapshot; it is
// never set independently.
type Quote struct {
	ID            string          `json:"id"`
	AgentID       string          `json:"agent_id"`
	Currency      string          `json:"currency"`
	Type          QuoteType       `json:"type"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`
	AnchorRate    decimal.Decimal `json:"anchor_rate"`
	FxBaseRate    decimal.Decimal `json:"fx_base_rate"`
	SpreadBps     decimal.Decimal `json:"spread_bps"`
	FxBufferBps   decimal.Decimal `json:"fx_buffer_bps"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Status        QuoteStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AgentPricing is the per-agent, per-currency pricing view returned by the
// pricing API.
type AgentPricing struct {
	Currency           string          `json:"currency"`
	IsActive           bool            `json:"is_active"`
	BidPricePer1K      decimal.Decimal `json:"bid_price_per_1k_tokens"`
	AskPricePer1K      decimal.Decimal `json:"ask_price_per_1k_tokens"`
	Margin             decimal.Decimal `json:"margin"`
	FxRate             decimal.Decimal `json:"fx_rate"`
	FxRateAgeHours     float64         `json:"fx_rate_age_hours"`
	FxRateStale        bool            `json:"fx_rate_stale"`
	BidSpreadBps       decimal.Decimal `json:"bid_spread_bps"`
	AskSpreadBps       decimal.Decimal `json:"ask_spread_bps"`
	FxBufferBps        decimal.Decimal `json:"fx_buffer_bps"`
	MinOrderUSD        decimal.Decimal `json:"min_order_usd"`
	MaxOrderUSD        decimal.Decimal `json:"max_order_usd"`
	DailyLimitUSD      decimal.Decimal `json:"daily_limit_usd"`
	AgentDailyLimitUSD decimal.Decimal `json:"agent_daily_limit_usd"`
}

// PublicRate is the unauthenticated per-currency rate display entry.
type PublicRate struct {
	FxRate   decimal.Decimal `json:"fx_rate"`
	MidPrice decimal.Decimal `json:"mid_price"`
	BidPrice decimal.Decimal `json:"bid_price"`
	AskPrice decimal.Decimal `json:"ask_price"`
}

// PublicRates is the full public rate board.
type PublicRates struct {
	Base      string                `json:"base"`
	Timestamp time.Time             `json:"timestamp"`
	Rates     map[string]PublicRate `json:"rates"`
}
