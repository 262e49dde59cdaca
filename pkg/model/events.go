package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Envelope is the canonical event envelope. All messages published to NATS
// follow this format.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// QuoteCreatedEvent is emitted after a quote is persisted, for downstream
// settlement to pick up.
type QuoteCreatedEvent struct {
	QuoteID       string          `json:"quote_id"`
	AgentID       string          `json:"agent_id"`
	Currency      string          `json:"currency"`
	Type          QuoteType       `json:"type"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Timestamp     time.Time       `json:"timestamp"`
}

// QuoteExpiredEvent is emitted when validation observes a quote past its TTL
// and transitions it to expired.
type QuoteExpiredEvent struct {
	QuoteID   string    `json:"quote_id"`
	AgentID   string    `json:"agent_id"`
	ExpiredAt time.Time `json:"expired_at"`
	Timestamp time.Time `json:"timestamp"`
}

// RatesRefreshedEvent is emitted after a successful batch refresh replaces
// the cached samples for a base currency.
type RatesRefreshedEvent struct {
	Base       string    `json:"base"`
	Currencies []string  `json:"currencies"`
	Source     string    `json:"source"`
	CapturedAt time.Time `json:"captured_at"`
	Timestamp  time.Time `json:"timestamp"`
}
