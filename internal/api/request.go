package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// CreateQuoteRequest is the POST /api/v1/quotes body.
type CreateQuoteRequest struct {
	AgentID     string           `json:"agent_id"`
	Currency    string           `json:"currency"`
	Type        string           `json:"type"`
	FiatAmount  *decimal.Decimal `json:"fiat_amount,omitempty"`
	TokenAmount *decimal.Decimal `json:"token_amount,omitempty"`
}

// Validate performs shape-level validation before the engine's business
// gates run.
func (r *CreateQuoteRequest) Validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if len(r.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	switch model.QuoteType(r.Type) {
	case model.QuoteBuyFromAgent, model.QuoteSellToAgent:
	default:
		return fmt.Errorf("type must be %q or %q", model.QuoteBuyFromAgent, model.QuoteSellToAgent)
	}
	if (r.FiatAmount == nil) == (r.TokenAmount == nil) {
		return fmt.Errorf("exactly one of fiat_amount or token_amount is required")
	}
	return nil
}
