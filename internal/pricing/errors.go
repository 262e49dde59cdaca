package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAgentNotFound means the referenced agent record does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentInactive means the agent exists but is not in active status.
	ErrAgentInactive = errors.New("agent is not active")

	// ErrCurrencyInactive means the agent has not opted into the currency;
	// display pricing may still be computed but orders are rejected.
	ErrCurrencyInactive = errors.New("currency is not active for agent")

	// ErrQuoteNotFound is a hard failure, distinct from an invalid quote.
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrAmountInput means the caller supplied neither or both of the fiat
	// and token amount inputs; exactly one is required.
	ErrAmountInput = errors.New("exactly one of fiatAmount or tokenAmount is required")

	// ErrInvalidQuoteType means the quote type is not a known direction.
	ErrInvalidQuoteType = errors.New("invalid quote type")
)

// Order bounds rejection reasons.
const (
	BoundBelowMinimum          = "below_minimum"
	BoundAboveMaximum          = "above_maximum"
	BoundInsufficientInventory = "insufficient_inventory"
	BoundNonPositiveAmount     = "non_positive_amount"
)

// OrderBoundsError reports an order outside its business limits, carrying
// the actual and limit values so the caller can correct the request.
type OrderBoundsError struct {
	Reason string
	Actual decimal.Decimal
	Limit  decimal.Decimal
}

func (e *OrderBoundsError) Error() string {
	switch e.Reason {
	case BoundBelowMinimum:
		return fmt.Sprintf("order value %s below minimum %s", e.Actual, e.Limit)
	case BoundAboveMaximum:
		return fmt.Sprintf("order value %s above maximum %s", e.Actual, e.Limit)
	case BoundInsufficientInventory:
		return fmt.Sprintf("insufficient inventory: %s requested, %s available", e.Actual, e.Limit)
	case BoundNonPositiveAmount:
		return fmt.Sprintf("order amount %s must be positive", e.Actual)
	}
	return fmt.Sprintf("order bounds violation: %s (actual %s, limit %s)", e.Reason, e.Actual, e.Limit)
}

// PrecisionError reports a computed value that exceeds the fixed-point digit
// bounds. It is a hard rejection: silently truncating would lose value in
// storage.
type PrecisionError struct {
	Field      string
	Value      decimal.Decimal
	IntDigits  int32
	FracDigits int32
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("%s value %s exceeds precision bounds (%d integer, %d fractional digits)",
		e.Field, e.Value, e.IntDigits, e.FracDigits)
}
