package pricing

import (
	"github.com/shopspring/decimal"
)

// Anchor is the fixed reference value of one token: 1.0 USD before FX,
// spread and buffer are applied.
var Anchor = decimal.NewFromInt(1)

// Fixed-point precision bounds. Token amounts carry 12 integer and 8
// fractional digits, fiat amounts 18 integer and 2 fractional digits.
const (
	TokenIntDigits  int32 = 12
	TokenFracDigits int32 = 8
	FiatIntDigits   int32 = 18
	FiatFracDigits  int32 = 2
)

var oneThousand = decimal.NewFromInt(1000)

// bpsFraction converts basis points to a fraction exactly (150 bps → 0.015).
func bpsFraction(bps decimal.Decimal) decimal.Decimal {
	return bps.Shift(-4)
}

// BidPerToken returns the unrounded per-token bid price in quote currency:
// fx × anchor × (1 − bidSpread − fxBuffer). The agent buys tokens at this
// price, so spread and buffer are subtracted.
func BidPerToken(fx, bidSpreadBps, fxBufferBps decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).
		Sub(bpsFraction(bidSpreadBps)).
		Sub(bpsFraction(fxBufferBps))
	return fx.Mul(Anchor).Mul(factor)
}

// AskPerToken returns the unrounded per-token ask price in quote currency:
// fx × anchor × (1 + askSpread + fxBuffer).
func AskPerToken(fx, askSpreadBps, fxBufferBps decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).
		Add(bpsFraction(askSpreadBps)).
		Add(bpsFraction(fxBufferBps))
	return fx.Mul(Anchor).Mul(factor)
}

// BidPer1K is the floor-to-cent bid price for 1000 tokens. Flooring the bid
// and ceiling the ask always biases rounding in the platform's favour.
func BidPer1K(fx, bidSpreadBps, fxBufferBps decimal.Decimal) decimal.Decimal {
	return FloorToCents(BidPerToken(fx, bidSpreadBps, fxBufferBps).Mul(oneThousand))
}

// AskPer1K is the ceil-to-cent ask price for 1000 tokens.
func AskPer1K(fx, askSpreadBps, fxBufferBps decimal.Decimal) decimal.Decimal {
	return CeilToCents(AskPerToken(fx, askSpreadBps, fxBufferBps).Mul(oneThousand))
}

// FloorToCents rounds d down to 2 decimal places.
func FloorToCents(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Floor().Shift(-2)
}

// CeilToCents rounds d up to 2 decimal places.
func CeilToCents(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Ceil().Shift(-2)
}

// floorToPlaces rounds d down (toward zero for positives) at the given
// number of fractional digits.
func floorToPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Floor().Shift(-places)
}

// ceilToPlaces rounds d up at the given number of fractional digits.
func ceilToPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Ceil().Shift(-places)
}

// fitsPrecision reports whether d fits within intDigits integer digits and
// fracDigits fractional digits.
func fitsPrecision(d decimal.Decimal, intDigits, fracDigits int32) bool {
	if !d.Truncate(fracDigits).Equal(d) {
		return false
	}
	limit := decimal.New(1, intDigits) // 10^intDigits
	return d.Abs().LessThan(limit)
}

// CheckTokenPrecision validates a token amount against its digit bounds.
func CheckTokenPrecision(field string, d decimal.Decimal) error {
	if !fitsPrecision(d, TokenIntDigits, TokenFracDigits) {
		return &PrecisionError{Field: field, Value: d, IntDigits: TokenIntDigits, FracDigits: TokenFracDigits}
	}
	return nil
}

// CheckFiatPrecision validates a fiat amount against its digit bounds.
func CheckFiatPrecision(field string, d decimal.Decimal) error {
	if !fitsPrecision(d, FiatIntDigits, FiatFracDigits) {
		return &PrecisionError{Field: field, Value: d, IntDigits: FiatIntDigits, FracDigits: FiatFracDigits}
	}
	return nil
}
