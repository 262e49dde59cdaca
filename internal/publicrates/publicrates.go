package publicrates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/pricing"
	"github.com/tkoinhq/pricing-engine/internal/ratecache"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// Publisher is a thin read-only view over the rate cache for unauthenticated
// rate display. One administratively configured spread and buffer apply to
// every supported currency; there is no per-agent logic and no inventory
// check. Failure mode mirrors the rate cache's.
type Publisher struct {
	logger    *zap.Logger
	rates     *ratecache.Cache
	base      string
	spreadBps decimal.Decimal
	bufferBps decimal.Decimal
	now       func() time.Time
}

// New constructs a public rate publisher with the given public spread and
// FX buffer, both in basis points.
func New(logger *zap.Logger, rates *ratecache.Cache, base string, spreadBps, bufferBps int64) *Publisher {
	return &Publisher{
		logger:    logger,
		rates:     rates,
		base:      base,
		spreadBps: decimal.NewFromInt(spreadBps),
		bufferBps: decimal.NewFromInt(bufferBps),
		now:       time.Now,
	}
}

// GetPublicRates returns the public rate board: per-1k-token mid, bid and
// ask for every supported currency.
func (p *Publisher) GetPublicRates(ctx context.Context) (*model.PublicRates, error) {
	all, err := p.rates.GetAllRates(ctx, p.base)
	if err != nil {
		return nil, err
	}

	out := &model.PublicRates{
		Base:      p.base,
		Timestamp: p.now().UTC(),
		Rates:     make(map[string]model.PublicRate, len(all)),
	}
	for cur, md := range all {
		mid := md.Rate.Mul(pricing.Anchor).Mul(decimal.NewFromInt(1000)).Round(2)
		out.Rates[cur] = model.PublicRate{
			FxRate:   md.Rate,
			MidPrice: mid,
			BidPrice: pricing.BidPer1K(md.Rate, p.spreadBps, p.bufferBps),
			AskPrice: pricing.AskPer1K(md.Rate, p.spreadBps, p.bufferBps),
		}
	}
	return out, nil
}
