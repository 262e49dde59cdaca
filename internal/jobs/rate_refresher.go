package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/ratecache"
	"github.com/tkoinhq/pricing-engine/internal/store"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

// EventSink receives refresh notifications. May be nil.
type EventSink interface {
	RatesRefreshed(ctx context.Context, ev model.RatesRefreshedEvent)
}

// RateRefresher keeps the FX cache warm so the read path rarely has to
// refresh inline, and garbage-collects superseded samples past the
// retention window.
type RateRefresher struct {
	logger    *zap.Logger
	cache     *ratecache.Cache
	store     store.Store
	events    EventSink
	base      string
	source    string
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
}

// NewRateRefresher constructs the background refresh job.
func NewRateRefresher(logger *zap.Logger, cache *ratecache.Cache, st store.Store,
	events EventSink, base, source string, interval, retention time.Duration) *RateRefresher {
	return &RateRefresher{
		logger:    logger,
		cache:     cache,
		store:     st,
		events:    events,
		base:      base,
		source:    source,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the refresh loop. An immediate refresh happens at startup so
// the cache is warm before the first request.
func (r *RateRefresher) Start(ctx context.Context) {
	r.logger.Info("rate_refresher.started",
		zap.String("base", r.base),
		zap.Duration("interval", r.interval))

	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("rate_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("rate_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop signals the refresher to stop gracefully.
func (r *RateRefresher) Stop() {
	close(r.stopCh)
}

func (r *RateRefresher) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	if err := r.cache.Refresh(ctx, r.base); err != nil {
		// The read path still has the staleness-tier fallback; this loop
		// just reports and waits for the next tick.
		r.logger.Warn("rate_refresher.refresh_failed",
			zap.String("base", r.base),
			zap.Error(err))
	} else if r.events != nil {
		r.events.RatesRefreshed(ctx, model.RatesRefreshedEvent{
			Base:       r.base,
			Currencies: r.cache.Currencies().Codes(),
			Source:     r.source,
			CapturedAt: now,
			Timestamp:  now,
		})
	}

	pruned, err := r.store.PruneRateSamples(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.Warn("rate_refresher.prune_failed", zap.Error(err))
		return
	}
	if pruned > 0 {
		r.logger.Info("rate_refresher.pruned_samples", zap.Int64("count", pruned))
	}
}
