package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks rate cache reads by the staleness tier that answered them.
	RatesServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_rates_served_total",
			Help: "Rate cache reads by outcome (fresh, refreshed, stale, unavailable).",
		},
		[]string{"tier"},
	)

	// Tracks batch refreshes against the FX provider.
	RateRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_rate_refresh_total",
			Help: "FX rate batch refresh attempts by base currency and result.",
		},
		[]string{"base", "result"},
	)

	RateRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fx_rate_refresh_duration_seconds",
			Help:    "Duration of FX rate batch refreshes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms → ~40s
		},
		[]string{"base"},
	)

	// Tracks quote creation outcomes.
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotes_total",
			Help: "Quote creation attempts by type and result.",
		},
		[]string{"type", "result"}, // result = "created" | rejection reason
	)

	// Tracks quote validations just before redemption.
	QuoteValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_validations_total",
			Help: "Quote validation checks by outcome.",
		},
		[]string{"outcome"}, // valid | expired | not_active | not_found
	)

	// Observed FX drift between a quote's snapshot and the current rate,
	// in basis points. Feeds TTL and buffer tuning.
	QuoteFxDriftBps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quote_fx_drift_bps",
			Help:    "Absolute FX drift between quote snapshot and current rate, in basis points.",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800},
		},
	)

	// Tracks settings resolutions that fell back to defaults.
	SettingsFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_fallback_total",
			Help: "Settings resolutions that discarded the override branch, by reason.",
		},
		[]string{"reason"},
	)
)

// IncRateServed records a rate cache read outcome.
func IncRateServed(tier string) {
	RatesServedTotal.WithLabelValues(tier).Inc()
}

// IncRefresh records a batch refresh attempt.
func IncRefresh(base, result string) {
	RateRefreshTotal.WithLabelValues(base, result).Inc()
}

// ObserveRefreshDuration records how long a batch refresh took.
func ObserveRefreshDuration(base string, start time.Time) {
	RateRefreshDuration.WithLabelValues(base).Observe(time.Since(start).Seconds())
}

// IncQuote records a quote creation outcome.
func IncQuote(quoteType, result string) {
	QuotesTotal.WithLabelValues(quoteType, result).Inc()
}

// IncQuoteValidation records a quote validation outcome.
func IncQuoteValidation(outcome string) {
	QuoteValidationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveQuoteDrift records observed FX drift for a validated quote.
func ObserveQuoteDrift(bps float64) {
	QuoteFxDriftBps.Observe(bps)
}

// IncSettingsFallback records a discarded settings override branch.
func IncSettingsFallback(reason string) {
	SettingsFallbackTotal.WithLabelValues(reason).Inc()
}
