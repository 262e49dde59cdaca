package ratecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/currency"
	"github.com/tkoinhq/pricing-engine/internal/fxprovider"
	"github.com/tkoinhq/pricing-engine/internal/store"
	"github.com/tkoinhq/pricing-engine/pkg/model"
)

type fakeStore struct {
	store.Store

	samples  map[string]model.FxRateSample
	replaced int
}

func newFakeStore() *fakeStore {
	return &fakeStore{samples: make(map[string]model.FxRateSample)}
}

func (f *fakeStore) LatestRateSample(_ context.Context, base, quote string) (*model.FxRateSample, error) {
	sm, ok := f.samples[base+":"+quote]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sm, nil
}

func (f *fakeStore) ReplaceRateSamples(_ context.Context, _ string, samples []model.FxRateSample) error {
	f.replaced++
	for _, sm := range samples {
		f.samples[sm.Base+":"+sm.Quote] = sm
	}
	return nil
}

type fakeProvider struct {
	rates      map[string]decimal.Decimal
	err        error
	calls      int
	capturedAt func() time.Time
}

func (p *fakeProvider) FetchLatest(context.Context, *fxprovider.ProviderConfig, string, []string) (map[string]decimal.Decimal, time.Time, error) {
	p.calls++
	if p.err != nil {
		return nil, time.Time{}, p.err
	}
	return p.rates, p.capturedAt(), nil
}

type staticResolver struct{}

func (staticResolver) Resolve(context.Context) (*fxprovider.ProviderConfig, error) {
	return &fxprovider.ProviderConfig{BaseURL: "http://provider.test", Source: "test"}, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func allRates(v string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, c := range currency.Default().Codes() {
		out[c] = dec(v)
	}
	return out
}

type fixture struct {
	store    *fakeStore
	provider *fakeProvider
	cache    *Cache
	now      time.Time
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	fx := &fixture{
		store: newFakeStore(),
		now:   time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	fx.provider = &fakeProvider{
		rates:      allRates("56.50"),
		capturedAt: func() time.Time { return fx.now },
	}
	fx.cache = New(zap.NewNop(), fx.store, fx.provider, staticResolver{},
		currency.Default(), ttl, WithClock(func() time.Time { return fx.now }))
	return fx
}

func (fx *fixture) seed(quote, rate string, capturedAt time.Time) {
	fx.store.samples["USD:"+quote] = model.FxRateSample{
		Base: "USD", Quote: quote, Rate: dec(rate),
		Source: "test", CapturedAt: capturedAt,
	}
}

func TestGetRate_FreshServedWithoutRefresh(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	fx.seed("PHP", "56.50", fx.now.Add(-time.Hour))

	md, err := fx.cache.GetRate(context.Background(), "USD", "PHP")
	require.NoError(t, err)

	assert.True(t, md.Rate.Equal(dec("56.50")))
	assert.False(t, md.IsStale)
	assert.InDelta(t, 1.0, md.AgeHours, 0.001)
	assert.Equal(t, 0, fx.provider.calls, "fresh sample must not trigger a fetch")
}

func TestGetRate_StaleTriggersRefresh(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	fx.seed("PHP", "55.00", fx.now.Add(-30*time.Hour))
	fx.provider.rates = allRates("57.25")

	md, err := fx.cache.GetRate(context.Background(), "USD", "PHP")
	require.NoError(t, err)

	assert.True(t, md.Rate.Equal(dec("57.25")), "refresh result served, got %s", md.Rate)
	assert.False(t, md.IsStale)
	assert.Equal(t, 1, fx.provider.calls)
	assert.Equal(t, 1, fx.store.replaced)
}

func TestGetRate_StaleServedFlaggedWhenRefreshFails(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	fx.seed("PHP", "55.00", fx.now.Add(-30*time.Hour))
	fx.provider.err = errors.New("provider down")

	md, err := fx.cache.GetRate(context.Background(), "USD", "PHP")
	require.NoError(t, err)

	assert.True(t, md.Rate.Equal(dec("55.00")))
	assert.True(t, md.IsStale)
	assert.InDelta(t, 30.0, md.AgeHours, 0.001)
}

func TestGetRate_BeyondCeilingNeverServed(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	fx.seed("PHP", "55.00", fx.now.Add(-49*time.Hour))
	fx.provider.err = errors.New("provider down")

	_, err := fx.cache.GetRate(context.Background(), "USD", "PHP")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestGetRate_BeyondCeilingRecoversViaRefresh(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	fx.seed("PHP", "55.00", fx.now.Add(-72*time.Hour))

	md, err := fx.cache.GetRate(context.Background(), "USD", "PHP")
	require.NoError(t, err)
	assert.True(t, md.Rate.Equal(dec("56.50")))
	assert.False(t, md.IsStale)
}

func TestGetRate_NoSampleAndRefreshFails(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	fx.provider.err = errors.New("provider down")

	_, err := fx.cache.GetRate(context.Background(), "USD", "PHP")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestGetRate_UnsupportedCurrency(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)

	_, err := fx.cache.GetRate(context.Background(), "USD", "XYZ")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
	assert.Equal(t, 0, fx.provider.calls)
}

// A hard outage walks one sample through all three tiers as the clock
// advances: fresh, then stale-but-served, then refused.
func TestGetRate_OutageProgression(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	captured := fx.now
	fx.seed("PHP", "56.50", captured)
	fx.provider.err = errors.New("provider down")
	ctx := context.Background()

	fx.now = captured.Add(12 * time.Hour)
	md, err := fx.cache.GetRate(ctx, "USD", "PHP")
	require.NoError(t, err)
	assert.False(t, md.IsStale)

	fx.now = captured.Add(36 * time.Hour)
	md, err = fx.cache.GetRate(ctx, "USD", "PHP")
	require.NoError(t, err)
	assert.True(t, md.IsStale)

	fx.now = captured.Add(48 * time.Hour)
	_, err = fx.cache.GetRate(ctx, "USD", "PHP")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestGetAllRates_SingleRefreshForBatch(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	// Every supported currency is stale; one fetch covers them all.
	for _, c := range currency.Default().Codes() {
		fx.seed(c, "50.00", fx.now.Add(-30*time.Hour))
	}

	rates, err := fx.cache.GetAllRates(context.Background(), "USD")
	require.NoError(t, err)

	assert.Len(t, rates, currency.Default().Len())
	assert.Equal(t, 1, fx.provider.calls, "batch must refresh at most once")
	for c, md := range rates {
		assert.True(t, md.Rate.Equal(dec("56.50")), "currency %s", c)
		assert.False(t, md.IsStale)
	}
}

func TestGetAllRates_FailsWhenAnyCurrencyUnusable(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)
	fx.provider.err = errors.New("provider down")
	for _, c := range currency.Default().Codes() {
		fx.seed(c, "50.00", fx.now.Add(-30*time.Hour))
	}
	// One currency past the hard ceiling poisons the whole board.
	fx.seed("EUR", "0.90", fx.now.Add(-50*time.Hour))

	_, err := fx.cache.GetAllRates(context.Background(), "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
	assert.Equal(t, 1, fx.provider.calls, "failed refresh must not be retried per currency")
}

func TestRefresh_PersistsFullBatch(t *testing.T) {
	fx := newFixture(t, 24*time.Hour)

	require.NoError(t, fx.cache.Refresh(context.Background(), "USD"))

	assert.Equal(t, currency.Default().Len(), len(fx.store.samples))
	sm := fx.store.samples["USD:PHP"]
	assert.Equal(t, "test", sm.Source)
	assert.Equal(t, fx.now, sm.CapturedAt)
}
