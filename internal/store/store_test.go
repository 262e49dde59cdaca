package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/pkg/model"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &HybridStore{redis: rdb, logger: zap.NewNop()}, mr
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func sampleBatch(t *testing.T, capturedAt time.Time) []model.FxRateSample {
	return []model.FxRateSample{
		{Base: "USD", Quote: "PHP", Rate: mustDec(t, "56.50"), Source: "test", CapturedAt: capturedAt},
		{Base: "USD", Quote: "EUR", Rate: mustDec(t, "0.9214"), Source: "test", CapturedAt: capturedAt},
	}
}

func TestReplaceAndLatestRateSample(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.ReplaceRateSamples(ctx, "USD", sampleBatch(t, now)); err != nil {
		t.Fatalf("ReplaceRateSamples failed: %v", err)
	}

	sm, err := store.LatestRateSample(ctx, "USD", "PHP")
	if err != nil {
		t.Fatalf("LatestRateSample failed: %v", err)
	}
	if !sm.Rate.Equal(mustDec(t, "56.50")) {
		t.Errorf("expected rate 56.50, got %s", sm.Rate)
	}
	if sm.Source != "test" {
		t.Errorf("expected source=test, got %s", sm.Source)
	}
	if !sm.CapturedAt.Equal(now) {
		t.Errorf("expected captured_at %v, got %v", now, sm.CapturedAt)
	}
}

func TestReplaceRateSamples_RefusesEmptyBatch(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	if err := store.ReplaceRateSamples(ctx, "USD", nil); err == nil {
		t.Fatal("expected error for empty batch, got nil")
	}
}

func TestReplaceRateSamples_OverwritesPrevious(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	old := time.Now().UTC().Add(-time.Hour)
	if err := store.ReplaceRateSamples(ctx, "USD", sampleBatch(t, old)); err != nil {
		t.Fatalf("first replace failed: %v", err)
	}

	fresh := []model.FxRateSample{
		{Base: "USD", Quote: "PHP", Rate: mustDec(t, "57.10"), Source: "test", CapturedAt: time.Now().UTC()},
		{Base: "USD", Quote: "EUR", Rate: mustDec(t, "0.9300"), Source: "test", CapturedAt: time.Now().UTC()},
	}
	if err := store.ReplaceRateSamples(ctx, "USD", fresh); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}

	sm, err := store.LatestRateSample(ctx, "USD", "PHP")
	if err != nil {
		t.Fatalf("LatestRateSample failed: %v", err)
	}
	if !sm.Rate.Equal(mustDec(t, "57.10")) {
		t.Errorf("expected newest rate 57.10, got %s", sm.Rate)
	}
}

func TestLatestRateSample_NotFound(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	_, err := store.LatestRateSample(ctx, "USD", "PHP")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRateSamplesSurviveIndefinitely(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	if err := store.ReplaceRateSamples(ctx, "USD", sampleBatch(t, time.Now().UTC())); err != nil {
		t.Fatalf("ReplaceRateSamples failed: %v", err)
	}

	// Staleness is a read-side policy: the cached sample must not expire
	// even far past any freshness window.
	mr.FastForward(96 * time.Hour)

	if _, err := store.LatestRateSample(ctx, "USD", "PHP"); err != nil {
		t.Fatalf("sample expired from cache: %v", err)
	}
}

func testQuote(t *testing.T, id string, status model.QuoteStatus) model.Quote {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Quote{
		ID:            id,
		AgentID:       "agent-1",
		Currency:      "PHP",
		Type:          model.QuoteBuyFromAgent,
		TokenAmount:   mustDec(t, "17.14203418"),
		FiatAmount:    mustDec(t, "1000"),
		EffectiveRate: mustDec(t, "58.33625"),
		AnchorRate:    mustDec(t, "1"),
		FxBaseRate:    mustDec(t, "56.50"),
		SpreadBps:     mustDec(t, "250"),
		FxBufferBps:   mustDec(t, "75"),
		ExpiresAt:     now.Add(5 * time.Minute),
		Status:        status,
		CreatedAt:     now,
	}
}

func TestInsertAndGetQuote(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	q := testQuote(t, "q-1", model.QuoteActive)
	if err := store.InsertQuote(ctx, q); err != nil {
		t.Fatalf("InsertQuote failed: %v", err)
	}

	got, err := store.GetQuote(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if got.Status != model.QuoteActive {
		t.Errorf("expected status active, got %s", got.Status)
	}
	if !got.EffectiveRate.Equal(q.EffectiveRate) {
		t.Errorf("expected effective rate %s, got %s", q.EffectiveRate, got.EffectiveRate)
	}
	if !got.TokenAmount.Equal(q.TokenAmount) {
		t.Errorf("expected token amount %s, got %s", q.TokenAmount, got.TokenAmount)
	}
}

func TestGetQuote_NotFound(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	_, err := store.GetQuote(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionQuoteStatus(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	q := testQuote(t, "q-2", model.QuoteActive)
	if err := store.InsertQuote(ctx, q); err != nil {
		t.Fatalf("InsertQuote failed: %v", err)
	}

	if err := store.TransitionQuoteStatus(ctx, "q-2", model.QuoteActive, model.QuoteExpired); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	got, err := store.GetQuote(ctx, "q-2")
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if got.Status != model.QuoteExpired {
		t.Errorf("expected status expired, got %s", got.Status)
	}
}

func TestTransitionQuoteStatus_Conflict(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	q := testQuote(t, "q-3", model.QuoteUsed)
	if err := store.InsertQuote(ctx, q); err != nil {
		t.Fatalf("InsertQuote failed: %v", err)
	}

	err := store.TransitionQuoteStatus(ctx, "q-3", model.QuoteActive, model.QuoteExpired)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	got, _ := store.GetQuote(ctx, "q-3")
	if got.Status != model.QuoteUsed {
		t.Errorf("status must be untouched after conflict, got %s", got.Status)
	}
}

func TestSetAndGetJSON(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	val := map[string]string{"base_url": "https://fx.example.com", "api_key": "abc123"}
	if err := store.SetJSON(ctx, "provider:cfg", val, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got map[string]string
	if err := store.GetJSON(ctx, "provider:cfg", &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got["base_url"] != "https://fx.example.com" {
		t.Errorf("expected base_url round trip, got %s", got["base_url"])
	}
}

func TestSetJSON_Expiration(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	if err := store.SetJSON(ctx, "test:key", map[string]string{"k": "v"}, 200*time.Millisecond); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	mr.FastForward(300 * time.Millisecond)

	var got map[string]string
	if err := store.GetJSON(ctx, "test:key", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired key, got %v", err)
	}
}

func TestPruneRateSamples_NoPostgres(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	n, err := store.PruneRateSamples(ctx, time.Now())
	if err != nil {
		t.Fatalf("PruneRateSamples failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 pruned without postgres, got %d", n)
	}
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	mr.Close()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected error after redis shutdown, got nil")
	}
}
