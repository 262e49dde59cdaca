package fxprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tkoinhq/pricing-engine/internal/httpclient"
	"github.com/tkoinhq/pricing-engine/internal/rate"
)

// Client wraps low-level HTTP communication with the external FX rate
// provider. The provider is treated as untrusted input: a fetch is only
// accepted if every expected currency is present with a positive rate,
// otherwise the whole batch is rejected.
type Client struct {
	logger *zap.Logger
	exec   *httpclient.Executor
}

// NewClient constructs a new FX provider client.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, timeout time.Duration, retryMax int) *Client {
	httpClient := &http.Client{Timeout: timeout}
	exec := httpclient.New(logger, rateMgr, httpClient, retryMax, "fxprovider", func(status int, body []byte) error {
		var errResp providerErrorResponse
		_ = json.Unmarshal(body, &errResp)

		logger.Warn("fxprovider.client_error",
			zap.Int("status", status),
			zap.String("error", errResp.Error),
			zap.String("message", errResp.Message))

		errMsg := errResp.Message
		if errMsg == "" {
			errMsg = errResp.Error
		}
		if errMsg == "" {
			errMsg = string(body)
		}
		return fmt.Errorf("fx provider returned %d: %s", status, errMsg)
	})
	return &Client{
		logger: logger,
		exec:   exec,
	}
}

// FetchLatest retrieves the latest rates for base against every currency in
// expected. GET {base_url}/latest?base={base}
//
// The returned map contains exactly the expected currencies. Any missing
// currency or non-positive rate rejects the entire response.
func (c *Client) FetchLatest(ctx context.Context, cfg *ProviderConfig, base string, expected []string) (map[string]decimal.Decimal, time.Time, error) {
	u, err := url.Parse(cfg.BaseURL + "/latest")
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid provider base url: %w", err)
	}
	q := u.Query()
	q.Set("base", base)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	req.Header.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	var resp latestResponse
	if err := c.exec.DoJSON(ctx, req, "fx:"+base, &resp); err != nil {
		return nil, time.Time{}, err
	}

	if resp.Base != "" && resp.Base != base {
		return nil, time.Time{}, fmt.Errorf("provider returned base %q, requested %q", resp.Base, base)
	}

	rates := make(map[string]decimal.Decimal, len(expected))
	for _, cur := range expected {
		raw, ok := resp.Rates[cur]
		if !ok {
			return nil, time.Time{}, fmt.Errorf("provider response missing currency %s, rejecting batch", cur)
		}
		d, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("provider returned malformed rate for %s: %w", cur, err)
		}
		if !d.IsPositive() {
			return nil, time.Time{}, fmt.Errorf("provider returned non-positive rate %s for %s, rejecting batch", d, cur)
		}
		rates[cur] = d
	}

	capturedAt := time.Now().UTC()
	if resp.Date != "" {
		if t, err := time.Parse("2006-01-02", resp.Date); err == nil && !t.After(capturedAt) {
			c.logger.Debug("fxprovider.fetch_dated",
				zap.String("base", base),
				zap.String("provider_date", resp.Date))
		}
	}

	return rates, capturedAt, nil
}
